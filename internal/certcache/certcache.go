// Package certcache is the Certificate Catalog: an SNI-keyed lookup
// from hostname to in-memory TLS credential, consulted by the HTTPS
// listener's tls.Config.GetCertificate callback on every handshake.
//
// Catalog replacement is copy-on-write: Rebuild and Update both construct a
// brand-new index and swap it in with a single atomic pointer store, so a
// handshake in flight keeps using the index it loaded and never observes a
// torn read (odac-run-odac's sslCache map guarded by sync.RWMutex gave the
// same guarantee with a lock; an atomic pointer gives it without one).
package certcache

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ppmgo/ppm/internal/model"
)

type index struct {
	exact    map[string]*tls.Certificate // domain -> cert
	wildcard map[string]*tls.Certificate // suffix after "*." -> cert
}

func newIndex() *index {
	return &index{exact: make(map[string]*tls.Certificate), wildcard: make(map[string]*tls.Certificate)}
}

// Catalog is the read-mostly SNI certificate lookup. The zero value is not
// usable; construct with New.
type Catalog struct {
	idx      atomic.Pointer[index]
	fallback *tls.Certificate
}

// New builds an empty Catalog backed by fallback, the self-signed
// certificate returned for SNI names with no configured match.
func New(fallback *tls.Certificate) *Catalog {
	c := &Catalog{fallback: fallback}
	c.idx.Store(newIndex())
	return c
}

// Rebuild replaces the entire catalog from a fresh certificate list, as the
// Publisher does on every reconcile.
func (c *Catalog) Rebuild(certs []model.Certificate) error {
	next := newIndex()
	for _, cert := range certs {
		tlsCert, err := toTLSCertificate(cert)
		if err != nil {
			return fmt.Errorf("loading certificate %s (%s): %w", cert.ID, cert.Domain, err)
		}
		indexOne(next, cert.Domain, tlsCert)
	}
	c.idx.Store(next)
	return nil
}

// Update replaces a single certificate's entry in place without waiting for
// a full reconcile, the path the ACME Worker uses after a successful
// issuance/renewal to close the "just-renewed but not yet
// selectable" window.
func (c *Catalog) Update(cert model.Certificate) error {
	tlsCert, err := toTLSCertificate(cert)
	if err != nil {
		return fmt.Errorf("loading certificate %s (%s): %w", cert.ID, cert.Domain, err)
	}
	old := c.idx.Load()
	next := &index{
		exact:    cloneMap(old.exact),
		wildcard: cloneMap(old.wildcard),
	}
	indexOne(next, cert.Domain, tlsCert)
	c.idx.Store(next)
	return nil
}

// GetCertificate implements tls.Config.GetCertificate: exact match, then
// wildcard match, then the fallback self-signed certificate.
func (c *Catalog) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := strings.ToLower(hello.ServerName)
	idx := c.idx.Load()

	if cert, ok := idx.exact[name]; ok {
		return cert, nil
	}
	if suffix, ok := wildcardSuffix(name); ok {
		if cert, ok := idx.wildcard[suffix]; ok {
			return cert, nil
		}
	}
	if c.fallback != nil {
		return c.fallback, nil
	}
	return nil, fmt.Errorf("no certificate for %q and no fallback configured", name)
}

// wildcardSuffix turns "billing.apps.test" into "apps.test" — the suffix a
// "*.apps.test" certificate would be indexed under. Only one label is
// stripped: "a.b.example.com" does not match "*.example.com".
func wildcardSuffix(name string) (string, bool) {
	i := strings.IndexByte(name, '.')
	if i < 0 {
		return "", false
	}
	return name[i+1:], true
}

func indexOne(idx *index, domain string, cert *tls.Certificate) {
	domain = strings.ToLower(domain)
	if strings.HasPrefix(domain, "*.") {
		idx.wildcard[strings.TrimPrefix(domain, "*.")] = cert
		return
	}
	idx.exact[domain] = cert
}

func toTLSCertificate(cert model.Certificate) (*tls.Certificate, error) {
	tlsCert, err := tls.X509KeyPair(cert.ChainPEM, cert.KeyPEM)
	if err != nil {
		return nil, err
	}
	return &tlsCert, nil
}

func cloneMap(m map[string]*tls.Certificate) map[string]*tls.Certificate {
	out := make(map[string]*tls.Certificate, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
