package acme

import (
	"context"
	"fmt"
	"os"

	"github.com/miekg/dns"
	"gopkg.in/ini.v1"

	"github.com/ppmgo/ppm/internal/model"
)

// writeCredentialFile materializes a DNS provider's opaque INI credential
// blob to a 0600 temp file for certbot's dns plugin flags. The
// caller must remove the returned path on every exit path.
func writeCredentialFile(provider model.DNSProvider) (string, error) {
	f, err := os.CreateTemp("", "ppm-dns-cred-*.ini")
	if err != nil {
		return "", fmt.Errorf("creating credential temp file: %w", err)
	}
	path := f.Name()
	_ = f.Close()

	if err := os.Chmod(path, 0o600); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("restricting credential file permissions: %w", err)
	}

	cfg, err := ini.Load([]byte(provider.CredINI))
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("parsing dns provider %s credentials: %w", provider.ID, err)
	}
	if err := cfg.SaveTo(path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing credential file: %w", err)
	}
	return path, nil
}

// preflightResolves checks that domain has at least one A or AAAA record
// before an HTTP-01 issuance is attempted, so a DNS misconfiguration fails
// fast with a clear error instead of burning certbot's own retry budget on
// a challenge the validating CA can never reach. Queried against a fixed
// public resolver rather than the OS resolver, since minimal container
// images frequently ship without a usable /etc/resolv.conf.
func preflightResolves(ctx context.Context, domain, nameserver string) error {
	c := new(dns.Client)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(domain), qtype)
		resp, _, err := c.ExchangeContext(ctx, m, nameserver)
		if err != nil {
			continue
		}
		if len(resp.Answer) > 0 {
			return nil
		}
	}
	return fmt.Errorf("domain %s has no A or AAAA record at %s", domain, nameserver)
}
