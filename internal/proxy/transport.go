package proxy

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ppmgo/ppm/internal/model"
)

// connectTimeout and readTimeout bound how long a request can wait on an
// upstream before it's treated as a failure. writeTimeout is declared but not
// applied by the transport pool.
const (
	connectTimeout = 10 * time.Second
	readTimeout    = 60 * time.Second
	writeTimeout   = 60 * time.Second
	totalDeadline  = 120 * time.Second
)

// transportKey identifies one pooled http.Transport. Endpoints that differ
// only by which Host/Location referenced them still share a pool when the
// connection-relevant parameters match.
type transportKey struct {
	scheme model.Scheme
	addr   string
	sni    string
	verify bool
}

// transportPool lazily builds and caches one *http.Transport per distinct
// upstream connection profile. Pools for
// endpoints no longer referenced by any snapshot are never torn down here —
// they self-evict via each Transport's own IdleConnTimeout, matching the
// design note that eager teardown is unnecessary churn.
type transportPool struct {
	mu    sync.RWMutex
	pools map[transportKey]*http.Transport
}

func newTransportPool() *transportPool {
	return &transportPool{pools: make(map[transportKey]*http.Transport)}
}

func (p *transportPool) get(scheme model.Scheme, endpoint model.Endpoint, sni string, verify bool) *http.Transport {
	key := transportKey{scheme: scheme, addr: endpoint.String(), sni: sni, verify: verify}

	p.mu.RLock()
	t, ok := p.pools[key]
	p.mu.RUnlock()
	if ok {
		return t
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.pools[key]; ok {
		return t
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	t = &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: readTimeout,
	}
	if scheme == model.SchemeHTTPS {
		serverName := sni
		if serverName == "" {
			serverName = endpoint.Address
		}
		t.TLSClientConfig = &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: !verify,
		}
	}
	p.pools[key] = t
	return t
}

// dialURL builds the upstream URL for a chosen endpoint.
func dialURL(scheme model.Scheme, endpoint model.Endpoint, path, rawQuery string) string {
	u := fmt.Sprintf("%s://%s%s", scheme, endpoint.String(), path)
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}
