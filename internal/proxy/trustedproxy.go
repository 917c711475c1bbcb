package proxy

import (
	"net"
	"net/http"
	"strings"
)

// normalizeTrustedProxy resolves the client-facing forwarding headers against
// the trusted-proxy allowlist. It returns the effective
// client IP and scheme to use for every downstream policy decision (ACL,
// force-HTTPS), plus the immediate socket peer IP for the connection-hop
// X-Forwarded-For header appended in step 7.
func normalizeTrustedProxy(r *http.Request, trusted []string) (effectiveIP, effectiveScheme, peerIP string) {
	peerIP = peerAddr(r.RemoteAddr)
	effectiveIP = peerIP
	effectiveScheme = schemeOf(r)

	if !ipTrusted(peerIP, trusted) {
		return effectiveIP, effectiveScheme, peerIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if left := strings.TrimSpace(strings.Split(xff, ",")[0]); left != "" {
			effectiveIP = left
		}
	}
	if xfp := r.Header.Get("X-Forwarded-Proto"); xfp != "" {
		effectiveScheme = xfp
	}
	return effectiveIP, effectiveScheme, peerIP
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func peerAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func ipTrusted(ip string, trusted []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, entry := range trusted {
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			if cidr.Contains(parsed) {
				return true
			}
			continue
		}
		if net.ParseIP(entry).Equal(parsed) {
			return true
		}
	}
	return false
}
