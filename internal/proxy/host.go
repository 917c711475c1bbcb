package proxy

import (
	"net"
	"net/http"
	"strings"

	"github.com/ppmgo/ppm/internal/model"
)

// hostKeyFor derives the request's host key: absolute-form authority first,
// else the Host header, lowercased and with any port stripped.
func hostKeyFor(r *http.Request) string {
	authority := r.Host
	if r.URL.IsAbs() && r.URL.Host != "" {
		authority = r.URL.Host
	}
	if host, _, err := net.SplitHostPort(authority); err == nil {
		authority = host
	}
	return model.NormalizeDomain(authority)
}

// matchLocation picks the Location whose Path is the longest prefix of
// requestPath, ties broken by declaration order.
func matchLocation(host model.Host, requestPath string) (model.Location, bool) {
	var best model.Location
	found := false
	for _, loc := range host.Locations {
		if !strings.HasPrefix(requestPath, loc.Path) {
			continue
		}
		if !found || len(loc.Path) > len(best.Path) {
			best = loc
			found = true
		}
	}
	return best, found
}

// rewritePath strips prefix from path:
// forwarded == ("/" + path[len(prefix):]).replaceFirst("//", "/").
func rewritePath(path, prefix string) string {
	rest := path[len(prefix):]
	combined := "/" + rest
	return strings.Replace(combined, "//", "/", 1)
}
