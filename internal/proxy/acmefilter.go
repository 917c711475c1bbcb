package proxy

import (
	"net/http"
	"strings"

	"github.com/ppmgo/ppm/internal/acme"
)

const acmeChallengePrefix = "/.well-known/acme-challenge/"

// serveACMEChallenge answers HTTP-01 challenge requests ahead of host
// policy, over plain HTTP, ahead of every other filter. Returns true if it
// handled the request.
func serveACMEChallenge(w http.ResponseWriter, r *http.Request, tokens *acme.TokenStore) bool {
	if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, acmeChallengePrefix) {
		return false
	}
	token := strings.TrimPrefix(r.URL.Path, acmeChallengePrefix)
	keyAuth, ok := tokens.Get(token)
	if !ok {
		http.NotFound(w, r)
		return true
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(keyAuth))
	return true
}
