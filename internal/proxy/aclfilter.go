package proxy

import (
	"net/http"

	"github.com/ppmgo/ppm/internal/acl"
	"github.com/ppmgo/ppm/internal/model"
)

// accessControlFilter enforces the matched host's access list. Returns a non-zero status
// if the request must be rejected.
func accessControlFilter(r *http.Request, w http.ResponseWriter, al model.AccessList, clientIP string) (status int, rejected bool) {
	if acl.EvaluateIPRules(al, clientIP) == acl.VerdictDeny {
		return http.StatusForbidden, true
	}

	if len(al.Clients) == 0 {
		return 0, false
	}

	username, password, ok := r.BasicAuth()
	if !ok || !acl.VerifyCredential(al, username, password) {
		w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
		return http.StatusUnauthorized, true
	}
	return 0, false
}
