package proxy

import (
	"net/http"

	"github.com/ppmgo/ppm/internal/model"
)

// hopByHopHeaders are stripped in both directions before crossing the proxy
// boundary. httputil.ReverseProxy already strips these from
// the outgoing request and incoming response on its own; stripping them here
// too keeps the behavior explicit and independent of that implementation
// detail.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHopHeaders(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// applyRequestHeaderRules applies a Host's request-direction Header Rules
// before the request is sent upstream.
func applyRequestHeaderRules(req *http.Request, rules []model.HeaderRule) {
	for _, r := range rules {
		if r.Direction == model.DirectionRequest {
			req.Header.Set(r.Name, r.Value)
		}
	}
}

// applyResponseHeaderRules applies a Host's response-direction Header Rules
// to the upstream response before it is returned to the client.
func applyResponseHeaderRules(resp *http.Response, rules []model.HeaderRule) {
	for _, r := range rules {
		if r.Direction == model.DirectionResponse {
			resp.Header.Set(r.Name, r.Value)
		}
	}
}

// setForwardedHeaders appends this hop's X-Forwarded-For entry and sets
// X-Forwarded-Proto/X-Forwarded-Host for the upstream request.
func setForwardedHeaders(req *http.Request, peerIP, effectiveScheme, hostHeader string) {
	if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
		req.Header.Set("X-Forwarded-For", prior+", "+peerIP)
	} else {
		req.Header.Set("X-Forwarded-For", peerIP)
	}
	req.Header.Set("X-Forwarded-Proto", effectiveScheme)
	req.Header.Set("X-Forwarded-Host", hostHeader)
}
