package proxy

import (
	"fmt"
	"net/http"
	"strings"
)

const statusPlaceholder = "%%STATUS%%"

const builtinErrorPage = `<!doctype html><html><head><title>%d %s</title></head>
<body><h1>%d %s</h1></body></html>`

// renderErrorPage fills template with the status code/reason phrase, falling
// back to a minimal built-in page when template is empty.
func renderErrorPage(template string, status int) string {
	reason := http.StatusText(status)
	if reason == "" {
		reason = "Error"
	}
	if strings.TrimSpace(template) == "" {
		return fmt.Sprintf(builtinErrorPage, status, reason, status, reason)
	}
	return strings.ReplaceAll(template, statusPlaceholder, fmt.Sprintf("%d %s", status, reason))
}

// writeError writes a status code and its rendered error page as the
// response body.
func writeError(w http.ResponseWriter, errorPageTemplate string, status int) {
	body := renderErrorPage(errorPageTemplate, status)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
