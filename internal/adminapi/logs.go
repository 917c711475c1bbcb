package adminapi

import (
	"bufio"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

const defaultTailLines = 200

// handleTailLogs returns the last N newline-delimited lines of access.log,
// the same file the proxy process's access-log middleware appends to.
func (s *Server) handleTailLogs(w http.ResponseWriter, r *http.Request) {
	lines := defaultTailLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			lines = n
		}
	}

	path := filepath.Join(s.logDir, "access.log")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, []string{})
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	ring := make([]string, lines)
	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring[n%lines] = scanner.Text()
		n++
	}
	if err := scanner.Err(); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]string, 0, min(n, lines))
	if n <= lines {
		out = append(out, ring[:n]...)
	} else {
		start := n % lines
		out = append(out, ring[start:]...)
		out = append(out, ring[:start]...)
	}
	writeJSON(w, http.StatusOK, out)
}
