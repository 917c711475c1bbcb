package adminapi

import (
	"net/http"
	"strconv"
)

func (s *Server) handleStatsRealtime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Realtime())
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			hours = n
		}
	}
	writeJSON(w, http.StatusOK, s.stats.History(hours))
}
