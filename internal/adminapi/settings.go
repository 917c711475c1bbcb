package adminapi

import (
	"database/sql"
	"errors"
	"net/http"
)

const errorPageSettingKey = "error_page_html"

func (s *Server) handleGetErrorPage(w http.ResponseWriter, r *http.Request) {
	html, err := s.store.GetSetting(r.Context(), errorPageSettingKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusOK, map[string]string{"html": ""})
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"html": html})
}

func (s *Server) handleSetErrorPage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HTML string `json:"html"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	audit := s.auditEvent(r, "update", "setting", errorPageSettingKey, "")
	if err := s.store.SetSetting(r.Context(), errorPageSettingKey, body.HTML, audit); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	w.WriteHeader(http.StatusNoContent)
}
