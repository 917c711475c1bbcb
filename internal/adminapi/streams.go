package adminapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ppmgo/ppm/internal/model"
)

func streamKeyID(k model.StreamKey) string {
	return fmt.Sprintf("%s:%d", k.Protocol, k.ListenPort)
}

type streamRequest struct {
	ListenPort  int    `json:"listen_port"`
	Protocol    string `json:"protocol"`
	ForwardHost string `json:"forward_host"`
	ForwardPort int    `json:"forward_port"`
}

func streamToDTO(st model.Stream) streamRequest {
	return streamRequest{
		ListenPort:  st.ListenPort,
		Protocol:    string(st.Protocol),
		ForwardHost: st.ForwardHost,
		ForwardPort: st.ForwardPort,
	}
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	full, err := s.store.ReadAll(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]streamRequest, 0, len(full.Streams))
	for _, st := range full.Streams {
		out = append(out, streamToDTO(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st := model.Stream{
		ListenPort:  req.ListenPort,
		Protocol:    model.Protocol(req.Protocol),
		ForwardHost: req.ForwardHost,
		ForwardPort: req.ForwardPort,
	}
	if st.ListenPort <= 0 || st.ForwardPort <= 0 || st.ForwardHost == "" {
		writeJSONError(w, http.StatusBadRequest, "listen_port, forward_host, and forward_port are required")
		return
	}
	if st.Protocol != model.ProtocolTCP && st.Protocol != model.ProtocolUDP {
		writeJSONError(w, http.StatusBadRequest, "protocol must be tcp or udp")
		return
	}

	audit := s.auditEvent(r, "create", "stream", streamKeyID(st.Key()), "")
	if err := s.store.UpsertStream(r.Context(), st, audit); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	writeJSON(w, http.StatusCreated, streamToDTO(st))
}

func (s *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	portStr := mux.Vars(r)["listen_port"]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid listen_port")
		return
	}
	protocol := model.Protocol(r.URL.Query().Get("protocol"))
	if protocol == "" {
		protocol = model.ProtocolTCP
	}
	key := model.StreamKey{Protocol: protocol, ListenPort: port}

	audit := s.auditEvent(r, "delete", "stream", streamKeyID(key), "")
	if err := s.store.DeleteStream(r.Context(), key, audit); err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	w.WriteHeader(http.StatusNoContent)
}
