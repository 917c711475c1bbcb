package adminapi

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ppmgo/ppm/internal/acl"
	"github.com/ppmgo/ppm/internal/model"
)

type clientCredentialDTO struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"` // write-only: hashed into Verifier, never returned
}

type ipRuleDTO struct {
	CIDR   string `json:"cidr"`
	Action string `json:"action"`
}

type accessListRequest struct {
	ID      int64                 `json:"id,omitempty"`
	Name    string                `json:"name"`
	Clients []clientCredentialDTO `json:"clients,omitempty"`
	IPRules []ipRuleDTO           `json:"ip_rules,omitempty"`
}

func accessListToDTO(al model.AccessList) accessListRequest {
	dto := accessListRequest{ID: al.ID, Name: al.Name}
	for _, c := range al.Clients {
		dto.Clients = append(dto.Clients, clientCredentialDTO{Username: c.Username})
	}
	for _, ir := range al.IPRules {
		dto.IPRules = append(dto.IPRules, ipRuleDTO{CIDR: ir.CIDR, Action: string(ir.Action)})
	}
	return dto
}

func (s *Server) handleListAccessLists(w http.ResponseWriter, r *http.Request) {
	full, err := s.store.ReadAll(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]accessListRequest, 0, len(full.AccessLists))
	for _, al := range full.AccessLists {
		out = append(out, accessListToDTO(al))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccessList(w http.ResponseWriter, r *http.Request) {
	var req accessListRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	al := model.AccessList{ID: req.ID, Name: req.Name}
	for _, c := range req.Clients {
		verifier, err := acl.HashPassword(c.Password)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
		al.Clients = append(al.Clients, model.ClientCredential{Username: c.Username, Verifier: verifier})
	}
	for _, ir := range req.IPRules {
		al.IPRules = append(al.IPRules, model.IPRule{CIDR: ir.CIDR, Action: model.RuleAction(ir.Action)})
	}

	audit := s.auditEvent(r, "create", "access_list", al.Name, "")
	id, err := s.store.UpsertAccessList(r.Context(), al, audit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	al.ID = id
	s.reconcileOrWarn(r)
	writeJSON(w, http.StatusCreated, accessListToDTO(al))
}

func (s *Server) handleDeleteAccessList(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	audit := s.auditEvent(r, "delete", "access_list", mux.Vars(r)["id"], "")
	if err := s.store.DeleteAccessList(r.Context(), id, audit); err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	w.WriteHeader(http.StatusNoContent)
}

// loadAccessListOr404 re-reads an access list by id for a sub-resource
// read-modify-write, writing a 404 and returning ok=false if it doesn't
// exist.
func (s *Server) loadAccessListOr404(w http.ResponseWriter, r *http.Request, id int64) (model.AccessList, bool) {
	al, err := s.store.GetAccessList(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSONError(w, http.StatusNotFound, "access list not found")
			return model.AccessList{}, false
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return model.AccessList{}, false
	}
	return al, true
}

func (s *Server) handleCreateClientCredential(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	al, ok := s.loadAccessListOr404(w, r, id)
	if !ok {
		return
	}
	var dto clientCredentialDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	if dto.Username == "" || dto.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	verifier, err := acl.HashPassword(dto.Password)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	replaced := false
	for i, c := range al.Clients {
		if c.Username == dto.Username {
			al.Clients[i].Verifier = verifier
			replaced = true
			break
		}
	}
	if !replaced {
		al.Clients = append(al.Clients, model.ClientCredential{Username: dto.Username, Verifier: verifier})
	}

	audit := s.auditEvent(r, "create", "client_credential", dto.Username, "")
	if _, err := s.store.UpsertAccessList(r.Context(), al, audit); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	writeJSON(w, http.StatusCreated, clientCredentialDTO{Username: dto.Username})
}

func (s *Server) handleDeleteClientCredential(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	username := mux.Vars(r)["username"]
	al, ok := s.loadAccessListOr404(w, r, id)
	if !ok {
		return
	}
	kept := al.Clients[:0]
	found := false
	for _, c := range al.Clients {
		if c.Username == username {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "client credential not found")
		return
	}
	al.Clients = kept

	audit := s.auditEvent(r, "delete", "client_credential", username, "")
	if _, err := s.store.UpsertAccessList(r.Context(), al, audit); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateIPRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	al, ok := s.loadAccessListOr404(w, r, id)
	if !ok {
		return
	}
	var dto ipRuleDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	action := model.RuleAction(dto.Action)
	if action != model.ActionAllow && action != model.ActionDeny {
		writeJSONError(w, http.StatusBadRequest, "action must be allow or deny")
		return
	}
	al.IPRules = append(al.IPRules, model.IPRule{CIDR: dto.CIDR, Action: action})

	audit := s.auditEvent(r, "create", "ip_rule", dto.CIDR, "")
	if _, err := s.store.UpsertAccessList(r.Context(), al, audit); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	writeJSON(w, http.StatusCreated, dto)
}

// handleDeleteIPRule takes the CIDR as a query parameter rather than a path
// variable since a CIDR contains a literal "/".
func (s *Server) handleDeleteIPRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	cidr := r.URL.Query().Get("cidr")
	al, ok := s.loadAccessListOr404(w, r, id)
	if !ok {
		return
	}
	kept := al.IPRules[:0]
	found := false
	for _, ir := range al.IPRules {
		if ir.CIDR == cidr {
			found = true
			continue
		}
		kept = append(kept, ir)
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "ip rule not found")
		return
	}
	al.IPRules = kept

	audit := s.auditEvent(r, "delete", "ip_rule", cidr, "")
	if _, err := s.store.UpsertAccessList(r.Context(), al, audit); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	w.WriteHeader(http.StatusNoContent)
}
