package adminapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ppmgo/ppm/internal/acl"
	"github.com/ppmgo/ppm/internal/model"
)

type userDTO struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func userToDTO(u model.User) userDTO {
	return userDTO{ID: u.ID, Username: u.Username, Role: string(u.Role), CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, userToDTO(u))
	}
	writeJSON(w, http.StatusOK, out)
}

type userRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	verifier, err := acl.HashPassword(req.Password)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	role := model.Role(req.Role)
	if role == "" {
		role = model.RoleViewer
	}
	u := model.User{Username: req.Username, Verifier: verifier, Role: role}

	audit := s.auditEvent(r, "create", "user", req.Username, "")
	id, err := s.store.UpsertUser(r.Context(), u, audit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	u.ID = id
	s.reconcileOrWarn(r)
	writeJSON(w, http.StatusCreated, userToDTO(u))
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	c, ok := userFromContext(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	u, err := s.store.GetUserByUsername(r.Context(), c.Username)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, userToDTO(u))
}

// handleUpdateUser applies a role change and/or password reset to an
// existing account; either field may be omitted.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	u, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "user not found")
		return
	}
	var req userRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role != "" {
		u.Role = model.Role(req.Role)
	}
	if req.Password != "" {
		verifier, err := acl.HashPassword(req.Password)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
		u.Verifier = verifier
	}

	audit := s.auditEvent(r, "update", "user", u.Username, "")
	if _, err := s.store.UpsertUser(r.Context(), u, audit); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	writeJSON(w, http.StatusOK, userToDTO(u))
}

type passwordChangeRequest struct {
	Password string `json:"password"`
}

// handleChangeMyPassword lets the authenticated caller reset their own
// password without a separate admin role check.
func (s *Server) handleChangeMyPassword(w http.ResponseWriter, r *http.Request) {
	c, ok := userFromContext(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req passwordChangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "password is required")
		return
	}
	u, err := s.store.GetUserByUsername(r.Context(), c.Username)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "user not found")
		return
	}
	verifier, err := acl.HashPassword(req.Password)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	u.Verifier = verifier

	audit := s.auditEvent(r, "update", "user", u.Username, "password change")
	if _, err := s.store.UpsertUser(r.Context(), u, audit); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	audit := s.auditEvent(r, "delete", "user", mux.Vars(r)["id"], "")
	if err := s.store.DeleteUser(r.Context(), id, audit); err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.reconcileOrWarn(r)
	w.WriteHeader(http.StatusNoContent)
}
