package adminapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ppmgo/ppm/internal/acl"
	"github.com/ppmgo/ppm/internal/model"
)

type ctxKey int

const userContextKey ctxKey = iota

// claims is the JWT payload minted by /api/login and verified on every other
// admin-surface request.
type claims struct {
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

const tokenTTL = 24 * time.Hour

func (s *Server) issueToken(u model.User) (string, error) {
	now := time.Now()
	c := claims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(s.jwtSecret))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	u, err := s.store.GetUserByUsername(r.Context(), body.Username)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !acl.VerifyCredential(model.AccessList{Clients: []model.ClientCredential{{Username: u.Username, Verifier: u.Verifier}}}, body.Username, body.Password) {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.issueToken(u)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// requireAuth verifies the bearer token and stores the authenticated user on
// the request context for handlers that need Role-based checks.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		var c claims
		_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
			return []byte(s.jwtSecret), nil
		})
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, c)
		next(w, r.WithContext(ctx))
	}
}

func userFromContext(r *http.Request) (claims, bool) {
	c, ok := r.Context().Value(userContextKey).(claims)
	return c, ok
}
