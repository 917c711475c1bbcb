package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ppmgo/ppm/internal/acl"
	"github.com/ppmgo/ppm/internal/acme"
	"github.com/ppmgo/ppm/internal/certcache"
	"github.com/ppmgo/ppm/internal/model"
	"github.com/ppmgo/ppm/internal/snapshot"
	"github.com/ppmgo/ppm/internal/stats"
	"github.com/ppmgo/ppm/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store, *snapshot.Publisher) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fallback, err := certcache.GenerateFallback()
	require.NoError(t, err)
	catalog := certcache.New(fallback)
	publisher := snapshot.New(st, catalog, nil)

	tokens, err := acme.NewTokenStore(filepath.Join(t.TempDir(), "webroot"))
	require.NoError(t, err)
	worker := acme.New(acme.Config{}, st, catalog, publisher, tokens, nil)

	return New(st, publisher, worker, stats.New(), "test-secret", t.TempDir(), nil), st, publisher
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// login creates an admin account directly in the store and exchanges its
// credentials for a bearer token through the real /api/login handler.
func login(t *testing.T, s *Server, st *store.Store) string {
	t.Helper()
	verifier, err := acl.HashPassword("s3cret")
	require.NoError(t, err)
	_, err = st.UpsertUser(context.Background(), model.User{
		Username: "admin",
		Verifier: verifier,
		Role:     model.RoleAdmin,
	}, model.AuditEvent{})
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/api/login", "", map[string]string{
		"username": "admin",
		"password": "s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/login", "", map[string]string{
		"username": "nobody",
		"password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/hosts", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHostCreateUpdateDeleteLifecycle(t *testing.T) {
	s, st, publisher := newTestServer(t)
	token := login(t, s, st)

	rec := doJSON(t, s, http.MethodPost, "/api/hosts", token, map[string]any{
		"domain":    "example.test",
		"upstreams": "10.0.0.1:80,10.0.0.2:80",
		"scheme":    "http",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// duplicate create is rejected rather than silently upserted
	rec = doJSON(t, s, http.MethodPost, "/api/hosts", token, map[string]any{
		"domain":    "example.test",
		"upstreams": "10.0.0.1:80",
		"scheme":    "http",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	// update of a host that was never created is rejected
	rec = doJSON(t, s, http.MethodPut, "/api/hosts/missing.test", token, map[string]any{
		"domain":    "missing.test",
		"upstreams": "10.0.0.1:80",
		"scheme":    "http",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodPut, "/api/hosts/example.test", token, map[string]any{
		"upstreams":  "10.0.0.9:80",
		"scheme":     "http",
		"ssl_forced": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	h, err := st.GetHost(context.Background(), "example.test")
	require.NoError(t, err)
	require.True(t, h.SSLForced)
	require.Len(t, h.Upstreams, 1)

	events, err := st.ListAuditEvents(context.Background(), store.AuditFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	require.NotNil(t, publisher.Current())

	rec = doJSON(t, s, http.MethodDelete, "/api/hosts/example.test", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err = st.GetHost(context.Background(), "example.test")
	require.Error(t, err)
}

func TestRequestCertificateEnqueuesJob(t *testing.T) {
	s, st, _ := newTestServer(t)
	token := login(t, s, st)

	rec := doJSON(t, s, http.MethodPost, "/api/certs", token, map[string]any{
		"domain":        "cert.test",
		"contact_email": "ops@cert.test",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHostLocationAndHeaderRuleLifecycle(t *testing.T) {
	s, st, _ := newTestServer(t)
	token := login(t, s, st)

	rec := doJSON(t, s, http.MethodPost, "/api/hosts", token, map[string]any{
		"domain":    "loc.test",
		"upstreams": "10.0.0.1:80",
		"scheme":    "http",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/hosts/loc.test/locations", token, map[string]any{
		"path":      "/api",
		"upstreams": "10.0.0.2:9000",
		"scheme":    "http",
		"rewrite":   true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	h, err := st.GetHost(context.Background(), "loc.test")
	require.NoError(t, err)
	require.Len(t, h.Locations, 1)
	require.Equal(t, "/api", h.Locations[0].Path)
	require.True(t, h.Locations[0].Rewrite)

	rec = doJSON(t, s, http.MethodPost, "/api/hosts/loc.test/headers", token, map[string]any{
		"name":      "X-Extra",
		"value":     "1",
		"direction": "request",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	h, err = st.GetHost(context.Background(), "loc.test")
	require.NoError(t, err)
	require.Len(t, h.Headers, 1)
	headerID := h.Headers[0].ID

	rec = doJSON(t, s, http.MethodDelete, "/api/hosts/loc.test/locations?path=/api", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodDelete,
		"/api/hosts/loc.test/headers/"+strconv.FormatInt(headerID, 10), token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	h, err = st.GetHost(context.Background(), "loc.test")
	require.NoError(t, err)
	require.Empty(t, h.Locations)
	require.Empty(t, h.Headers)
}

func TestAccessListClientAndIPRuleLifecycle(t *testing.T) {
	s, st, _ := newTestServer(t)
	token := login(t, s, st)

	rec := doJSON(t, s, http.MethodPost, "/api/access-lists", token, map[string]any{"name": "office"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created accessListRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	idPath := "/api/access-lists/" + strconv.FormatInt(created.ID, 10)

	rec = doJSON(t, s, http.MethodPost, idPath+"/clients", token, map[string]any{
		"username": "alice",
		"password": "hunter2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPost, idPath+"/ips", token, map[string]any{
		"cidr":   "10.0.0.0/8",
		"action": "allow",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	al, err := st.GetAccessList(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, al.Clients, 1)
	require.Len(t, al.IPRules, 1)

	rec = doJSON(t, s, http.MethodDelete, idPath+"/clients/alice", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, idPath+"/ips?cidr=10.0.0.0/8", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	al, err = st.GetAccessList(context.Background(), created.ID)
	require.NoError(t, err)
	require.Empty(t, al.Clients)
	require.Empty(t, al.IPRules)
}

func TestUserUpdateAndPasswordChange(t *testing.T) {
	s, st, _ := newTestServer(t)
	token := login(t, s, st)

	rec := doJSON(t, s, http.MethodPost, "/api/users", token, map[string]any{
		"username": "operator1",
		"password": "p4ssword",
		"role":     "operator",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created userDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, s, http.MethodPut, "/api/users/"+strconv.FormatInt(created.ID, 10), token, map[string]any{
		"role": "viewer",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	u, err := st.GetUser(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, model.RoleViewer, u.Role)

	rec = doJSON(t, s, http.MethodPut, "/api/users/me/password", token, map[string]any{
		"password": "newpassword",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTailLogsReturnsEmptyWhenMissing(t *testing.T) {
	s, st, _ := newTestServer(t)
	token := login(t, s, st)

	rec := doJSON(t, s, http.MethodGet, "/api/logs?lines=10", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestMetricsEndpointUnauthenticated(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
