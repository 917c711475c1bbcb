package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ppmgo/ppm/internal/acme"
	"github.com/ppmgo/ppm/internal/certcache"
	"github.com/ppmgo/ppm/internal/model"
	"github.com/ppmgo/ppm/internal/snapshot"
	"github.com/ppmgo/ppm/internal/stats"
	"github.com/ppmgo/ppm/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *snapshot.Publisher) {
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

	collector := stats.New()
	return New(publisher, tokens, collector, nil), st, publisher
}

func upstreamEndpoint(t *testing.T, srv *httptest.Server) model.Endpoint {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return model.Endpoint{Address: u.Hostname(), Port: port}
}

func TestBasicProxy(t *testing.T) {
	ctx := context.Background()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/x", r.URL.Path)
		w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	engine, st, publisher := newTestEngine(t)
	ep := upstreamEndpoint(t, upstream)
	require.NoError(t, st.UpsertHost(ctx, model.Host{
		Domain:    "a.test",
		Upstreams: []model.Endpoint{ep},
		Scheme:    model.SchemeHTTP,
	}, model.AuditEvent{}))
	_, err := publisher.Reconcile(ctx)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://a.test/x", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
}

func TestUnknownHostReturns404(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	req := httptest.NewRequest(http.MethodGet, "http://unknown.test/", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForceHTTPSWinsOverRedirect(t *testing.T) {
	ctx := context.Background()
	engine, st, publisher := newTestEngine(t)
	require.NoError(t, st.UpsertHost(ctx, model.Host{
		Domain:       "b.test",
		Upstreams:    []model.Endpoint{{Address: "10.0.0.1", Port: 9000}},
		Scheme:       model.SchemeHTTP,
		SSLForced:    true,
		RedirectTo:   "https://c.test",
		RedirectCode: http.StatusMovedPermanently,
	}, model.AuditEvent{}))
	_, err := publisher.Reconcile(ctx)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://b.test/y?z=1", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMovedPermanently, rec.Code)
	require.Equal(t, "https://b.test/y?z=1", rec.Header().Get("Location"))
}

func TestLocationRewrite(t *testing.T) {
	ctx := context.Background()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/users", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	engine, st, publisher := newTestEngine(t)
	ep := upstreamEndpoint(t, upstream)
	require.NoError(t, st.UpsertHost(ctx, model.Host{
		Domain:    "d.test",
		Upstreams: []model.Endpoint{{Address: "10.0.0.1", Port: 80}},
		Scheme:    model.SchemeHTTP,
		Locations: []model.Location{
			{Path: "/api", Upstreams: []model.Endpoint{ep}, Scheme: model.SchemeHTTP, Rewrite: true},
		},
	}, model.AuditEvent{}))
	_, err := publisher.Reconcile(ctx)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://d.test/api/v1/users", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestACLAllowList(t *testing.T) {
	ctx := context.Background()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	engine, st, publisher := newTestEngine(t)
	ep := upstreamEndpoint(t, upstream)
	alID, err := st.UpsertAccessList(ctx, model.AccessList{
		Name:    "e-acl",
		IPRules: []model.IPRule{{CIDR: "10.0.0.0/8", Action: model.ActionAllow}},
	}, model.AuditEvent{})
	require.NoError(t, err)
	require.NoError(t, st.UpsertHost(ctx, model.Host{
		Domain:        "e.test",
		Upstreams:     []model.Endpoint{ep},
		Scheme:        model.SchemeHTTP,
		HasAccessList: true,
		AccessListID:  alID,
	}, model.AuditEvent{}))
	_, err = publisher.Reconcile(ctx)
	require.NoError(t, err)

	allowed := httptest.NewRequest(http.MethodGet, "http://e.test/", nil)
	allowed.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, allowed)
	require.Equal(t, http.StatusOK, rec.Code)

	denied := httptest.NewRequest(http.MethodGet, "http://e.test/", nil)
	denied.RemoteAddr = "192.0.2.5:5555"
	rec2 := httptest.NewRecorder()
	engine.ServeHTTP(rec2, denied)
	require.Equal(t, http.StatusForbidden, rec2.Code)
}

func TestEmptyUpstreamListReturns502(t *testing.T) {
	ctx := context.Background()
	engine, st, publisher := newTestEngine(t)
	require.NoError(t, st.UpsertHost(ctx, model.Host{
		Domain: "f.test",
		Scheme: model.SchemeHTTP,
	}, model.AuditEvent{}))
	_, err := publisher.Reconcile(ctx)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://f.test/", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestACMEChallengeServedAheadOfHostLookup(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.NoError(t, engine.tokens.Put("tok1", "tok1.auth"))

	req := httptest.NewRequest(http.MethodGet, "http://unknown.test/.well-known/acme-challenge/tok1", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tok1.auth", rec.Body.String())
}

func TestRenderErrorPagePlaceholder(t *testing.T) {
	out := renderErrorPage("<h1>%%STATUS%%</h1>", http.StatusNotFound)
	require.Contains(t, out, "404 Not Found")

	out = renderErrorPage("", http.StatusBadGateway)
	require.Contains(t, out, "502")
}
