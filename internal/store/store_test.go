package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ppmgo/ppm/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertHostRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	verify := false
	h := model.Host{
		Domain:      "Example.com",
		Upstreams:   []model.Endpoint{{Address: "10.0.0.1", Port: 8080}, {Address: "10.0.0.2", Port: 8080}},
		Scheme:      model.SchemeHTTP,
		SSLForced:   true,
		VerifySSL:   &verify,
		Locations: []model.Location{
			{Path: "/api", Upstreams: []model.Endpoint{{Address: "10.0.1.1", Port: 9090}}, Scheme: model.SchemeHTTPS},
		},
		Headers: []model.HeaderRule{
			{Name: "X-Request-Id", Value: "abc", Direction: model.DirectionRequest},
		},
	}
	err := s.UpsertHost(ctx, h, model.AuditEvent{Actor: "tester", Action: "host.create", ResourceType: "host", ResourceID: "example.com"})
	require.NoError(t, err)

	got, err := s.GetHost(ctx, "EXAMPLE.COM")
	require.NoError(t, err)
	require.Equal(t, "example.com", got.Domain)
	require.Len(t, got.Upstreams, 2)
	require.True(t, got.SSLForced)
	require.False(t, got.Verify())
	require.Len(t, got.Locations, 1)
	require.Equal(t, "/api", got.Locations[0].Path)
	require.Len(t, got.Headers, 1)

	events, err := s.ListAuditEvents(ctx, AuditFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "host.create", events[0].Action)
}

func TestUpsertHostReplacesLocationsAndHeaders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h := model.Host{
		Domain:    "example.com",
		Upstreams: []model.Endpoint{{Address: "10.0.0.1", Port: 80}},
		Scheme:    model.SchemeHTTP,
		Locations: []model.Location{{Path: "/old", Upstreams: []model.Endpoint{{Address: "10.0.0.2", Port: 80}}, Scheme: model.SchemeHTTP}},
	}
	require.NoError(t, s.UpsertHost(ctx, h, model.AuditEvent{}))

	h.Locations = nil
	require.NoError(t, s.UpsertHost(ctx, h, model.AuditEvent{}))

	got, err := s.GetHost(ctx, "example.com")
	require.NoError(t, err)
	require.Empty(t, got.Locations)
}

func TestDeleteHostNotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.DeleteHost(context.Background(), "missing.example.com", model.AuditEvent{})
	require.Error(t, err)
}

func TestAccessListRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	al := model.AccessList{
		Name:    "internal-only",
		Clients: []model.ClientCredential{{Username: "alice", Verifier: "argon2id$..."}},
		IPRules: []model.IPRule{
			{CIDR: "10.0.0.0/8", Action: model.ActionAllow},
			{CIDR: "0.0.0.0/0", Action: model.ActionDeny},
		},
	}
	id, err := s.UpsertAccessList(ctx, al, model.AuditEvent{Action: "acl.create"})
	require.NoError(t, err)
	require.NotZero(t, id)

	snap, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, snap.AccessLists, 1)
	got := snap.AccessLists[0]
	require.Equal(t, "internal-only", got.Name)
	require.True(t, got.HasIPRules())
	require.True(t, got.HasAnyAllowRule())
	require.Len(t, got.Clients, 1)
	require.Equal(t, model.ActionAllow, got.IPRules[0].Action)
}

func TestStreamRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st := model.Stream{ListenPort: 5432, Protocol: model.ProtocolTCP, ForwardHost: "10.0.0.5", ForwardPort: 5432}
	require.NoError(t, s.UpsertStream(ctx, st, model.AuditEvent{}))

	snap, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Streams, 1)
	require.Equal(t, st.Key(), snap.Streams[0].Key())

	require.NoError(t, s.DeleteStream(ctx, st.Key(), model.AuditEvent{}))
	snap, err = s.ReadAll(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Streams)
}

func TestCertificateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cert := model.Certificate{ID: "cert-1", Domain: "*.example.com", ChainPEM: []byte("chain"), KeyPEM: []byte("key"), ExpiresAt: 1893456000}
	require.NoError(t, s.UpsertCertificate(ctx, cert))

	got, err := s.GetCertificate(ctx, "cert-1")
	require.NoError(t, err)
	require.True(t, got.IsWildcard())
	require.Equal(t, []byte("chain"), got.ChainPEM)
}

func TestSettingsAndTrustedProxyIPs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetSetting(ctx, "error_page_html", "<html>oops</html>", model.AuditEvent{}))
	require.NoError(t, s.AddTrustedProxyIP(ctx, "10.1.2.3", model.AuditEvent{}))
	require.NoError(t, s.AddTrustedProxyIP(ctx, "10.1.2.4", model.AuditEvent{}))

	snap, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, "<html>oops</html>", snap.Settings.ErrorPageHTML)
	require.ElementsMatch(t, []string{"10.1.2.3", "10.1.2.4"}, snap.Settings.TrustedProxyIPs)

	require.NoError(t, s.RemoveTrustedProxyIP(ctx, "10.1.2.3", model.AuditEvent{}))
	snap, err = s.ReadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"10.1.2.4"}, snap.Settings.TrustedProxyIPs)
}

func TestUserRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertUser(ctx, model.User{Username: "admin", Verifier: "argon2id$...", Role: model.RoleAdmin}, model.AuditEvent{})
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, model.RoleAdmin, got.Role)
}
