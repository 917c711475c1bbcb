package snapshot

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ppmgo/ppm/internal/certcache"
	"github.com/ppmgo/ppm/internal/model"
	"github.com/ppmgo/ppm/internal/store"
)

func newTestPublisher(t *testing.T) (*Publisher, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fallback, err := certcache.GenerateFallback()
	require.NoError(t, err)
	cat := certcache.New(fallback)

	return New(st, cat, slog.Default()), st
}

func TestReconcileInstallsHosts(t *testing.T) {
	p, st := newTestPublisher(t)
	ctx := context.Background()

	err := st.UpsertHost(ctx, model.Host{
		Domain:    "a.test",
		Upstreams: []model.Endpoint{{Address: "10.0.0.1", Port: 9000}},
		Scheme:    model.SchemeHTTP,
	}, model.AuditEvent{})
	require.NoError(t, err)

	snap, err := p.Reconcile(ctx)
	require.NoError(t, err)
	h, ok := snap.Host("A.Test")
	require.True(t, ok)
	require.Equal(t, "a.test", h.Domain)

	require.Same(t, snap, p.Current())
}

func TestReconcileIsIdempotentWithNoStoreChange(t *testing.T) {
	p, st := newTestPublisher(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertHost(ctx, model.Host{Domain: "a.test", Upstreams: []model.Endpoint{{Address: "10.0.0.1", Port: 9000}}, Scheme: model.SchemeHTTP}, model.AuditEvent{}))

	snap1, err := p.Reconcile(ctx)
	require.NoError(t, err)
	snap2, err := p.Reconcile(ctx)
	require.NoError(t, err)

	require.Equal(t, snap1.hosts, snap2.hosts)
	require.Equal(t, snap1.streams, snap2.streams)
	require.Equal(t, snap1.accessLists, snap2.accessLists)
}

func TestReconcileComputesStreamDiff(t *testing.T) {
	p, st := newTestPublisher(t)
	ctx := context.Background()

	var lastDiff StreamDiff
	p.OnStreamDiff(func(d StreamDiff) { lastDiff = d })

	_, err := p.Reconcile(ctx)
	require.NoError(t, err)
	require.Empty(t, lastDiff.Added)

	require.NoError(t, st.UpsertStream(ctx, model.Stream{ListenPort: 3307, Protocol: model.ProtocolTCP, ForwardHost: "db", ForwardPort: 3306}, model.AuditEvent{}))
	_, err = p.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, lastDiff.Added, 1)
	require.Equal(t, 3307, lastDiff.Added[0].ListenPort)

	require.NoError(t, st.UpsertStream(ctx, model.Stream{ListenPort: 3307, Protocol: model.ProtocolTCP, ForwardHost: "db2", ForwardPort: 3306}, model.AuditEvent{}))
	_, err = p.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, lastDiff.Changed, 1)
	require.Equal(t, "db2", lastDiff.Changed[0].ForwardHost)

	require.NoError(t, st.DeleteStream(ctx, model.StreamKey{Protocol: model.ProtocolTCP, ListenPort: 3307}, model.AuditEvent{}))
	_, err = p.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, lastDiff.Removed, 1)
}

func TestAccessListLookupMissingIsCascadeNull(t *testing.T) {
	p, _ := newTestPublisher(t)
	snap, err := p.Reconcile(context.Background())
	require.NoError(t, err)
	_, ok := snap.AccessList(999)
	require.False(t, ok)
}
