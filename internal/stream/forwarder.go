// Package stream is the Stream Forwarder: per-(protocol, listen_port)
// TCP and UDP forwarding, reconciled against the Config Snapshot's stream
// table on every Publisher reconcile.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ppmgo/ppm/internal/model"
	"github.com/ppmgo/ppm/internal/snapshot"
)

const drainGrace = 30 * time.Second

// Forwarder owns every active TCP/UDP listener and applies a set-diff
// reconciliation whenever the Publisher's stream table changes.
type Forwarder struct {
	logger *slog.Logger

	mu   sync.Mutex
	tcp  map[model.StreamKey]*tcpForwarder
	udp  map[model.StreamKey]*udpForwarder
	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Forwarder with no listeners open. Call Seed once at startup
// with the Publisher's current snapshot, then register OnStreamDiff for
// subsequent reconciles.
func New(logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		logger: logger,
		tcp:    make(map[model.StreamKey]*tcpForwarder),
		udp:    make(map[model.StreamKey]*udpForwarder),
		stop:   make(chan struct{}),
	}
}

// Seed opens listeners for every Stream already present in snap, used once
// at process startup before the first reconcile fires OnStreamDiff.
func (f *Forwarder) Seed(snap *snapshot.Snapshot) {
	for _, st := range snap.Streams() {
		f.open(st)
	}
}

// ApplyDiff is registered as the Publisher's OnStreamDiff callback. Added entries open a listener, removed entries drain
// theirs, changed entries are closed and reopened.
func (f *Forwarder) ApplyDiff(diff snapshot.StreamDiff) {
	for _, st := range diff.Added {
		f.open(st)
	}
	for _, st := range diff.Changed {
		f.close(st.Key())
		f.open(st)
	}
	for _, st := range diff.Removed {
		f.close(st.Key())
	}
}

func (f *Forwarder) open(st model.Stream) {
	switch st.Protocol {
	case model.ProtocolTCP:
		fwd, err := newTCPForwarder(st, f.logger)
		if err != nil {
			f.logger.Error("stream: failed to open tcp listener", "listen_port", st.ListenPort, "error", err)
			return
		}
		f.mu.Lock()
		f.tcp[st.Key()] = fwd
		f.mu.Unlock()
		f.wg.Add(1)
		go func() { defer f.wg.Done(); fwd.run() }()
		f.logger.Info("stream: tcp listener opened", "listen_port", st.ListenPort, "forward", st.ForwardHost)

	case model.ProtocolUDP:
		fwd, err := newUDPForwarder(st, f.logger)
		if err != nil {
			f.logger.Error("stream: failed to open udp socket", "listen_port", st.ListenPort, "error", err)
			return
		}
		f.mu.Lock()
		f.udp[st.Key()] = fwd
		f.mu.Unlock()
		f.wg.Add(1)
		go func() { defer f.wg.Done(); fwd.run() }()
		f.logger.Info("stream: udp socket opened", "listen_port", st.ListenPort, "forward", st.ForwardHost)
	}
}

func (f *Forwarder) close(key model.StreamKey) {
	f.mu.Lock()
	tcpFwd, hasTCP := f.tcp[key]
	if hasTCP {
		delete(f.tcp, key)
	}
	udpFwd, hasUDP := f.udp[key]
	if hasUDP {
		delete(f.udp, key)
	}
	f.mu.Unlock()

	// Release the port before returning so a reopen of the same key can bind.
	if hasTCP {
		_ = tcpFwd.listener.Close()
		go tcpFwd.drain(context.Background(), drainGrace)
	}
	if hasUDP {
		_ = udpFwd.conn.Close()
		go udpFwd.drop()
	}
}

// Shutdown drains every TCP listener and drops every UDP socket, waiting up
// to grace for in-flight TCP connections.
func (f *Forwarder) Shutdown(ctx context.Context, grace time.Duration) {
	f.mu.Lock()
	tcpFwds := make([]*tcpForwarder, 0, len(f.tcp))
	for _, fwd := range f.tcp {
		tcpFwds = append(tcpFwds, fwd)
	}
	udpFwds := make([]*udpForwarder, 0, len(f.udp))
	for _, fwd := range f.udp {
		udpFwds = append(udpFwds, fwd)
	}
	f.tcp = make(map[model.StreamKey]*tcpForwarder)
	f.udp = make(map[model.StreamKey]*udpForwarder)
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, fwd := range tcpFwds {
		wg.Add(1)
		go func(fwd *tcpForwarder) { defer wg.Done(); fwd.drain(ctx, grace) }(fwd)
	}
	for _, fwd := range udpFwds {
		wg.Add(1)
		go func(fwd *udpForwarder) { defer wg.Done(); fwd.drop() }(fwd)
	}
	wg.Wait()
	f.wg.Wait()
}

// ActiveConnections reports per-listener in-flight TCP connection counts for
// the listeners currently open. A listener leaves this report as soon as its
// drain begins, so connections still draining are not counted.
func (f *Forwarder) ActiveConnections() map[int]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]int64, len(f.tcp))
	for key, fwd := range f.tcp {
		out[key.ListenPort] = fwd.connections.Load()
	}
	return out
}
