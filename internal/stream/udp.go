package stream

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppmgo/ppm/internal/model"
)

const udpIdleTimeout = 120 * time.Second

// udpMapping is one client<->upstream NAT-style binding.
type udpMapping struct {
	upstreamConn *net.UDPConn
	lastActive   atomic.Int64 // unix seconds
}

// udpForwarder owns one UDP socket for a single Stream row and relays
// datagrams between clients and the forward target, evicting idle mappings.
type udpForwarder struct {
	key    model.StreamKey
	target model.Stream
	logger *slog.Logger

	conn *net.UDPConn

	mu       sync.Mutex
	mappings map[string]*udpMapping

	stop chan struct{}
	done chan struct{}

	bytes atomic.Int64
}

func newUDPForwarder(target model.Stream, logger *slog.Logger) (*udpForwarder, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: target.ListenPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding udp socket on %d: %w", target.ListenPort, err)
	}
	return &udpForwarder{
		key:      target.Key(),
		target:   target,
		logger:   logger,
		conn:     conn,
		mappings: make(map[string]*udpMapping),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (f *udpForwarder) run() {
	go f.evictIdle()

	buf := make([]byte, 64*1024)
	for {
		n, clientAddr, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		f.bytes.Add(int64(n))
		payload := make([]byte, n)
		copy(payload, buf[:n])
		f.forward(clientAddr, payload)
	}
}

func (f *udpForwarder) forward(clientAddr *net.UDPAddr, payload []byte) {
	key := clientAddr.String()

	f.mu.Lock()
	mapping, ok := f.mappings[key]
	if !ok {
		upstreamAddr := &net.UDPAddr{IP: net.ParseIP(f.target.ForwardHost), Port: f.target.ForwardPort}
		if upstreamAddr.IP == nil {
			resolved, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", f.target.ForwardHost, f.target.ForwardPort))
			if err != nil {
				f.mu.Unlock()
				f.logger.Warn("stream: udp upstream resolve failed", "listen_port", f.target.ListenPort, "error", err)
				return
			}
			upstreamAddr = resolved
		}
		conn, err := net.DialUDP("udp", nil, upstreamAddr)
		if err != nil {
			f.mu.Unlock()
			f.logger.Warn("stream: udp upstream dial failed", "listen_port", f.target.ListenPort, "error", err)
			return
		}
		mapping = &udpMapping{upstreamConn: conn}
		f.mappings[key] = mapping
		f.mu.Unlock()
		go f.relayReplies(clientAddr, key, mapping)
	} else {
		f.mu.Unlock()
	}

	mapping.lastActive.Store(time.Now().Unix())
	if _, err := mapping.upstreamConn.Write(payload); err != nil {
		f.logger.Warn("stream: udp write to upstream failed", "listen_port", f.target.ListenPort, "error", err)
	}
}

func (f *udpForwarder) relayReplies(clientAddr *net.UDPAddr, key string, mapping *udpMapping) {
	buf := make([]byte, 64*1024)
	for {
		mapping.upstreamConn.SetReadDeadline(time.Now().Add(udpIdleTimeout))
		n, err := mapping.upstreamConn.Read(buf)
		if err != nil {
			f.mu.Lock()
			if f.mappings[key] == mapping {
				delete(f.mappings, key)
			}
			f.mu.Unlock()
			mapping.upstreamConn.Close()
			return
		}
		mapping.lastActive.Store(time.Now().Unix())
		f.bytes.Add(int64(n))
		if _, err := f.conn.WriteToUDP(buf[:n], clientAddr); err != nil {
			return
		}
	}
}

func (f *udpForwarder) evictIdle() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			close(f.done)
			return
		case now := <-ticker.C:
			f.sweepIdle(now)
		}
	}
}

// sweepIdle drops every mapping that has been idle longer than
// udpIdleTimeout as of now. Split out of evictIdle so tests can drive a
// sweep without waiting on the real ticker.
func (f *udpForwarder) sweepIdle(now time.Time) {
	cutoff := now.Add(-udpIdleTimeout).Unix()
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, m := range f.mappings {
		if m.lastActive.Load() < cutoff {
			delete(f.mappings, key)
			m.upstreamConn.Close()
		}
	}
}

// drop closes the socket and every open mapping immediately.
func (f *udpForwarder) drop() {
	_ = f.conn.Close()
	close(f.stop)
	<-f.done

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.mappings {
		m.upstreamConn.Close()
	}
}
