package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppmgo/ppm/internal/model"
)

// tcpForwarder owns one TCP listener for a single Stream row and splices
// every accepted connection to its forward target.
type tcpForwarder struct {
	key    model.StreamKey
	target model.Stream
	logger *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup

	connections atomic.Int64
	bytes       atomic.Int64
}

func newTCPForwarder(target model.Stream, logger *slog.Logger) (*tcpForwarder, error) {
	addr := fmt.Sprintf("0.0.0.0:%d", target.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding tcp listener on %s: %w", addr, err)
	}
	return &tcpForwarder{key: target.Key(), target: target, logger: logger, listener: ln}, nil
}

func (f *tcpForwarder) run() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return // listener closed: drain() or reconcile replaced it
		}
		f.connections.Add(1)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			defer f.connections.Add(-1)
			f.handle(conn)
		}()
	}
}

func (f *tcpForwarder) handle(client net.Conn) {
	defer client.Close()

	upstreamAddr := fmt.Sprintf("%s:%d", f.target.ForwardHost, f.target.ForwardPort)
	upstream, err := net.DialTimeout("tcp", upstreamAddr, 10*time.Second)
	if err != nil {
		f.logger.Warn("stream: upstream dial failed", "listen_port", f.target.ListenPort, "upstream", upstreamAddr, "error", err)
		return
	}
	defer upstream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, _ := io.Copy(upstream, client)
		f.bytes.Add(n)
		closeWrite(upstream)
	}()
	go func() {
		defer wg.Done()
		n, _ := io.Copy(client, upstream)
		f.bytes.Add(n)
		closeWrite(client)
	}()
	wg.Wait()
}

// closeWrite half-closes the write side so the peer's io.Copy observes EOF
// without tearing down the whole connection while the other direction may
// still be draining.
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

// drain stops accepting new connections and waits up to grace for in-flight
// connections to finish on their own.
func (f *tcpForwarder) drain(ctx context.Context, grace time.Duration) {
	_ = f.listener.Close()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		f.logger.Warn("stream: tcp drain grace exceeded, abandoning in-flight connections", "listen_port", f.target.ListenPort)
	case <-ctx.Done():
	}
}
