package stream

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppmgo/ppm/internal/model"
	"github.com/ppmgo/ppm/internal/snapshot"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestTCPForwarderRelaysBytes(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstreamLn.Close()
	upstreamPort := upstreamLn.Addr().(*net.TCPAddr).Port

	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	listenPort := freePort(t)
	f := New(nil)
	f.open(model.Stream{ListenPort: listenPort, Protocol: model.ProtocolTCP, ForwardHost: "127.0.0.1", ForwardPort: upstreamPort})
	defer f.Shutdown(context.Background(), time.Second)

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(listenPort))
		if err != nil {
			return false
		}
		conn = c
		return true
	}, time.Second, 10*time.Millisecond)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestUDPForwarderRelaysDatagramsRoundTrip(t *testing.T) {
	upstreamConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer upstreamConn.Close()
	upstreamPort := upstreamConn.LocalAddr().(*net.UDPAddr).Port

	go func() {
		buf := make([]byte, 1024)
		for {
			n, addr, err := upstreamConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			reply := append([]byte("echo:"), buf[:n]...)
			if _, err := upstreamConn.WriteToUDP(reply, addr); err != nil {
				return
			}
		}
	}()

	listenPort := freePort(t)
	f := New(nil)
	f.open(model.Stream{ListenPort: listenPort, Protocol: model.ProtocolUDP, ForwardHost: "127.0.0.1", ForwardPort: upstreamPort})
	defer f.Shutdown(context.Background(), time.Second)

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: listenPort})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "echo:ping", string(buf[:n]))
}

func TestUDPForwarderEvictsIdleMappings(t *testing.T) {
	upstreamConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer upstreamConn.Close()
	upstreamPort := upstreamConn.LocalAddr().(*net.UDPAddr).Port

	go func() {
		buf := make([]byte, 1024)
		for {
			n, addr, err := upstreamConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			_, _ = upstreamConn.WriteToUDP(buf[:n], addr)
		}
	}()

	target := model.Stream{ListenPort: freePort(t), Protocol: model.ProtocolUDP, ForwardHost: "127.0.0.1", ForwardPort: upstreamPort}
	fwd, err := newUDPForwarder(target, slog.Default())
	require.NoError(t, err)
	defer fwd.drop()
	go fwd.run()

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: target.ListenPort})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		fwd.mu.Lock()
		defer fwd.mu.Unlock()
		return len(fwd.mappings) == 1
	}, time.Second, 10*time.Millisecond)

	// Force the one mapping to look long idle, then sweep as if the ticker
	// had fired far in the future rather than waiting on udpIdleTimeout.
	fwd.mu.Lock()
	for _, m := range fwd.mappings {
		m.lastActive.Store(time.Now().Add(-udpIdleTimeout - time.Second).Unix())
	}
	fwd.mu.Unlock()
	fwd.sweepIdle(time.Now())

	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	require.Empty(t, fwd.mappings)
}

func TestForwarderApplyDiffOpensAndCloses(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstreamLn.Close()
	go func() {
		for {
			conn, err := upstreamLn.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	upstreamPort := upstreamLn.Addr().(*net.TCPAddr).Port

	listenPort := freePort(t)
	st := model.Stream{ListenPort: listenPort, Protocol: model.ProtocolTCP, ForwardHost: "127.0.0.1", ForwardPort: upstreamPort}

	f := New(nil)
	f.ApplyDiff(snapshot.StreamDiff{Added: []model.Stream{st}})

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(listenPort))
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, time.Second, 10*time.Millisecond)

	f.ApplyDiff(snapshot.StreamDiff{Removed: []model.Stream{st}})

	require.Eventually(t, func() bool {
		_, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(listenPort))
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

