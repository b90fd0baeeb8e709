package runtime

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay-lab/domain"
)

// startUpstream serves every accepted connection with handle until the test ends.
func startUpstream(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return listener.Addr().String()
}

func echo(conn net.Conn) { _, _ = io.Copy(conn, conn) }

// tcpPair returns both ends of a loopback TCP connection: the one a relay would accept and the dialer's.
func tcpPair(t *testing.T) (accepted, dialed net.Conn) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			close(acceptedCh)
			return
		}
		acceptedCh <- conn
	}()
	dialed, err = net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	accepted = <-acceptedCh
	require.NotNil(t, accepted)
	t.Cleanup(func() {
		_ = accepted.Close()
		_ = dialed.Close()
	})
	return accepted, dialed
}

func startTunnel(t *testing.T, ctx context.Context, upstreamAddr string, halfClose bool) (net.Conn, <-chan domain.TunnelStats) {
	t.Helper()
	accepted, client := tcpPair(t)
	upstream, err := net.Dial("tcp", upstreamAddr)
	require.NoError(t, err)

	statsCh := make(chan domain.TunnelStats, 1)
	tunnel := NewTunnel(slog.New(slog.DiscardHandler), accepted, upstream, halfClose)
	go func() { statsCh <- tunnel.Run(ctx) }()
	return client, statsCh
}

func waitStats(t *testing.T, statsCh <-chan domain.TunnelStats) domain.TunnelStats {
	t.Helper()
	select {
	case stats := <-statsCh:
		return stats
	case <-time.After(3 * time.Second):
		t.Fatal("tunnel did not end")
		return domain.TunnelStats{}
	}
}

func TestTunnel_Byte_Fidelity(t *testing.T) {
	req := require.New(t)
	upstream := startUpstream(t, echo)
	client, statsCh := startTunnel(t, context.Background(), upstream, false)

	// Given an arbitrary binary payload
	payload := make([]byte, 256*1024)
	_, err := rand.Read(payload)
	req.NoError(err)

	// When it goes through the tunnel to an echo upstream
	go func() { _, _ = client.Write(payload) }()
	received := make([]byte, len(payload))
	req.NoError(client.SetReadDeadline(time.Now().Add(3 * time.Second)))
	_, err = io.ReadFull(client, received)
	req.NoError(err)

	// Then the same bytes come back in order
	req.True(bytes.Equal(payload, received))

	// When the client closes
	req.NoError(client.Close())

	// Then both directions are accounted for
	stats := waitStats(t, statsCh)
	req.Equal(domain.ClientToUpstream, stats.Winner)
	req.NoError(stats.Err)
	req.Equal(int64(len(payload)), stats.Sent)
	req.Equal(int64(len(payload)), stats.Received)
}

func TestTunnel_Upstream_Close_Closes_Client(t *testing.T) {
	req := require.New(t)
	upstream := startUpstream(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("bye"))
	})
	client, statsCh := startTunnel(t, context.Background(), upstream, false)

	// When the upstream speaks then hangs up
	req.NoError(client.SetReadDeadline(time.Now().Add(3 * time.Second)))
	data, err := io.ReadAll(client)

	// Then the client sees the bytes then end of stream
	req.NoError(err)
	req.Equal("bye", string(data))

	stats := waitStats(t, statsCh)
	req.Equal(domain.UpstreamToClient, stats.Winner)
	req.Equal(int64(3), stats.Received)
	req.Zero(stats.Sent)
}

func TestTunnel_Half_Close(t *testing.T) {
	req := require.New(t)
	// Given an upstream answering only once the request stream is over
	upstream := startUpstream(t, func(conn net.Conn) {
		data, _ := io.ReadAll(conn)
		_, _ = conn.Write([]byte("got " + strconv.Itoa(len(data))))
	})
	client, statsCh := startTunnel(t, context.Background(), upstream, true)

	// When the client finishes its request
	_, err := client.Write([]byte("hello"))
	req.NoError(err)
	req.NoError(client.(*net.TCPConn).CloseWrite())

	// Then the response still flows back
	req.NoError(client.SetReadDeadline(time.Now().Add(3 * time.Second)))
	data, err := io.ReadAll(client)
	req.NoError(err)
	req.Equal("got 5", string(data))

	stats := waitStats(t, statsCh)
	req.Equal(int64(5), stats.Sent)
	req.Equal(int64(5), stats.Received)
}

func TestTunnel_Shutdown_Closes_Both(t *testing.T) {
	req := require.New(t)
	upstream := startUpstream(t, echo)
	ctx, cancel := context.WithCancel(context.Background())
	client, statsCh := startTunnel(t, ctx, upstream, false)

	_, err := client.Write([]byte("ping"))
	req.NoError(err)
	buf := make([]byte, 4)
	req.NoError(client.SetReadDeadline(time.Now().Add(3 * time.Second)))
	_, err = io.ReadFull(client, buf)
	req.NoError(err)

	// When the server shuts down
	cancel()

	// Then the tunnel ends and the client is disconnected
	stats := waitStats(t, statsCh)
	req.Equal(int64(4), stats.Sent)
	_, err = client.Read(buf)
	req.Error(err)
}
