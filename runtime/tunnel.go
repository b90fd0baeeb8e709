package runtime

import (
	"context"
	goerrors "errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"relay-lab/domain"

	"github.com/google/uuid"
)

// closeWriter is implemented by *net.TCPConn and *net.UnixConn.
type closeWriter interface {
	CloseWrite() error
}

// countingWriter tallies bytes so the losing copy can be reported without joining it.
type countingWriter struct {
	w io.Writer
	n *atomic.Int64
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

type copyResult struct {
	direction domain.Direction
	err       error
}

// Tunnel pipes bytes between a client and its upstream for the life of one pair.
type Tunnel struct {
	id        uuid.UUID
	log       *slog.Logger
	client    net.Conn
	upstream  net.Conn
	halfClose bool
	sent      atomic.Int64
	received  atomic.Int64
}

// NewTunnel binds an accepted client to an already dialed upstream.
// With halfClose a clean EOF only shuts the peer's write side and the pair
// keeps running until the other direction ends too.
func NewTunnel(log *slog.Logger, client, upstream net.Conn, halfClose bool) *Tunnel {
	id := uuid.New()
	return &Tunnel{
		id:        id,
		log:       log.With("tunnel", id.String(), "client", client.RemoteAddr().String()),
		client:    client,
		upstream:  upstream,
		halfClose: halfClose,
	}
}

// Run copies both directions until the first one finishes, then closes both sockets.
// The other copy is abandoned and ends on its own once its socket is closed.
func (t *Tunnel) Run(ctx context.Context) domain.TunnelStats {
	started := time.Now()
	stop := context.AfterFunc(ctx, t.close)
	defer stop()

	results := make(chan copyResult, 2)
	go t.pipe(results, domain.ClientToUpstream, t.upstream, t.client, &t.sent)
	go t.pipe(results, domain.UpstreamToClient, t.client, t.upstream, &t.received)

	first := <-results
	if t.halfClose && first.err == nil {
		// Clean EOF: let the other side finish its stream
		t.shutdownWrite(first.direction)
		second := <-results
		if second.err != nil {
			first = second
		}
	}
	t.close()

	stats := domain.TunnelStats{
		ID:       t.id,
		Client:   t.client.RemoteAddr().String(),
		Upstream: t.upstream.RemoteAddr().String(),
		Sent:     t.sent.Load(),
		Received: t.received.Load(),
		Winner:   first.direction,
		Err:      first.err,
		Started:  started,
		Duration: time.Since(started),
	}
	if stats.Err != nil && ctx.Err() == nil {
		t.log.Warn("Error proxying", "direction", stats.Winner, "error", stats.Err,
			"sent", stats.Sent, "received", stats.Received)
	} else {
		t.log.Info("Tunnel closed, proxied bytes", "direction", stats.Winner,
			"sent", stats.Sent, "received", stats.Received, "duration", stats.Duration)
	}
	return stats
}

func (t *Tunnel) pipe(results chan<- copyResult, direction domain.Direction,
	dst io.Writer, src io.Reader, counter *atomic.Int64) {
	_, err := io.Copy(countingWriter{w: dst, n: counter}, src)
	if goerrors.Is(err, net.ErrClosed) {
		// Our own close after the other direction won
		err = nil
	}
	results <- copyResult{direction: direction, err: err}
}

func (t *Tunnel) shutdownWrite(finished domain.Direction) {
	target := t.upstream
	if finished == domain.UpstreamToClient {
		target = t.client
	}
	if cw, ok := target.(closeWriter); ok {
		_ = cw.CloseWrite()
		return
	}
	// No half-close support: fall back to the asymmetric termination
	t.close()
}

func (t *Tunnel) close() {
	_ = t.client.Close()
	_ = t.upstream.Close()
}
