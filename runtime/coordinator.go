package runtime

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"relay-lab/contract"
	"relay-lab/errors"
)

const maxAcceptDelay = time.Second

// serve accepts connections until ctx is cancelled or the listener is closed.
// Every connection gets its own goroutine; serve waits for all of them before returning.
func serve(ctx context.Context, log *slog.Logger, listener net.Listener, handle func(context.Context, net.Conn)) error {
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || goerrors.Is(err, net.ErrClosed) {
				return nil
			}
			// Transient failure such as EMFILE: back off instead of spinning
			delay = min(max(2*delay, 5*time.Millisecond), maxAcceptDelay)
			log.Warn("Accept failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			handle(ctx, conn)
		}()
	}
}

// BroadcastCoordinator accepts broadcast clients and runs one Session per connection.
type BroadcastCoordinator struct {
	log        *slog.Logger
	listener   net.Listener
	registry   *Registry
	settings   SessionSettings
	repository contract.IMessageRepository
	censor     contract.Censor
}

func NewBroadcastCoordinator(log *slog.Logger, listener net.Listener, registry *Registry,
	settings SessionSettings, repository contract.IMessageRepository, censor contract.Censor) *BroadcastCoordinator {
	return &BroadcastCoordinator{
		log:        log,
		listener:   listener,
		registry:   registry,
		settings:   settings,
		repository: repository,
		censor:     censor,
	}
}

func (c *BroadcastCoordinator) Addr() net.Addr { return c.listener.Addr() }

func (c *BroadcastCoordinator) Run(ctx context.Context) error {
	c.log.Info("Broadcast relay listening", "address", c.listener.Addr().String())
	return serve(ctx, c.log, c.listener, func(ctx context.Context, conn net.Conn) {
		c.log.Info("Got connection", "peer", conn.RemoteAddr().String())
		session := NewSession(c.log, conn, c.registry, c.settings, c.repository, c.censor)
		if err := session.Run(ctx); err != nil {
			c.log.Warn("Client error", "peer", conn.RemoteAddr().String(), "error", err)
		}
	})
}

// TunnelCoordinator accepts clients, dials the upstream for each one and runs the pair.
type TunnelCoordinator struct {
	log         *slog.Logger
	listener    net.Listener
	upstream    string
	dialTimeout time.Duration
	halfClose   bool
	active      atomic.Int64
}

func NewTunnelCoordinator(log *slog.Logger, listener net.Listener, upstream string,
	dialTimeout time.Duration, halfClose bool) *TunnelCoordinator {
	return &TunnelCoordinator{
		log:         log,
		listener:    listener,
		upstream:    upstream,
		dialTimeout: dialTimeout,
		halfClose:   halfClose,
	}
}

func (c *TunnelCoordinator) Addr() net.Addr { return c.listener.Addr() }

// ActiveTunnels is the number of pairs currently relaying.
func (c *TunnelCoordinator) ActiveTunnels() int64 { return c.active.Load() }

func (c *TunnelCoordinator) Run(ctx context.Context) error {
	c.log.Info("Tunnel relay listening", "address", c.listener.Addr().String(), "upstream", c.upstream)
	return serve(ctx, c.log, c.listener, func(ctx context.Context, client net.Conn) {
		c.log.Info("Accepted connection", "client", client.RemoteAddr().String())
		upstream, err := c.dial(ctx)
		if err != nil {
			c.log.Warn("Tunnel setup failed", "client", client.RemoteAddr().String(), "error", err)
			_ = client.Close()
			return
		}

		c.active.Add(1)
		defer c.active.Add(-1)
		NewTunnel(c.log, client, upstream, c.halfClose).Run(ctx)
	})
}

func (c *TunnelCoordinator) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrUpstreamUnavailable, c.upstream, err)
	}
	return conn, nil
}
