// Package runtime wires connections to the relay engines.
// It owns the registry, the accept loops and their supervision, without any wire protocol knowledge beyond lines and bytes.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"relay-lab/contract"
	"relay-lab/errors"
	"relay-lab/runtime/workers"
)

// OrchestratorSettings groups what the relays need besides their listeners.
type OrchestratorSettings struct {
	Session              SessionSettings
	EchoToSender         bool
	UpstreamAddr         string
	DialTimeout          time.Duration
	TunnelHalfClose      bool
	MetricInterval       time.Duration // 0 disables the monitoring workers
	LowCapacityThreshold int           // percent
}

type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	supervisor contract.ISupervisor
	settings   OrchestratorSettings
	registry   *Registry
	repository contract.IMessageRepository
	censor     contract.Censor
	broadcast  *BroadcastCoordinator
	tunnel     *TunnelCoordinator
}

// NewOrchestrator prepares an idle relay. repository and censor are optional.
func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor, settings OrchestratorSettings,
	repository contract.IMessageRepository, censor contract.Censor) *Orchestrator {
	return &Orchestrator{
		log:        log,
		supervisor: supervisor,
		settings:   settings,
		registry:   NewRegistry(log, settings.EchoToSender),
		repository: repository,
		censor:     censor,
	}
}

// ListenBroadcast binds the broadcast listener. A bind failure is fatal for the caller.
func (o *Orchestrator) ListenBroadcast(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broadcast = NewBroadcastCoordinator(o.log, listener, o.registry, o.settings.Session, o.repository, o.censor)
	return nil
}

// ListenTunnel binds the tunnel listener. The upstream is only dialed per client.
func (o *Orchestrator) ListenTunnel(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tunnel = NewTunnelCoordinator(o.log, listener, o.settings.UpstreamAddr,
		o.settings.DialTimeout, o.settings.TunnelHalfClose)
	return nil
}

// Start registers every worker to the supervisor and blocks until ctx is done or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	var jobs []contract.Worker
	var registry contract.IRegistry
	var tunnels contract.TunnelCounter
	if o.broadcast != nil {
		jobs = append(jobs, o.broadcast)
		registry = o.registry
	}
	if o.tunnel != nil {
		jobs = append(jobs, o.tunnel)
		tunnels = o.tunnel
	}
	o.mu.Unlock()

	if len(jobs) == 0 {
		return fmt.Errorf("%w: no listener bound", errors.ErrInvalidMode)
	}

	if interval := o.settings.MetricInterval; interval > 0 {
		if registry != nil {
			jobs = append(jobs, workers.NewChannelCapacityWorker(o.log, registry, interval, o.settings.LowCapacityThreshold))
		}
		jobs = append(jobs, workers.NewHeartbeatWorker(o.log, registry, tunnels, interval))
	}

	o.supervisor.Add(jobs...)
	o.log.Info("Starting orchestrator and all supervised workers", "workers", len(jobs))
	o.supervisor.Run(ctx)
	return nil
}

// Stop cancels every worker; Start returns once they are all done.
func (o *Orchestrator) Stop() {
	o.supervisor.Stop()
}

func (o *Orchestrator) Registry() *Registry { return o.registry }

// BroadcastAddr is nil until ListenBroadcast succeeded.
func (o *Orchestrator) BroadcastAddr() net.Addr {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.broadcast == nil {
		return nil
	}
	return o.broadcast.Addr()
}

// TunnelAddr is nil until ListenTunnel succeeded.
func (o *Orchestrator) TunnelAddr() net.Addr {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tunnel == nil {
		return nil
	}
	return o.tunnel.Addr()
}

// ActiveTunnels is zero when the tunnel relay is not bound.
func (o *Orchestrator) ActiveTunnels() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tunnel == nil {
		return 0
	}
	return o.tunnel.ActiveTunnels()
}
