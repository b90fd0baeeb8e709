package workers

import (
	"context"
	"log/slog"
	"os"
	goruntime "runtime"
	"time"

	"github.com/shirou/gopsutil/process"

	"relay-lab/contract"
)

// Heartbeat is one sample of the relay process and its live connections.
type Heartbeat struct {
	Pid           int32
	Goroutines    int
	CpuPercent    float64
	RamBytes      uint64
	Peers         int
	ActiveTunnels int64
}

type HeartbeatWorker struct {
	log      *slog.Logger
	registry contract.IRegistry
	tunnels  contract.TunnelCounter
	interval time.Duration
}

// NewHeartbeatWorker accepts a nil registry or tunnel counter when the
// corresponding mode is not running.
func NewHeartbeatWorker(
	log *slog.Logger,
	registry contract.IRegistry,
	tunnels contract.TunnelCounter,
	interval time.Duration,
) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:      log,
		registry: registry,
		tunnels:  tunnels,
		interval: interval,
	}
}

// Run logs process metrics (CPU, RAM, goroutines) and relay counters every interval.
func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting relay heartbeat worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			beat, err := w.collect(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "error", err)
				continue
			}
			w.log.Info("Heartbeat",
				"pid", beat.Pid,
				"goroutines", beat.Goroutines,
				"cpu", beat.CpuPercent,
				"rss", beat.RamBytes,
				"peers", beat.Peers,
				"tunnels", beat.ActiveTunnels)
		}
	}
}

func (w *HeartbeatWorker) collect(p *process.Process) (Heartbeat, error) {
	rss, cpu, err := getSelfStats(p)
	if err != nil {
		return Heartbeat{}, err
	}
	beat := Heartbeat{Pid: p.Pid, Goroutines: goruntime.NumGoroutine(), CpuPercent: cpu, RamBytes: rss}
	if w.registry != nil {
		beat.Peers = w.registry.Len()
	}
	if w.tunnels != nil {
		beat.ActiveTunnels = w.tunnels.ActiveTunnels()
	}
	return beat, nil
}

// getSelfStats retrieves technical metrics (Memory and CPU) for the given process.
func getSelfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
