package workers

import (
	"context"
	"log/slog"
	"time"

	"relay-lab/contract"
)

// ChannelCapacityWorker periodically samples every registered outbox.
// Reading len and cap of a channel is non-blocking, so this won't interfere
// with the writers draining them.
type ChannelCapacityWorker struct {
	log                  *slog.Logger
	registry             contract.IRegistry
	metricInterval       time.Duration
	lowCapacityThreshold int
}

func NewChannelCapacityWorker(log *slog.Logger, registry contract.IRegistry,
	metricInterval time.Duration, lowCapacityThreshold int) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{
		log:                  log,
		registry:             registry,
		metricInterval:       metricInterval,
		lowCapacityThreshold: lowCapacityThreshold,
	}
}

func (w ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping capacity sampling")
			return nil
		case <-ticker.C:
			w.sample()
		}
	}
}

// sample returns the outboxes filled above the threshold, mostly for tests.
func (w ChannelCapacityWorker) sample() []contract.OutboxStat {
	var crowded []contract.OutboxStat
	for _, stat := range w.registry.Snapshot() {
		if stat.Capacity == 0 {
			continue
		}
		fill := stat.Length * 100 / stat.Capacity
		if fill >= w.lowCapacityThreshold {
			w.log.Warn("Outbox nearly full",
				"peer", stat.Identity, "length", stat.Length, "capacity", stat.Capacity, "fill", fill)
			crowded = append(crowded, stat)
			continue
		}
		w.log.Debug("Outbox capacity", "peer", stat.Identity, "length", stat.Length, "capacity", stat.Capacity)
	}
	return crowded
}
