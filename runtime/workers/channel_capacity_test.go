package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"relay-lab/contract"
	"relay-lab/mocks"
)

func TestChannelCapacityWorker_ReportsCrowdedOutboxes(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockIRegistry(ctrl)

	// Given one outbox at 90% and one nearly empty
	registry.EXPECT().Snapshot().Return([]contract.OutboxStat{
		{Identity: "127.0.0.1:1000", Length: 900, Capacity: 1000},
		{Identity: "127.0.0.1:2000", Length: 3, Capacity: 1000},
		{Identity: "127.0.0.1:3000", Length: 0, Capacity: 0},
	})
	worker := NewChannelCapacityWorker(slog.New(slog.DiscardHandler), registry, time.Second, 80)

	// When sampling
	crowded := worker.sample()

	// Then only the crowded outbox is reported
	req.Len(crowded, 1)
	req.Equal("127.0.0.1:1000", string(crowded[0].Identity))
}

func TestChannelCapacityWorker_RunSamplesUntilCanceled(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockIRegistry(ctrl)

	sampled := make(chan struct{}, 1)
	registry.EXPECT().Snapshot().DoAndReturn(func() []contract.OutboxStat {
		select {
		case sampled <- struct{}{}:
		default:
		}
		return nil
	}).MinTimes(1)

	worker := NewChannelCapacityWorker(slog.New(slog.DiscardHandler), registry, 5*time.Millisecond, 80)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- worker.Run(ctx) }()

	<-sampled
	cancel()
	req.NoError(<-errCh)
}
