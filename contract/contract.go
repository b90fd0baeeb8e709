//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"relay-lab/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// OutboxStat is a point-in-time view of one registered outbox.
type OutboxStat struct {
	Identity domain.Identity
	Length   int
	Capacity int
}

// IRegistry is what the monitoring workers need from the connection registry.
type IRegistry interface {
	Len() int
	Snapshot() []OutboxStat
}

// IMessageRepository stores broadcast history.
type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	Recent(limit int) ([]domain.Message, error)
}

// Censor rewrites a line before it is broadcast.
type Censor interface {
	Inspect(content string) domain.Verdict
}

// TunnelCounter exposes the number of live tunnel pairs.
type TunnelCounter interface {
	ActiveTunnels() int64
}
