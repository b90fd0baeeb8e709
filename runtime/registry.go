package runtime

import (
	goerrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"relay-lab/contract"
	"relay-lab/domain"
	"relay-lab/errors"

	"github.com/samber/lo"
)

// Outbox is the bounded delivery queue of one registered connection.
// Only the registry sends into it; only the connection's writer reads from it.
type Outbox struct {
	identity domain.Identity
	messages chan *domain.Message
	done     chan struct{}
	once     sync.Once
}

func newOutbox(id domain.Identity, capacity int) *Outbox {
	return &Outbox{
		identity: id,
		messages: make(chan *domain.Message, capacity),
		done:     make(chan struct{}),
	}
}

func (o *Outbox) Identity() domain.Identity { return o.identity }

// Messages is drained by the connection writer.
func (o *Outbox) Messages() <-chan *domain.Message { return o.messages }

// Done is closed once the outbox has been removed from the registry.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Offer enqueues a message without blocking.
// A full queue yields ErrBackpressure, a stopped one ErrOutboxClosed.
func (o *Outbox) Offer(message *domain.Message) error {
	select {
	case <-o.done:
		return errors.ErrOutboxClosed
	default:
	}
	select {
	case o.messages <- message:
		return nil
	default:
		return errors.ErrBackpressure
	}
}

// The data channel is never closed: a concurrent Offer would panic.
func (o *Outbox) stop() {
	o.once.Do(func() { close(o.done) })
}

// Registry maps live connection identities to their outboxes.
// It is shared by every broadcast session for the lifetime of one server.
type Registry struct {
	mu            sync.RWMutex
	log           *slog.Logger
	includeOrigin bool
	outboxes      map[domain.Identity]*Outbox
}

// NewRegistry builds an empty registry.
// includeOrigin decides whether a sender receives its own broadcasts.
func NewRegistry(log *slog.Logger, includeOrigin bool) *Registry {
	return &Registry{
		log:           log,
		includeOrigin: includeOrigin,
		outboxes:      make(map[domain.Identity]*Outbox),
	}
}

// Register creates a bounded outbox for the identity and stores it.
// An identity already present is overwritten and its previous outbox stopped,
// which ends the writer still attached to it.
func (r *Registry) Register(id domain.Identity, capacity int) *Outbox {
	outbox := newOutbox(id, capacity)

	r.mu.Lock()
	previous, exists := r.outboxes[id]
	r.outboxes[id] = outbox
	r.mu.Unlock()

	if exists {
		r.log.Warn("Identity already registered, overwriting", "peer", id)
		previous.stop()
	}
	return outbox
}

// Deregister removes the identity. It is a no-op when the identity is absent.
func (r *Registry) Deregister(id domain.Identity) {
	r.mu.Lock()
	outbox, ok := r.outboxes[id]
	delete(r.outboxes, id)
	r.mu.Unlock()

	if ok {
		outbox.stop()
	}
}

// Release removes the outbox only if it is still the one registered for its identity,
// so a session displaced by an overwrite cannot evict its successor.
func (r *Registry) Release(outbox *Outbox) {
	r.mu.Lock()
	if current, ok := r.outboxes[outbox.identity]; ok && current == outbox {
		delete(r.outboxes, outbox.identity)
	}
	r.mu.Unlock()
	outbox.stop()
}

// Broadcast offers the same message to every registered outbox.
// Sends never block: a full outbox fails on its own, is logged and skipped.
// The returned error joins every failed delivery and is informational only.
func (r *Registry) Broadcast(origin domain.Identity, message *domain.Message) error {
	r.mu.RLock()
	targets := make([]*Outbox, 0, len(r.outboxes))
	for id, outbox := range r.outboxes {
		if !r.includeOrigin && id == origin {
			continue
		}
		targets = append(targets, outbox)
	}
	r.mu.RUnlock()

	var errs []error
	for _, outbox := range targets {
		err := outbox.Offer(message)
		switch {
		case err == nil:
		case goerrors.Is(err, errors.ErrOutboxClosed):
			r.log.Debug("Outbox closed during broadcast", "peer", outbox.identity)
		default:
			r.log.Warn("Failed to broadcast message", "peer", outbox.identity, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", outbox.identity, err))
		}
	}
	return goerrors.Join(errs...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outboxes)
}

// Identities lists the registered identities in no particular order.
func (r *Registry) Identities() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.outboxes)
}

// Snapshot reports the fill level of every outbox.
func (r *Registry) Snapshot() []contract.OutboxStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapToSlice(r.outboxes, func(id domain.Identity, outbox *Outbox) contract.OutboxStat {
		return contract.OutboxStat{
			Identity: id,
			Length:   len(outbox.messages),
			Capacity: cap(outbox.messages),
		}
	})
}
