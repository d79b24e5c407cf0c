package bus

import (
	"context"
	"sync"

	"github.com/relaymesh/chatmesh/chatmerr"
)

// DefaultCapacity is the bounded FIFO queue size for a request's Bus.
const DefaultCapacity = 1024

// Bus is a per-request, bounded, multi-producer single-consumer event queue.
// Producers that would exceed capacity block until the consumer drains
// (back-pressure, not a timeout, per spec). Close is logical: it enqueues a
// terminal Done event and rejects further Emit calls with a BusClosed error
// rather than closing the underlying channel, so a racing producer never
// panics on a send to a closed channel.
type Bus struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// New constructs a Bus with the given capacity, or DefaultCapacity if cap <= 0.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Emit publishes ev. It blocks while the queue is full. Emitting after Close
// returns a chatmerr BusClosed error; callers should log and discard, per
// the error taxonomy, not propagate it as a request failure.
func (b *Bus) Emit(ev Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return chatmerr.New(chatmerr.KindBusClosed, "bus", "emit after close")
	}
	// Held across the send: producers on one bus are already expected to be
	// interleaved arbitrarily (spec §5), and this keeps Close from tearing
	// down state a concurrent Emit is mid-flight on.
	b.ch <- ev
	b.mu.Unlock()
	return nil
}

// Close enqueues Done and marks the bus closed. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ch <- DoneEvent
}

// Events returns the receive-only channel the sole consumer drains until it
// observes an EventDone.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

type contextKey struct{}

// WithBus returns a new context carrying b as the ambient per-request bus
// handle, so middleware deep in an agent/tool call chain can emit without
// the bus being threaded through every function signature. Context
// propagation, not process-global storage, keeps concurrent requests from
// colliding.
func WithBus(ctx context.Context, b *Bus) context.Context {
	return context.WithValue(ctx, contextKey{}, b)
}

// FromContext returns the ambient Bus set by WithBus, or nil if none was set
// (e.g. offline/test execution outside a request).
func FromContext(ctx context.Context) *Bus {
	b, _ := ctx.Value(contextKey{}).(*Bus)
	return b
}

// Emit publishes ev on the ambient bus in ctx, if any. It is a silent no-op
// when no bus is set, matching the middleware contract.
func Emit(ctx context.Context, ev Event) {
	if b := FromContext(ctx); b != nil {
		_ = b.Emit(ev)
	}
}
