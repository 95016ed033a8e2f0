// Package driver defines the queue driver contract and the wait loop shared
// by every backend.
//
// Each backend (memory, redis, sqs, sql, jetstream, watermill pub/sub) lives
// in its own sub-package and registers a Builder with the registry in init.
// Backends implement Receiver and hand it to a Loop; the Loop owns the
// restart, shutdown and max-items checks, the acknowledge-before-handle
// ordering and the receive backoff.
package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

// Priority selects one of several backing queues.
type Priority int

const (
	PriorityLow    Priority = 100
	PriorityMedium Priority = 200
	PriorityHigh   Priority = 300

	// PriorityDefault is used by Send when the caller does not care.
	PriorityDefault = PriorityMedium
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

var (
	// ErrUnsupported is returned by drivers that cannot perform an operation,
	// most notably SetupPriorityQueue on single-queue backends.
	ErrUnsupported = errors.New("driver: operation not supported")
	// ErrUnknownPriority is returned when no queue is bound to a priority.
	ErrUnknownPriority = errors.New("driver: no queue for priority")
	// ErrQueueNameRequired is returned when a queue name is empty.
	ErrQueueNameRequired = errors.New("driver: queue name is required")
)

// Handler processes one message. Its error is reported but never stops the
// loop.
type Handler func(ctx context.Context, msg *message.Message) error

// Driver is implemented by every queue backend.
type Driver interface {
	// Send serializes msg and submits it to the queue bound to priority. It
	// does not retry.
	Send(ctx context.Context, msg *message.Message, priority Priority) error
	// Wait runs the receive loop until a lifecycle signal or ctx stops it.
	// An empty priorities list means every configured queue.
	Wait(ctx context.Context, handler Handler, priorities ...Priority) (lifecycle.Reason, error)
	// SetupPriorityQueue binds an extra physical queue to priority.
	SetupPriorityQueue(name string, priority Priority) error
}

// Closer is implemented by drivers holding connections.
type Closer interface {
	Close() error
}

type priorityKey struct{}

// WithPriority stores the delivery priority for handlers.
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the priority the handled message arrived on.
func PriorityFromContext(ctx context.Context) (Priority, bool) {
	p, ok := ctx.Value(priorityKey{}).(Priority)
	return p, ok
}
