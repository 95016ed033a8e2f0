package driver

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/serializer"
)

const (
	DefaultPollTimeout = time.Second
	DefaultBatchSize   = 1

	DefaultBackoffInitial = 100 * time.Millisecond
	DefaultBackoffMax     = 30 * time.Second
)

// Backoff bounds the delay between failed receives.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Options are shared by every driver. The zero value is usable.
type Options struct {
	Serializer serializer.Serializer
	// Lifecycle decides when Wait returns. Nil means only ctx stops it.
	Lifecycle *lifecycle.Controller

	// SleepInterval is slept after an empty poll. Zero skips the sleep.
	SleepInterval time.Duration
	// PollTimeout bounds one blocking receive.
	PollTimeout time.Duration
	// BatchSize caps the messages fetched by one receive on backends that
	// support batches.
	BatchSize int

	Logger   watermill.LoggerAdapter
	Observer Observer
	Backoff  Backoff

	// Sleep replaces the idle and backoff sleeps. It returns false when the
	// loop should stop waiting.
	Sleep func(ctx context.Context, d time.Duration) bool
	Now   func() time.Time
}

// WithDefaults fills every unset field.
func (o Options) WithDefaults() Options {
	if o.Serializer == nil {
		o.Serializer = serializer.Default()
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.SleepInterval < 0 {
		o.SleepInterval = 0
	}
	if o.Logger == nil {
		o.Logger = watermill.NopLogger{}
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Backoff.Initial <= 0 {
		o.Backoff.Initial = DefaultBackoffInitial
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = DefaultBackoffMax
	}
	if o.Backoff.Max < o.Backoff.Initial {
		o.Backoff.Max = o.Backoff.Initial
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
