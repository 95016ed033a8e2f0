// Package signal implements the externally writable restart and shutdown
// markers polled by a running worker.
//
// A marker holds one timestamp. A worker that started at S treats the marker
// as set when the recorded time T satisfies S <= T <= now, compared at
// one-second resolution. Workers started after T therefore never react to it,
// which keeps a fleet from restarting in a loop, and a T in the future is a
// scheduled request that is ignored until it passes.
package signal

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

const (
	DefaultRestartKey  = "hermes_restart"
	DefaultShutdownKey = "hermes_shutdown"
)

// Signal is the capability consumed by the dispatch loop.
type Signal interface {
	// Check reports whether the marker applies to a process started at startedAt.
	Check(ctx context.Context, startedAt time.Time) bool
	// Trigger records at (or now, when at is zero). The last write wins.
	Trigger(ctx context.Context, at time.Time) error
}

// Recorder is implemented by signals that can report the raw recorded time.
type Recorder interface {
	Recorded(ctx context.Context) (time.Time, bool, error)
}

// Notifier is implemented by signals that can push change notifications. The
// returned channel is closed when ctx is done.
type Notifier interface {
	Notify(ctx context.Context) (<-chan struct{}, error)
}

// Evaluate applies the marker contract to a recorded timestamp.
func Evaluate(recorded, startedAt, now time.Time) bool {
	if recorded.IsZero() {
		return false
	}
	ts := recorded.Unix()
	if ts > now.Unix() {
		return false
	}
	return ts >= startedAt.Unix()
}

// Option configures the signal implementations in this package.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger watermill.LoggerAdapter
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger reports store read failures that Check has to swallow.
func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(o *options) { o.logger = logger }
}

func newOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		logger: watermill.NopLogger{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = watermill.NopLogger{}
	}
	return o
}

func (o options) triggerTime(at time.Time) time.Time {
	if at.IsZero() {
		return o.now()
	}
	return at
}
