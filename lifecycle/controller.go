// Package lifecycle decides when a worker loop has to stop.
//
// A Controller composes the restart signal, the shutdown signal and the
// processing guard behind one Check call that every driver loop makes at the
// top of each iteration and again before sleeping on an empty poll.
package lifecycle

import (
	"context"
	"time"

	"github.com/ricco24/hermes/signal"
)

// Controller is shared by every loop of one worker process.
type Controller struct {
	restart   signal.Signal
	shutdown  signal.Signal
	guard     *Guard
	startedAt time.Time
	now       func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

func WithRestart(s signal.Signal) Option {
	return func(c *Controller) { c.restart = s }
}

func WithShutdown(s signal.Signal) Option {
	return func(c *Controller) { c.shutdown = s }
}

// WithMaxItems installs a fresh guard. Zero means unlimited.
func WithMaxItems(max int64) Option {
	return func(c *Controller) { c.guard = NewGuard(max) }
}

// WithGuard shares an existing guard.
func WithGuard(g *Guard) Option {
	return func(c *Controller) { c.guard = g }
}

// WithStartTime overrides the process start time the signals compare against.
func WithStartTime(t time.Time) Option {
	return func(c *Controller) { c.startedAt = t }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New builds a Controller. Without options it never stops on its own.
func New(opts ...Option) *Controller {
	c := &Controller{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.guard == nil {
		c.guard = NewGuard(0)
	}
	if c.startedAt.IsZero() {
		c.startedAt = c.now()
	}
	return c
}

func (c *Controller) StartedAt() time.Time { return c.startedAt }

func (c *Controller) Guard() *Guard { return c.guard }

// Check evaluates, in order, context cancellation, the restart signal, the
// shutdown signal and the guard. ReasonNone means keep going.
func (c *Controller) Check(ctx context.Context) Reason {
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	if c == nil {
		return ReasonNone
	}
	if c.ShouldRestart(ctx) {
		return ReasonRestart
	}
	if c.ShouldShutdown(ctx) {
		return ReasonShutdown
	}
	if !c.guard.ShouldContinue() {
		return ReasonMaxItems
	}
	return ReasonNone
}

func (c *Controller) ShouldRestart(ctx context.Context) bool {
	return c.restart != nil && c.restart.Check(ctx, c.startedAt)
}

func (c *Controller) ShouldShutdown(ctx context.Context) bool {
	return c.shutdown != nil && c.shutdown.Check(ctx, c.startedAt)
}

func (c *Controller) RecordProcessed() {
	if c == nil {
		return
	}
	c.guard.RecordProcessed()
}

// Watch merges the change notifications of every signal that can push them.
// The channel is nil when none can, and is closed once ctx is done.
func (c *Controller) Watch(ctx context.Context) (<-chan struct{}, error) {
	if c == nil {
		return nil, nil
	}
	var sources []<-chan struct{}
	for _, s := range []signal.Signal{c.restart, c.shutdown} {
		notifier, ok := s.(signal.Notifier)
		if !ok {
			continue
		}
		ch, err := notifier.Notify(ctx)
		if err != nil {
			return nil, err
		}
		sources = append(sources, ch)
	}
	switch len(sources) {
	case 0:
		return nil, nil
	case 1:
		return sources[0], nil
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{}, len(sources))
	for _, src := range sources {
		go func(src <-chan struct{}) {
			defer func() { done <- struct{}{} }()
			for range src {
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}(src)
	}
	go func() {
		for range sources {
			<-done
		}
		close(out)
	}()
	return out, nil
}

// Sleep waits for d, returning early with false when ctx is done. A
// notification on wake ends the sleep early with true so the caller re-checks
// its signals right away.
func Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
		return true
	}
}
