package runtime

import (
	"context"
	"time"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/internal/runtime/logging"
	"github.com/ricco24/hermes/message"
)

// JobContext describes one handler invocation to hooks.
type JobContext struct {
	// HandlerName is the registration name of the handler.
	HandlerName string
	// Driver is the registry name of the backend the message came from.
	Driver      string
	MessageID   string
	MessageType string
	Priority    driver.Priority
	Metadata    message.Metadata
	Context     context.Context
	StartedAt   time.Time
	// Duration is only set in OnJobDone and OnJobError.
	Duration time.Duration
	// Retries is the number of earlier failed attempts.
	Retries int
}

// JobHooks defines callbacks for job lifecycle events.
// All hooks are optional; nil hooks are simply not called.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	OnJobDone  func(ctx JobContext)
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks. The hooks from other run after those from h.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chain(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chain(h.OnJobDone, other.OnJobDone),
		OnJobError: chainError(h.OnJobError, other.OnJobError),
	}
}

func chain(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainError(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h JobHooks) start(ctx JobContext) {
	if h.OnJobStart != nil {
		h.OnJobStart(ctx)
	}
}

func (h JobHooks) finish(ctx JobContext, err error) {
	if err != nil {
		if h.OnJobError != nil {
			h.OnJobError(ctx, err)
		}
		return
	}
	if h.OnJobDone != nil {
		h.OnJobDone(ctx)
	}
}

// LoggingHooks returns pre-built hooks that log job lifecycle events.
func LoggingHooks(logger logging.Logger) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", logging.LogFields{
				"handler":      ctx.HandlerName,
				"driver":       ctx.Driver,
				"message_id":   ctx.MessageID,
				"message_type": ctx.MessageType,
				"retries":      ctx.Retries,
			})
		},
		OnJobDone: func(ctx JobContext) {
			logger.Info("Job completed", logging.LogFields{
				"handler":      ctx.HandlerName,
				"driver":       ctx.Driver,
				"message_id":   ctx.MessageID,
				"message_type": ctx.MessageType,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Job failed", err, logging.LogFields{
				"handler":      ctx.HandlerName,
				"driver":       ctx.Driver,
				"message_id":   ctx.MessageID,
				"message_type": ctx.MessageType,
				"duration_ms":  ctx.Duration.Milliseconds(),
				"retries":      ctx.Retries,
			})
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on job errors.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}
