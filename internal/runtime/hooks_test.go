package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ricco24/hermes/internal/runtime/logging"
)

func TestJobHooksMerge(t *testing.T) {
	var order []string
	a := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "a.start") },
		OnJobError: func(JobContext, error) { order = append(order, "a.error") },
	}
	b := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "b.start") },
		OnJobDone:  func(JobContext) { order = append(order, "b.done") },
	}

	merged := a.Merge(b)
	merged.start(JobContext{})
	merged.finish(JobContext{}, nil)
	merged.finish(JobContext{}, errors.New("x"))

	assert.Equal(t, []string{"a.start", "b.start", "b.done", "a.error"}, order)
}

func TestJobHooksNil(t *testing.T) {
	var h JobHooks
	assert.NotPanics(t, func() {
		h.start(JobContext{})
		h.finish(JobContext{}, nil)
		h.finish(JobContext{}, errors.New("x"))
	})
}

func TestLoggingHooks(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	hooks := LoggingHooks(logging.NewZapLogger(zap.New(core)))
	job := JobContext{
		HandlerName: "mailer",
		Driver:      "redis",
		MessageID:   "01J",
		MessageType: "email",
		Duration:    1500 * time.Millisecond,
	}

	hooks.start(job)
	hooks.finish(job, nil)
	hooks.finish(job, errors.New("smtp down"))

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "Job started", entries[0].Message)
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, "Job completed", entries[1].Message)
		assert.Equal(t, int64(1500), entries[1].ContextMap()["duration_ms"])
		assert.Equal(t, "Job failed", entries[2].Message)
		assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
		assert.Equal(t, "email", entries[2].ContextMap()["message_type"])
	}
}

func TestAlertingHooks(t *testing.T) {
	var alerted error
	hooks := AlertingHooks(func(_ JobContext, err error) { alerted = err })
	hooks.finish(JobContext{}, nil)
	assert.NoError(t, alerted)

	boom := errors.New("boom")
	hooks.finish(JobContext{}, boom)
	assert.Equal(t, boom, alerted)
}
