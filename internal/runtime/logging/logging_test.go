package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type entry struct {
	level  string
	msg    string
	err    error
	fields watermill.LogFields
}

type recordingWatermillLogger struct {
	entries *[]entry
	fields  watermill.LogFields
}

func newRecordingWatermillLogger() *recordingWatermillLogger {
	return &recordingWatermillLogger{entries: &[]entry{}}
}

func (r *recordingWatermillLogger) record(level, msg string, err error, fields watermill.LogFields) {
	*r.entries = append(*r.entries, entry{level: level, msg: msg, err: err, fields: r.fields.Add(fields)})
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record("error", msg, err, fields)
}
func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record("info", msg, nil, fields)
}
func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record("debug", msg, nil, fields)
}
func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record("trace", msg, nil, fields)
}
func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &recordingWatermillLogger{entries: r.entries, fields: r.fields.Add(fields)}
}

func TestWatermillLoggerDelegates(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := NewWatermillLogger(base)

	logger.Debug("dbg", LogFields{"component": "watermill"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})
	boom := errors.New("boom")
	logger.Error("oops", boom, LogFields{"failed": true})
	logger.With(LogFields{"child": "yes"}).Info("child", nil)

	entries := *base.entries
	require.Len(t, entries, 5)
	assert.Equal(t, "debug", entries[0].level)
	assert.Equal(t, "watermill", entries[0].fields["component"])
	assert.Equal(t, "trace", entries[2].level)
	assert.Equal(t, boom, entries[3].err)
	assert.Equal(t, "yes", entries[4].fields["child"])
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewWatermillLogger(nil) })
	assert.Panics(t, func() { NewSlogLogger(nil) })
	assert.Panics(t, func() { NewZapLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestSlogLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.With(LogFields{"driver": "redis"}).Info("Loop stopped", LogFields{"reason": "restart"})

	out := buf.String()
	assert.Contains(t, out, `"msg":"Loop stopped"`)
	assert.Contains(t, out, `"driver":"redis"`)
	assert.Contains(t, out, `"reason":"restart"`)
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	child := logger.With(LogFields{"driver": "sqs"})
	child.Info("Message sent", LogFields{"type": "email", "priority": "high"})
	child.Trace("polling", nil)
	child.Error("Receive failed", errors.New("timeout"), nil)
	assert.Same(t, logger, logger.With(nil))

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, map[string]any{"driver": "sqs", "type": "email", "priority": "high"}, entries[0].ContextMap())

	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "polling", entries[1].Message)

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "timeout", entries[2].ContextMap()["error"])
}

func TestWatermillAdapter(t *testing.T) {
	t.Run("unwraps watermill loggers", func(t *testing.T) {
		base := newRecordingWatermillLogger()
		assert.Same(t, base, NewWatermillAdapter(NewWatermillLogger(base)))
	})

	t.Run("bridges other loggers", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		adapter := NewWatermillAdapter(NewZapLogger(zap.New(core)))

		adapter.With(watermill.LogFields{"driver": "kafka"}).Info("Subscribed", watermill.LogFields{"topic": "hermes"})
		adapter.Debug("dbg", nil)
		adapter.Trace("trc", nil)
		adapter.Error("failed", errors.New("x"), nil)

		entries := logs.All()
		require.Len(t, entries, 4)
		assert.Equal(t, map[string]any{"driver": "kafka", "topic": "hermes"}, entries[0].ContextMap())
		assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	})
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().With(LogFields{"a": 1}).Error("ignored", errors.New("x"), nil)
	})
}
