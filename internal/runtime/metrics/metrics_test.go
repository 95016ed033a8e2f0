package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/driver/memory"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := New(reg)
	require.NoError(t, c.Register())
	return c, reg
}

func TestRegisterTwice(t *testing.T) {
	c, _ := newCollector(t)
	assert.NoError(t, c.Register())
}

func TestRegisterAlreadyRegisteredElsewhere(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, New(reg).Register())
	assert.NoError(t, New(reg).Register())
}

func TestUnregister(t *testing.T) {
	c, reg := newCollector(t)
	c.MessageReceived("memory", driver.PriorityHigh)
	c.Unregister()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestCountersByLabel(t *testing.T) {
	c, _ := newCollector(t)

	c.MessageSent("redis", "email", driver.PriorityHigh, nil)
	c.MessageSent("redis", "email", driver.PriorityHigh, errors.New("down"))
	c.MessageReceived("redis", driver.PriorityLow)
	c.MessageProcessed("redis", "email", 20*time.Millisecond, nil)
	c.MessageProcessed("redis", "email", time.Millisecond, errors.New("boom"))
	c.AckFailed("sqs", errors.New("gone"))
	c.ReceiveFailed("sqs", errors.New("throttled"))
	c.LoopStopped("redis", lifecycle.ReasonRestart)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sentTotal.WithLabelValues("redis", "email", "high", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sentTotal.WithLabelValues("redis", "email", "high", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.receivedTotal.WithLabelValues("redis", "low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.processedTotal.WithLabelValues("redis", "email", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ackFailures.WithLabelValues("sqs")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.receiveFailures.WithLabelValues("sqs")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stopsTotal.WithLabelValues("redis", "restart")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.processDuration))
}

func TestObservesMemoryDriver(t *testing.T) {
	c, _ := newCollector(t)
	ctx := context.Background()
	d := memory.New("hermes", driver.Options{
		Observer:  c,
		Lifecycle: lifecycle.New(lifecycle.WithMaxItems(2)),
	})

	require.NoError(t, d.Send(ctx, message.New("email", nil), driver.PriorityDefault))
	require.NoError(t, d.Send(ctx, message.New("email", nil), driver.PriorityDefault))

	reason, err := d.Wait(ctx, func(context.Context, *message.Message) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonMaxItems, reason)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.sentTotal.WithLabelValues("memory", "email", "medium", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.processedTotal.WithLabelValues("memory", "email", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stopsTotal.WithLabelValues("memory", "max_items")))
}

func TestHandler(t *testing.T) {
	c, reg := newCollector(t)
	c.LoopStopped("memory", lifecycle.ReasonShutdown)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hermes_loop_stops_total{driver="memory",reason="shutdown"} 1`)
}
