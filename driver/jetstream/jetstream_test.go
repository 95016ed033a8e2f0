package jetstream

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricco24/hermes/driver"
)

func TestRegistered(t *testing.T) {
	caps := driver.GetCapabilities(Name)
	assert.Equal(t, "nats-jetstream", caps.Name)
	assert.True(t, caps.SupportsPriority)
	assert.True(t, caps.SupportsDelay)
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		result := Config{}.withDefaults()
		assert.Equal(t, nats.DefaultURL, result.URL)
		assert.Equal(t, DefaultStreamName, result.StreamName)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, DefaultPollInterval, result.PollInterval)
		assert.Equal(t, 1, result.Replicas)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{URL: "nats://nats:4222", StreamName: "JOBS", AckWait: time.Minute, Replicas: 3, PollInterval: time.Second}
		assert.Equal(t, cfg, cfg.withDefaults())
	})
}

func TestStreamConfig(t *testing.T) {
	sc := streamConfig(Config{StreamName: "JOBS", Replicas: 3})
	assert.Equal(t, "JOBS", sc.Name)
	assert.Equal(t, []string{"JOBS.>"}, sc.Subjects)
	assert.Equal(t, nats.WorkQueuePolicy, sc.Retention)
	assert.Equal(t, 3, sc.Replicas)
}

func TestNaming(t *testing.T) {
	d := &Driver{config: Config{StreamName: "HERMES"}}
	assert.Equal(t, "HERMES.tasks_high", d.subject("tasks_high"))
	assert.Equal(t, "hermes_tasks_high", consumerName("tasks_high"))

	assert.NoError(t, validToken("tasks"))
	assert.ErrorIs(t, validToken(""), driver.ErrQueueNameRequired)
	for _, bad := range []string{"a.b", "a*", "a>", "a b"} {
		assert.Error(t, validToken(bad), bad)
	}
}

func TestSetupPriorityQueueValidatesName(t *testing.T) {
	d := &Driver{queues: driver.NewQueueSet("tasks")}
	require.NoError(t, d.SetupPriorityQueue("tasks_high", driver.PriorityHigh))
	assert.Error(t, d.SetupPriorityQueue("tasks.low", driver.PriorityLow))

	_, err := d.queues.Name(driver.PriorityLow)
	assert.ErrorIs(t, err, driver.ErrUnknownPriority)
}

func TestExecuteAtHeader(t *testing.T) {
	_, ok := executeAt(&nats.Msg{})
	assert.False(t, ok)

	at := time.UnixMilli(1_700_000_000_123)
	m := &nats.Msg{Header: nats.Header{}}
	m.Header.Set(HeaderExecuteAt, strconv.FormatInt(at.UnixMilli(), 10))
	got, ok := executeAt(m)
	assert.True(t, ok)
	assert.True(t, at.Equal(got))

	m.Header.Set(HeaderExecuteAt, "soon")
	_, ok = executeAt(m)
	assert.False(t, ok)
}

func TestDeliveriesHoldBackEarlyMessages(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := &Driver{opts: driver.Options{Now: func() time.Time { return now }}.WithDefaults()}

	due := &nats.Msg{Subject: "HERMES.tasks", Data: []byte("due")}
	early := &nats.Msg{Subject: "HERMES.tasks", Data: []byte("early"), Header: nats.Header{}}
	early.Header.Set(HeaderExecuteAt, strconv.FormatInt(now.Add(time.Minute).UnixMilli(), 10))

	out := d.deliveries([]*nats.Msg{early, due}, driver.PriorityHigh)
	require.Len(t, out, 1)
	assert.Equal(t, []byte("due"), out[0].Body)
	assert.Equal(t, driver.PriorityHigh, out[0].Priority)
	require.NotNil(t, out[0].Ack)
	assert.Error(t, out[0].Ack(context.Background()), "unbound message cannot be acknowledged")
}
