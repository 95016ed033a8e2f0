// Package drivertest holds a behavioural suite every driver must pass.
package drivertest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
	"github.com/ricco24/hermes/signal"
)

// Factory returns a fresh, empty driver built with opts.
type Factory func(t *testing.T, opts driver.Options) driver.Driver

// Options returns the options the suite builds drivers with.
func Options(ctrl *lifecycle.Controller) driver.Options {
	return driver.Options{
		Lifecycle:   ctrl,
		PollTimeout: 50 * time.Millisecond,
		BatchSize:   10,
	}
}

// Suite configures the behavioural tests for one backend.
type Suite struct {
	Capabilities driver.Capabilities
	New          Factory
	// AsyncDelivery marks backends that fill their queues concurrently, so
	// only the priority tag of each delivery is checked, not the order.
	AsyncDelivery bool
}

// Run exercises send, wait, priorities and the restart contract.
func Run(t *testing.T, caps driver.Capabilities, newDriver Factory) {
	Suite{Capabilities: caps, New: newDriver}.Run(t)
}

func (s Suite) Run(t *testing.T) {
	t.Run("SendAndWait", func(t *testing.T) { testSendAndWait(t, s.New) })
	t.Run("RestartPreset", func(t *testing.T) { testRestartPreset(t, s.New) })
	if s.Capabilities.SupportsPriority {
		t.Run("HighPriorityFirst", func(t *testing.T) { testPriorityOrder(t, s.New, !s.AsyncDelivery) })
	} else {
		t.Run("PriorityUnsupported", func(t *testing.T) { testPriorityUnsupported(t, s.New) })
	}
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testSendAndWait(t *testing.T, newDriver Factory) {
	ctx := waitCtx(t)
	d := newDriver(t, Options(lifecycle.New(lifecycle.WithMaxItems(3))))

	sent := []*message.Message{
		message.New("email", message.Payload{"to": "a@example.com"}),
		message.New("email", message.Payload{"to": "b@example.com"}, message.WithMetadata(message.NewMetadata("tenant", "acme"))),
		message.New("sms", message.Payload{"number": "+421900000000", "retry": true}),
	}
	for _, msg := range sent {
		require.NoError(t, d.Send(ctx, msg, driver.PriorityDefault))
	}

	var got []*message.Message
	reason, err := d.Wait(ctx, func(_ context.Context, msg *message.Message) error {
		got = append(got, msg)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonMaxItems, reason)
	require.Len(t, got, len(sent))

	byID := make(map[string]*message.Message, len(got))
	for _, msg := range got {
		byID[msg.ID()] = msg
	}
	for _, want := range sent {
		have, ok := byID[want.ID()]
		if assert.True(t, ok, "message %s not delivered", want.ID()) {
			assert.True(t, want.Equal(have), "message %s changed in transit", want.ID())
		}
	}
}

func testRestartPreset(t *testing.T, newDriver Factory) {
	ctx := waitCtx(t)
	now := time.Now()
	restart := signal.NewMemory()
	require.NoError(t, restart.Trigger(ctx, now.Add(-10*time.Second)))
	ctrl := lifecycle.New(lifecycle.WithRestart(restart), lifecycle.WithStartTime(now.Add(-20*time.Second)))
	d := newDriver(t, Options(ctrl))

	require.NoError(t, d.Send(ctx, message.New("job", nil), driver.PriorityDefault))

	handled := 0
	reason, err := d.Wait(ctx, func(context.Context, *message.Message) error {
		handled++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonRestart, reason)
	assert.Zero(t, handled)
}

func testPriorityOrder(t *testing.T, newDriver Factory, strict bool) {
	ctx := waitCtx(t)
	d := newDriver(t, Options(lifecycle.New(lifecycle.WithMaxItems(3))))
	require.NoError(t, d.SetupPriorityQueue("hermes_high", driver.PriorityHigh))
	require.NoError(t, d.SetupPriorityQueue("hermes_low", driver.PriorityLow))

	require.NoError(t, d.Send(ctx, message.New("low", nil), driver.PriorityLow))
	require.NoError(t, d.Send(ctx, message.New("medium", nil), driver.PriorityMedium))
	require.NoError(t, d.Send(ctx, message.New("high", nil), driver.PriorityHigh))

	var order []string
	tags := make(map[string]driver.Priority)
	_, err := d.Wait(ctx, func(hctx context.Context, msg *message.Message) error {
		order = append(order, msg.Type())
		tags[msg.Type()], _ = driver.PriorityFromContext(hctx)
		return nil
	})
	require.NoError(t, err)
	if strict {
		assert.Equal(t, []string{"high", "medium", "low"}, order)
	} else {
		assert.ElementsMatch(t, []string{"high", "medium", "low"}, order)
	}
	assert.Equal(t, map[string]driver.Priority{
		"high":   driver.PriorityHigh,
		"medium": driver.PriorityMedium,
		"low":    driver.PriorityLow,
	}, tags)

	err = d.Send(ctx, message.New("x", nil), driver.Priority(999))
	assert.ErrorIs(t, err, driver.ErrUnknownPriority)
}

func testPriorityUnsupported(t *testing.T, newDriver Factory) {
	ctx := waitCtx(t)
	d := newDriver(t, Options(lifecycle.New(lifecycle.WithMaxItems(1))))

	err := d.SetupPriorityQueue("x", driver.PriorityHigh)
	require.Error(t, err)
	assert.True(t, errors.Is(err, driver.ErrUnsupported))

	require.NoError(t, d.Send(ctx, message.New("job", message.Payload{"n": 1}), driver.PriorityDefault))
	handled := 0
	reason, err := d.Wait(ctx, func(context.Context, *message.Message) error {
		handled++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonMaxItems, reason)
	assert.Equal(t, 1, handled, "state is unchanged after the rejected setup")
}
