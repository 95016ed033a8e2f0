package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
	"github.com/ricco24/hermes/serializer"
	"github.com/ricco24/hermes/signal"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, fmt.Sprintf(format, args...))
}

func (e *eventLog) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// recordingSignal logs every check and delegates to a memory signal.
type recordingSignal struct {
	*signal.Memory
	log  *eventLog
	name string
}

func (r recordingSignal) Check(ctx context.Context, startedAt time.Time) bool {
	r.log.add("check:%s", r.name)
	return r.Memory.Check(ctx, startedAt)
}

type recordingObserver struct {
	NopObserver
	mu        sync.Mutex
	processed []error
	ackFailed int
	recvFail  int
	stopped   []lifecycle.Reason
}

func (o *recordingObserver) MessageProcessed(_, _ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processed = append(o.processed, err)
}

func (o *recordingObserver) AckFailed(string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ackFailed++
}

func (o *recordingObserver) ReceiveFailed(string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recvFail++
}

func (o *recordingObserver) LoopStopped(_ string, reason lifecycle.Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = append(o.stopped, reason)
}

func encode(t *testing.T, typ string, payload message.Payload) []byte {
	t.Helper()
	body, err := serializer.Default().Serialize(message.New(typ, payload))
	require.NoError(t, err)
	return body
}

func batch(t *testing.T, n int) []Delivery {
	out := make([]Delivery, n)
	for i := range out {
		out[i] = Delivery{Body: encode(t, "job", message.Payload{"n": i}), Priority: PriorityMedium}
	}
	return out
}

func TestLoopExitsOnPresetRestartWithoutProcessing(t *testing.T) {
	now := time.Now()
	restart := signal.NewMemory()
	require.NoError(t, restart.Trigger(context.Background(), now.Add(-10*time.Second)))

	received := 0
	recv := ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		received++
		return batch(t, 1), nil
	})
	handled := 0
	loop := NewLoop("test", recv, Options{
		Lifecycle: lifecycle.New(lifecycle.WithRestart(restart), lifecycle.WithStartTime(now.Add(-20*time.Second))),
	})

	reason, err := loop.Run(context.Background(), func(context.Context, *message.Message) error {
		handled++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonRestart, reason)
	assert.Zero(t, received)
	assert.Zero(t, handled)
}

func TestLoopRechecksSignalsOnEveryIdleCycle(t *testing.T) {
	log := &eventLog{}
	restart := recordingSignal{Memory: signal.NewMemory(), log: log, name: "restart"}
	shutdown := recordingSignal{Memory: signal.NewMemory(), log: log, name: "shutdown"}
	ctrl := lifecycle.New(
		lifecycle.WithRestart(restart),
		lifecycle.WithShutdown(shutdown),
		lifecycle.WithStartTime(time.Now().Add(-time.Minute)),
	)

	recv := ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		log.add("receive")
		return nil, nil
	})
	sleeps := 0
	loop := NewLoop("test", recv, Options{
		Lifecycle:     ctrl,
		SleepInterval: 5 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) bool {
			log.add("sleep:%s", d)
			sleeps++
			if sleeps == 2 {
				require.NoError(t, shutdown.Trigger(context.Background(), time.Time{}))
			}
			return true
		},
	})

	reason, err := loop.Run(context.Background(), func(context.Context, *message.Message) error { return nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonShutdown, reason)

	assert.Equal(t, []string{
		"check:restart", "check:shutdown", "receive",
		"check:restart", "check:shutdown", "sleep:5s",
		"check:restart", "check:shutdown", "receive",
		"check:restart", "check:shutdown", "sleep:5s",
		"check:restart", "check:shutdown",
	}, log.all())
}

func TestLoopWithoutSleepIntervalNeverSleeps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	polls := 0
	recv := ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		polls++
		if polls == 5 {
			cancel()
		}
		return nil, nil
	})
	loop := NewLoop("test", recv, Options{
		Sleep: func(context.Context, time.Duration) bool {
			t.Fatal("sleep must be skipped when the interval is zero")
			return false
		},
	})

	reason, err := loop.Run(ctx, func(context.Context, *message.Message) error { return nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonCancelled, reason)
	assert.Equal(t, 5, polls)
}

func TestLoopAcknowledgesBatchBeforeHandling(t *testing.T) {
	log := &eventLog{}
	deliveries := batch(t, 2)
	for i := range deliveries {
		i := i
		deliveries[i].Ack = func(context.Context) error {
			log.add("ack:%d", i)
			return nil
		}
	}
	served := false
	recv := ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		if served {
			return nil, nil
		}
		served = true
		return deliveries, nil
	})
	loop := NewLoop("test", recv, Options{Lifecycle: lifecycle.New(lifecycle.WithMaxItems(2))})

	reason, err := loop.Run(context.Background(), func(_ context.Context, msg *message.Message) error {
		log.add("handle:%v", msg.Payload()["n"])
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonMaxItems, reason)
	assert.Equal(t, []string{"ack:0", "ack:1", "handle:0", "handle:1"}, log.all())
}

func TestLoopHandsOverWholeBatchPastGuard(t *testing.T) {
	served := false
	recv := ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		if served {
			t.Fatal("loop must stop after the batch")
		}
		served = true
		return batch(t, 3), nil
	})
	ctrl := lifecycle.New(lifecycle.WithMaxItems(1))
	handled := 0
	loop := NewLoop("test", recv, Options{Lifecycle: ctrl})

	reason, err := loop.Run(context.Background(), func(context.Context, *message.Message) error {
		handled++
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonMaxItems, reason)
	assert.Equal(t, 3, handled)
	assert.Equal(t, int64(3), ctrl.Guard().Processed())
}

func TestLoopSkipsMessagesWhoseAckFailed(t *testing.T) {
	deliveries := batch(t, 3)
	deliveries[1].Ack = func(context.Context) error { return errors.New("receipt expired") }
	served := false
	recv := ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		if served {
			return nil, nil
		}
		served = true
		return deliveries, nil
	})
	obs := &recordingObserver{}
	var seen []any
	loop := NewLoop("test", recv, Options{Lifecycle: lifecycle.New(lifecycle.WithMaxItems(2)), Observer: obs})

	reason, err := loop.Run(context.Background(), func(_ context.Context, msg *message.Message) error {
		seen = append(seen, msg.Payload()["n"])
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonMaxItems, reason)
	assert.Equal(t, []any{int64(0), int64(2)}, seen)
	assert.Equal(t, 1, obs.ackFailed)
}

func TestLoopContainsHandlerFailures(t *testing.T) {
	deliveries := append(batch(t, 2), Delivery{Body: []byte("{not json"), Priority: PriorityLow})
	served := false
	recv := ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		if served {
			return batch(t, 1), nil
		}
		served = true
		return deliveries, nil
	})
	obs := &recordingObserver{}
	calls := 0
	loop := NewLoop("test", recv, Options{Lifecycle: lifecycle.New(lifecycle.WithMaxItems(4)), Observer: obs})

	reason, err := loop.Run(context.Background(), func(context.Context, *message.Message) error {
		calls++
		switch calls {
		case 1:
			panic("boom")
		case 2:
			return errors.New("handler failed")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonMaxItems, reason)
	assert.Equal(t, 3, calls)

	require.Len(t, obs.processed, 4)
	assert.ErrorIs(t, obs.processed[0], ErrHandlerPanic)
	assert.EqualError(t, obs.processed[1], "handler failed")
	assert.ErrorIs(t, obs.processed[2], serializer.ErrMalformed)
	assert.NoError(t, obs.processed[3])
	assert.Equal(t, []lifecycle.Reason{lifecycle.ReasonMaxItems}, obs.stopped)
}

func TestLoopBacksOffOnReceiveErrors(t *testing.T) {
	attempts := 0
	recv := ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		attempts++
		if attempts <= 3 {
			return nil, errors.New("connection reset")
		}
		return batch(t, 1), nil
	})
	var delays []time.Duration
	obs := &recordingObserver{}
	loop := NewLoop("test", recv, Options{
		Lifecycle: lifecycle.New(lifecycle.WithMaxItems(1)),
		Observer:  obs,
		Backoff:   Backoff{Initial: 10 * time.Millisecond, Max: time.Second},
		Sleep: func(_ context.Context, d time.Duration) bool {
			delays = append(delays, d)
			return true
		},
	})

	reason, err := loop.Run(context.Background(), func(context.Context, *message.Message) error { return nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonMaxItems, reason)
	assert.Equal(t, 3, obs.recvFail)
	require.Len(t, delays, 3)
	for _, d := range delays {
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second+time.Second/2)
	}
}

// notifyingSignal is a memory signal that also pushes change notifications.
type notifyingSignal struct {
	*signal.Memory
	events chan struct{}
}

func (n notifyingSignal) Notify(context.Context) (<-chan struct{}, error) {
	return n.events, nil
}

func (n notifyingSignal) fire(t *testing.T, at time.Time) {
	require.NoError(t, n.Trigger(context.Background(), at))
	select {
	case n.events <- struct{}{}:
	default:
	}
}

func (o *recordingObserver) receiveFailures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recvFail
}

func TestLoopReceiveBackoffWakesOnSignal(t *testing.T) {
	shutdown := notifyingSignal{Memory: signal.NewMemory(), events: make(chan struct{}, 1)}
	ctrl := lifecycle.New(lifecycle.WithShutdown(shutdown))
	recv := ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		return nil, errors.New("connection refused")
	})
	obs := &recordingObserver{}
	loop := NewLoop("test", recv, Options{
		Lifecycle: ctrl,
		Observer:  obs,
		Backoff:   Backoff{Initial: time.Minute, Max: time.Minute},
	})

	type result struct {
		reason lifecycle.Reason
		err    error
	}
	done := make(chan result, 1)
	go func() {
		reason, err := loop.Run(context.Background(), func(context.Context, *message.Message) error { return nil }, nil)
		done <- result{reason, err}
	}()

	require.Eventually(t, func() bool { return obs.receiveFailures() > 0 }, 5*time.Second, 5*time.Millisecond)
	shutdown.fire(t, ctrl.StartedAt())

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, lifecycle.ReasonShutdown, res.reason)
		assert.Equal(t, 1, obs.receiveFailures(), "the backoff sleep ended early")
	case <-time.After(5 * time.Second):
		t.Fatal("loop stayed in receive backoff after a shutdown notification")
	}
}

func TestLoopHandlerContextIsDetached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recv := ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		d := batch(t, 1)
		d[0].Priority = PriorityHigh
		return d, nil
	})
	var handlerErr error
	var priority Priority
	loop := NewLoop("test", recv, Options{})

	reason, err := loop.Run(ctx, func(hctx context.Context, _ *message.Message) error {
		cancel()
		handlerErr = hctx.Err()
		priority, _ = PriorityFromContext(hctx)
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ReasonCancelled, reason)
	assert.NoError(t, handlerErr)
	assert.Equal(t, PriorityHigh, priority)
}

func TestLoopRequiresHandler(t *testing.T) {
	loop := NewLoop("test", ReceiverFunc(func(context.Context, []Priority, time.Duration) ([]Delivery, error) {
		return nil, nil
	}), Options{})
	_, err := loop.Run(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestLoopPassesPollWindowAndPriorities(t *testing.T) {
	var gotWait time.Duration
	var gotPriorities []Priority
	recv := ReceiverFunc(func(_ context.Context, priorities []Priority, wait time.Duration) ([]Delivery, error) {
		gotWait, gotPriorities = wait, priorities
		return batch(t, 1), nil
	})
	loop := NewLoop("test", recv, Options{PollTimeout: 250 * time.Millisecond, Lifecycle: lifecycle.New(lifecycle.WithMaxItems(1))})

	_, err := loop.Run(context.Background(), func(context.Context, *message.Message) error { return nil }, []Priority{PriorityHigh, PriorityLow})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, gotWait)
	assert.Equal(t, []Priority{PriorityHigh, PriorityLow}, gotPriorities)
}
