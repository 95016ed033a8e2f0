package driver

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/cenkalti/backoff/v5"

	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

// Delivery is one raw message handed out by a Receiver.
type Delivery struct {
	Body     []byte
	Priority Priority
	// Ack removes the message from the backend. Nil means the receive
	// already removed it.
	Ack func(ctx context.Context) error
}

// Receiver is the backend half of a driver.
type Receiver interface {
	// Receive fetches up to one batch, draining the highest of priorities
	// first. It blocks for at most wait and returns an empty slice when
	// nothing is available.
	Receive(ctx context.Context, priorities []Priority, wait time.Duration) ([]Delivery, error)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, priorities []Priority, wait time.Duration) ([]Delivery, error)

func (f ReceiverFunc) Receive(ctx context.Context, priorities []Priority, wait time.Duration) ([]Delivery, error) {
	return f(ctx, priorities, wait)
}

// ErrHandlerPanic wraps a recovered handler panic.
var ErrHandlerPanic = errors.New("driver: handler panicked")

// Loop is the wait algorithm every driver runs:
//
//	check restart, then shutdown and the guard; stop when one fires
//	receive with a bounded wait
//	acknowledge every delivery, then hand each acknowledged one to the handler
//	on an empty poll re-check the signals and sleep SleepInterval
type Loop struct {
	name     string
	receiver Receiver
	opts     Options
}

func NewLoop(name string, receiver Receiver, opts Options) *Loop {
	return &Loop{name: name, receiver: receiver, opts: opts.WithDefaults()}
}

// Run blocks until a lifecycle check stops it. The returned error is only
// set when the loop could not start.
func (l *Loop) Run(ctx context.Context, handler Handler, priorities []Priority) (lifecycle.Reason, error) {
	if handler == nil {
		return lifecycle.ReasonNone, errors.New("driver: handler is required")
	}
	logger := l.opts.Logger.With(watermill.LogFields{"driver": l.name})

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	wake, err := l.opts.Lifecycle.Watch(watchCtx)
	if err != nil {
		logger.Error("Signal watch unavailable, relying on polling", err, nil)
		wake = nil
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     l.opts.Backoff.Initial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         l.opts.Backoff.Max,
	}
	bo.Reset()

	logger.Debug("Wait loop started", watermill.LogFields{"priorities": fmt.Sprint(priorities)})

	for {
		if reason := l.opts.Lifecycle.Check(ctx); reason.Stopped() {
			return l.stop(logger, reason), nil
		}

		deliveries, err := l.receiver.Receive(ctx, priorities, l.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			delay := bo.NextBackOff()
			l.opts.Observer.ReceiveFailed(l.name, err)
			logger.Error("Receive failed", err, watermill.LogFields{"retry_in": delay.String()})
			l.sleep(ctx, delay, wake)
			continue
		}
		bo.Reset()

		if len(deliveries) == 0 {
			if l.opts.SleepInterval > 0 {
				if reason := l.opts.Lifecycle.Check(ctx); reason.Stopped() {
					return l.stop(logger, reason), nil
				}
				l.sleep(ctx, l.opts.SleepInterval, wake)
			}
			continue
		}

		l.process(ctx, logger, handler, deliveries)
	}
}

func (l *Loop) stop(logger watermill.LoggerAdapter, reason lifecycle.Reason) lifecycle.Reason {
	l.opts.Observer.LoopStopped(l.name, reason)
	logger.Info("Wait loop stopped", watermill.LogFields{"reason": reason.String()})
	return reason
}

func (l *Loop) sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	if l.opts.Sleep != nil {
		return l.opts.Sleep(ctx, d)
	}
	return lifecycle.Sleep(ctx, d, wake)
}

// process acknowledges the whole batch first so a guard or signal firing
// mid-batch never leaves an acknowledged message unhandled.
func (l *Loop) process(ctx context.Context, logger watermill.LoggerAdapter, handler Handler, deliveries []Delivery) {
	detached := context.WithoutCancel(ctx)

	acked := deliveries[:0:0]
	for _, d := range deliveries {
		l.opts.Observer.MessageReceived(l.name, d.Priority)
		if d.Ack != nil {
			if err := d.Ack(detached); err != nil {
				l.opts.Observer.AckFailed(l.name, err)
				logger.Error("Acknowledge failed, skipping message", err, watermill.LogFields{"priority": d.Priority.String()})
				continue
			}
		}
		acked = append(acked, d)
	}

	for _, d := range acked {
		l.handle(WithPriority(detached, d.Priority), logger, handler, d)
		l.opts.Lifecycle.RecordProcessed()
	}
}

func (l *Loop) handle(ctx context.Context, logger watermill.LoggerAdapter, handler Handler, d Delivery) {
	started := l.opts.Now()

	msg, err := l.opts.Serializer.Deserialize(d.Body)
	if err != nil {
		l.opts.Observer.MessageProcessed(l.name, "", l.opts.Now().Sub(started), err)
		logger.Error("Dropping undecodable message", err, watermill.LogFields{"priority": d.Priority.String()})
		return
	}

	err = invoke(ctx, handler, msg)
	l.opts.Observer.MessageProcessed(l.name, msg.Type(), l.opts.Now().Sub(started), err)
	fields := watermill.LogFields{"message_id": msg.ID(), "message_type": msg.Type()}
	if err != nil {
		logger.Error("Handler failed", err, fields)
		return
	}
	logger.Trace("Message handled", fields)
}

func invoke(ctx context.Context, handler Handler, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack())
		}
	}()
	return handler(ctx, msg)
}
