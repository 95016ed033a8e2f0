// Package pubsub adapts any Watermill publisher/subscriber pair to the
// driver contract. Each priority queue is a topic; the broker packages
// (amqp, kafka, nats) and the in-process channel backend build on it.
package pubsub

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

const (
	// MetadataType and MetadataExecuteAt are copied onto the Watermill
	// message so brokers can route and inspect without decoding the body.
	MetadataType      = "hermes_type"
	MetadataExecuteAt = "hermes_execute_at"
)

// Driver publishes to and consumes from one topic per priority.
type Driver struct {
	name   string
	pub    wmmessage.Publisher
	sub    wmmessage.Subscriber
	queues *driver.QueueSet
	opts   driver.Options
	caps   driver.Capabilities

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	channels map[string]<-chan *wmmessage.Message
	onClose  []func() error
}

// New adapts pub and sub. Subscriptions are opened lazily on the first
// receive and live until Close.
func New(caps driver.Capabilities, pub wmmessage.Publisher, sub wmmessage.Subscriber, topic string, opts driver.Options) *Driver {
	if topic == "" {
		topic = "hermes"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		name:     caps.Name,
		pub:      pub,
		sub:      sub,
		queues:   driver.NewQueueSet(topic),
		opts:     opts.WithDefaults(),
		caps:     caps,
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]<-chan *wmmessage.Message),
	}
}

func (d *Driver) Capabilities() driver.Capabilities { return d.caps }

func (d *Driver) SetupPriorityQueue(name string, priority driver.Priority) error {
	return d.queues.Setup(name, priority)
}

func (d *Driver) Send(_ context.Context, msg *message.Message, priority driver.Priority) (err error) {
	if msg == nil {
		return fmt.Errorf("%s: nil message", d.name)
	}
	defer func() { d.opts.Observer.MessageSent(d.name, msg.Type(), priority, err) }()

	topic, err := d.queues.Name(priority)
	if err != nil {
		return err
	}
	body, err := d.opts.Serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("%s: serialize: %w", d.name, err)
	}
	wm := wmmessage.NewMessage(msg.ID(), body)
	wm.Metadata.Set(MetadataType, msg.Type())
	if at := msg.ExecuteAt(); !at.IsZero() {
		wm.Metadata.Set(MetadataExecuteAt, strconv.FormatInt(at.UnixMilli(), 10))
	}
	if err := d.pub.Publish(topic, wm); err != nil {
		return fmt.Errorf("%s: publish to %s: %w", d.name, topic, err)
	}
	return nil
}

func (d *Driver) Wait(ctx context.Context, handler driver.Handler, priorities ...driver.Priority) (lifecycle.Reason, error) {
	ordered, err := d.queues.Ordered(priorities)
	if err != nil {
		return lifecycle.ReasonNone, err
	}
	return driver.NewLoop(d.name, d, d.opts).Run(ctx, handler, ordered)
}

func (d *Driver) channel(topic string) (<-chan *wmmessage.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.channels[topic]; ok {
		return ch, nil
	}
	ch, err := d.sub.Subscribe(d.ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("%s: subscribe to %s: %w", d.name, topic, err)
	}
	d.channels[topic] = ch
	return ch, nil
}

// Receive drains the highest topic with buffered messages first, then waits
// up to wait for the first message on any topic.
func (d *Driver) Receive(ctx context.Context, priorities []driver.Priority, wait time.Duration) ([]driver.Delivery, error) {
	chans := make([]<-chan *wmmessage.Message, len(priorities))
	for i, p := range priorities {
		topic, err := d.queues.Name(p)
		if err != nil {
			return nil, err
		}
		if chans[i], err = d.channel(topic); err != nil {
			return nil, err
		}
	}

	for i, ch := range chans {
		if out := d.drain(ch, priorities[i]); len(out) > 0 {
			return out, nil
		}
	}
	if wait <= 0 {
		return nil, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	cases := make([]reflect.SelectCase, 0, len(chans)+2)
	for _, ch := range chans {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
	}
	cases = append(cases,
		reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)},
	)

	chosen, value, ok := reflect.Select(cases)
	if chosen >= len(chans) {
		return nil, nil
	}
	if !ok {
		return nil, fmt.Errorf("%s: subscription closed", d.name)
	}
	first := d.delivery(value.Interface().(*wmmessage.Message), priorities[chosen])
	return append([]driver.Delivery{first}, d.drainUpTo(chans[chosen], priorities[chosen], d.opts.BatchSize-1)...), nil
}

func (d *Driver) drain(ch <-chan *wmmessage.Message, p driver.Priority) []driver.Delivery {
	return d.drainUpTo(ch, p, d.opts.BatchSize)
}

func (d *Driver) drainUpTo(ch <-chan *wmmessage.Message, p driver.Priority, n int) []driver.Delivery {
	var out []driver.Delivery
	for len(out) < n {
		select {
		case wm, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, d.delivery(wm, p))
		default:
			return out
		}
	}
	return out
}

func (d *Driver) delivery(wm *wmmessage.Message, p driver.Priority) driver.Delivery {
	return driver.Delivery{
		Body:     wm.Payload,
		Priority: p,
		Ack: func(context.Context) error {
			if !wm.Ack() {
				return fmt.Errorf("%s: message %s was already nacked", d.name, wm.UUID)
			}
			return nil
		},
	}
}

// OnClose registers fn to run after both sides are closed, for resources
// the builder shares between them.
func (d *Driver) OnClose(fn func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClose = append(d.onClose, fn)
}

// Close stops the subscriptions and closes both sides.
func (d *Driver) Close() error {
	d.cancel()
	var firstErr error
	if err := d.pub.Close(); err != nil {
		firstErr = err
	}
	if d.sub != nil && any(d.sub) != any(d.pub) {
		if err := d.sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.mu.Lock()
	hooks := d.onClose
	d.onClose = nil
	d.mu.Unlock()
	for _, fn := range hooks {
		if err := fn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		d.opts.Logger.Error("Failed to close pub/sub", firstErr, watermill.LogFields{"driver": d.name})
	}
	return firstErr
}
