// Package jetstream implements the driver over NATS JetStream. Every priority
// queue is a subject of one work-queue stream, consumed by a durable pull
// consumer.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

const (
	Name = "nats-jetstream"

	DefaultStreamName   = "HERMES"
	DefaultAckWait      = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond

	// HeaderExecuteAt carries the earliest processing time in UNIX milliseconds.
	HeaderExecuteAt = "Hermes-Execute-At"
)

var Capabilities = driver.Capabilities{
	Name:             Name,
	SupportsPriority: true,
	SupportsDelay:    true,
	MaxMessageSize:   1048576,
}

func init() {
	driver.RegisterWithCapabilities(Name, Build, Capabilities)
}

func Build(_ context.Context, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	d, err := New(Config{URL: cfg.GetNATSURL()}, cfg.GetQueueName(), opts)
	if err != nil {
		return nil, err
	}
	if err := driver.SetupPriorityQueues(d, cfg.GetPriorityQueues()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Config holds JetStream-specific settings.
type Config struct {
	URL string
	// StreamName defaults to HERMES.
	StreamName string
	// AckWait bounds the time between fetch and acknowledgment.
	AckWait  time.Duration
	Replicas int
	// PollInterval spaces the fetch rounds while every queue is empty.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

type Driver struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	queues *driver.QueueSet
	opts   driver.Options

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func New(cfg Config, queue string, opts driver.Options) (*Driver, error) {
	cfg = cfg.withDefaults()
	if queue == "" {
		queue = "tasks"
	}
	if err := validToken(queue); err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	d := &Driver{
		nc:     nc,
		js:     js,
		config: cfg,
		queues: driver.NewQueueSet(queue),
		opts:   opts.WithDefaults(),
		subs:   make(map[string]*nats.Subscription),
	}
	if err := d.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	return d, nil
}

func (d *Driver) ensureStream() error {
	streamCfg := streamConfig(d.config)
	if _, err := d.js.AddStream(streamCfg); err != nil {
		if _, err := d.js.UpdateStream(streamCfg); err != nil {
			return err
		}
	}
	return nil
}

func streamConfig(cfg Config) *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.StreamName + ".>"},
		Retention: nats.WorkQueuePolicy,
		Replicas:  cfg.Replicas,
	}
}

func (d *Driver) subject(queue string) string {
	return d.config.StreamName + "." + queue
}

func consumerName(queue string) string {
	return "hermes_" + queue
}

func validToken(queue string) error {
	if queue == "" {
		return driver.ErrQueueNameRequired
	}
	if strings.ContainsAny(queue, ".*> \t\r\n") {
		return fmt.Errorf("jetstream: invalid queue name %q", queue)
	}
	return nil
}

func (d *Driver) Capabilities() driver.Capabilities { return Capabilities }

func (d *Driver) SetupPriorityQueue(name string, priority driver.Priority) error {
	if err := validToken(name); err != nil {
		return err
	}
	return d.queues.Setup(name, priority)
}

func (d *Driver) Send(ctx context.Context, msg *message.Message, priority driver.Priority) (err error) {
	if msg == nil {
		return fmt.Errorf("jetstream: nil message")
	}
	defer func() { d.opts.Observer.MessageSent(Name, msg.Type(), priority, err) }()

	queue, err := d.queues.Name(priority)
	if err != nil {
		return err
	}
	body, err := d.opts.Serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("jetstream: serialize: %w", err)
	}
	natsMsg := &nats.Msg{Subject: d.subject(queue), Data: body, Header: nats.Header{}}
	natsMsg.Header.Set(nats.MsgIdHdr, msg.ID())
	if at := msg.ExecuteAt(); !at.IsZero() {
		natsMsg.Header.Set(HeaderExecuteAt, strconv.FormatInt(at.UnixMilli(), 10))
	}
	if _, err := d.js.PublishMsg(natsMsg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}
	return nil
}

func (d *Driver) Wait(ctx context.Context, handler driver.Handler, priorities ...driver.Priority) (lifecycle.Reason, error) {
	ordered, err := d.queues.Ordered(priorities)
	if err != nil {
		return lifecycle.ReasonNone, err
	}
	return driver.NewLoop(Name, d, d.opts).Run(ctx, handler, ordered)
}

func (d *Driver) subscription(queue string) (*nats.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sub, ok := d.subs[queue]; ok {
		return sub, nil
	}
	consumerCfg := &nats.ConsumerConfig{
		Durable:       consumerName(queue),
		FilterSubject: d.subject(queue),
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       d.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}
	if _, err := d.js.AddConsumer(d.config.StreamName, consumerCfg); err != nil {
		if _, err := d.js.UpdateConsumer(d.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
	}
	sub, err := d.js.PullSubscribe(d.subject(queue), consumerCfg.Durable, nats.Bind(d.config.StreamName, consumerCfg.Durable))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	d.subs[queue] = sub
	return sub, nil
}

// Receive fetches from the highest queue whose consumer has pending or
// redeliverable messages, polling until wait elapses. Messages not yet due are handed back with a
// delayed negative acknowledgment.
func (d *Driver) Receive(ctx context.Context, priorities []driver.Priority, wait time.Duration) ([]driver.Delivery, error) {
	deadline := time.Now().Add(wait)
	for {
		out, err := d.fetch(ctx, priorities)
		if err != nil || len(out) > 0 {
			return out, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if !lifecycle.Sleep(ctx, min(remaining, d.config.PollInterval), nil) {
			return nil, nil
		}
	}
}

func (d *Driver) fetch(ctx context.Context, priorities []driver.Priority) ([]driver.Delivery, error) {
	for _, p := range priorities {
		queue, err := d.queues.Name(p)
		if err != nil {
			return nil, err
		}
		sub, err := d.subscription(queue)
		if err != nil {
			return nil, err
		}
		info, err := sub.ConsumerInfo()
		if err != nil {
			return nil, fmt.Errorf("jetstream: consumer info for %s: %w", queue, err)
		}
		// NumPending leaves out messages handed back with a delayed NAK; they
		// stay ack pending until the server redelivers them.
		if info.NumPending == 0 && info.NumAckPending == 0 && info.NumRedelivered == 0 {
			continue
		}

		msgs, err := sub.Fetch(d.opts.BatchSize, nats.MaxWait(d.config.PollInterval))
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, fmt.Errorf("jetstream: fetch from %s: %w", queue, err)
		}

		out := d.deliveries(msgs, p)
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

func (d *Driver) deliveries(msgs []*nats.Msg, p driver.Priority) []driver.Delivery {
	now := d.opts.Now()
	out := make([]driver.Delivery, 0, len(msgs))
	for _, m := range msgs {
		if until, ok := executeAt(m); ok && until.After(now) {
			if err := m.NakWithDelay(until.Sub(now)); err != nil {
				d.opts.Logger.Error("Failed to NAK delayed message", err, watermill.LogFields{"subject": m.Subject})
			}
			continue
		}
		m := m
		out = append(out, driver.Delivery{
			Body:     m.Data,
			Priority: p,
			Ack: func(ctx context.Context) error {
				return m.AckSync(nats.Context(ctx))
			},
		})
	}
	return out
}

func executeAt(m *nats.Msg) (time.Time, bool) {
	if m.Header == nil {
		return time.Time{}, false
	}
	raw := m.Header.Get(HeaderExecuteAt)
	if raw == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Close unsubscribes every consumer and closes the connection.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for queue, sub := range d.subs {
		if err := sub.Unsubscribe(); err != nil {
			d.opts.Logger.Error("Failed to unsubscribe", err, watermill.LogFields{"queue": queue})
		}
	}
	d.subs = map[string]*nats.Subscription{}
	d.nc.Close()
	return nil
}
