// Package memory provides an in-process driver with priority queues and
// delayed delivery. Messages do not survive the process.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

const Name = "memory"

var Capabilities = driver.Capabilities{
	Name:             Name,
	SupportsPriority: true,
	SupportsDelay:    true,
}

func init() {
	driver.RegisterWithCapabilities(Name, Build, Capabilities)
}

// Build ignores every config value except the queue name and priority queues.
func Build(_ context.Context, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	d := New(cfg.GetQueueName(), opts)
	if err := driver.SetupPriorityQueues(d, cfg.GetPriorityQueues()); err != nil {
		return nil, err
	}
	return d, nil
}

type entry struct {
	body    []byte
	availAt time.Time
}

// Driver keeps one FIFO per physical queue.
type Driver struct {
	opts   driver.Options
	queues *driver.QueueSet

	mu      sync.Mutex
	items   map[string][]entry
	arrived chan struct{}
}

func New(queue string, opts driver.Options) *Driver {
	if queue == "" {
		queue = "hermes"
	}
	return &Driver{
		opts:    opts.WithDefaults(),
		queues:  driver.NewQueueSet(queue),
		items:   make(map[string][]entry),
		arrived: make(chan struct{}),
	}
}

func (d *Driver) Capabilities() driver.Capabilities { return Capabilities }

func (d *Driver) SetupPriorityQueue(name string, priority driver.Priority) error {
	return d.queues.Setup(name, priority)
}

func (d *Driver) Send(_ context.Context, msg *message.Message, priority driver.Priority) (err error) {
	defer func() { d.opts.Observer.MessageSent(Name, typeOf(msg), priority, err) }()

	queue, err := d.queues.Name(priority)
	if err != nil {
		return err
	}
	body, err := d.opts.Serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("memory: serialize: %w", err)
	}

	d.mu.Lock()
	d.items[queue] = append(d.items[queue], entry{body: body, availAt: msg.ExecuteAt()})
	close(d.arrived)
	d.arrived = make(chan struct{})
	d.mu.Unlock()
	return nil
}

func (d *Driver) Wait(ctx context.Context, handler driver.Handler, priorities ...driver.Priority) (lifecycle.Reason, error) {
	ordered, err := d.queues.Ordered(priorities)
	if err != nil {
		return lifecycle.ReasonNone, err
	}
	return driver.NewLoop(Name, d, d.opts).Run(ctx, handler, ordered)
}

// Receive pops up to BatchSize due messages from the highest non-empty
// queue, waiting for a Send when every queue is empty.
func (d *Driver) Receive(ctx context.Context, priorities []driver.Priority, wait time.Duration) ([]driver.Delivery, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		out, arrived, next := d.take(priorities)
		if len(out) > 0 {
			return out, nil
		}
		var due <-chan time.Time
		var dueTimer *time.Timer
		if !next.IsZero() {
			dueTimer = time.NewTimer(max(next.Sub(d.opts.Now()), time.Millisecond))
			due = dueTimer.C
		}
		expired := false
		select {
		case <-ctx.Done():
			expired = true
		case <-deadline.C:
			expired = true
		case <-arrived:
		case <-due:
		}
		if dueTimer != nil {
			dueTimer.Stop()
		}
		if expired {
			return nil, nil
		}
	}
}

// take returns the popped batch, the channel closed on the next Send and the
// earliest pending execute time.
func (d *Driver) take(priorities []driver.Priority) ([]driver.Delivery, <-chan struct{}, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.opts.Now()
	var next time.Time
	for _, p := range priorities {
		queue, err := d.queues.Name(p)
		if err != nil {
			continue
		}
		pending := d.items[queue]
		var out []driver.Delivery
		kept := pending[:0]
		for _, e := range pending {
			if len(out) < d.opts.BatchSize && (e.availAt.IsZero() || !e.availAt.After(now)) {
				out = append(out, driver.Delivery{Body: e.body, Priority: p})
				continue
			}
			if !e.availAt.IsZero() && e.availAt.After(now) && (next.IsZero() || e.availAt.Before(next)) {
				next = e.availAt
			}
			kept = append(kept, e)
		}
		d.items[queue] = kept
		if len(out) > 0 {
			return out, d.arrived, time.Time{}
		}
	}
	return nil, d.arrived, next
}

// Len returns the number of queued messages across every queue.
func (d *Driver) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.items {
		n += len(q)
	}
	return n
}

func typeOf(msg *message.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Type()
}
