// Package redis implements the driver over Redis lists. Every priority gets
// its own list; delayed messages wait in a sorted set per list and are moved
// over once due.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

const (
	Name = "redis"

	DefaultKey = "hermes_tasks"

	scheduledSuffix = "_scheduled"
	promoteBatch    = 100
)

var Capabilities = driver.Capabilities{
	Name:             Name,
	SupportsPriority: true,
	SupportsDelay:    true,
	MaxMessageSize:   512 * 1024 * 1024,
}

// NewClient is overridable for tests.
var NewClient = func(opts *goredis.Options) goredis.UniversalClient {
	return goredis.NewClient(opts)
}

func init() {
	driver.RegisterWithCapabilities(Name, Build, Capabilities)
}

func Build(ctx context.Context, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	addr := cfg.GetRedisAddr()
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := NewClient(&goredis.Options{
		Addr:     addr,
		Password: cfg.GetRedisPassword(),
		DB:       cfg.GetRedisDB(),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	d := New(client, cfg.GetQueueName(), opts)
	d.ownsClient = true
	if err := driver.SetupPriorityQueues(d, cfg.GetPriorityQueues()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return d, nil
}

// promote moves due members of a scheduled set to the tail of its list.
var promote = goredis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, item in ipairs(items) do
	redis.call('ZREM', KEYS[1], item)
	redis.call('RPUSH', KEYS[2], item)
end
return #items
`)

type Driver struct {
	client     goredis.UniversalClient
	queues     *driver.QueueSet
	opts       driver.Options
	ownsClient bool
}

// New uses key as the list for PriorityDefault; empty means DefaultKey.
func New(client goredis.UniversalClient, key string, opts driver.Options) *Driver {
	if key == "" {
		key = DefaultKey
	}
	return &Driver{
		client: client,
		queues: driver.NewQueueSet(key),
		opts:   opts.WithDefaults(),
	}
}

func (d *Driver) Capabilities() driver.Capabilities { return Capabilities }

func (d *Driver) SetupPriorityQueue(name string, priority driver.Priority) error {
	return d.queues.Setup(name, priority)
}

func (d *Driver) Send(ctx context.Context, msg *message.Message, priority driver.Priority) (err error) {
	if msg == nil {
		return fmt.Errorf("redis: nil message")
	}
	defer func() { d.opts.Observer.MessageSent(Name, msg.Type(), priority, err) }()

	key, err := d.queues.Name(priority)
	if err != nil {
		return err
	}
	body, err := d.opts.Serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("redis: serialize: %w", err)
	}

	if at := msg.ExecuteAt(); !at.IsZero() && at.After(d.opts.Now()) {
		err = d.client.ZAdd(ctx, key+scheduledSuffix, goredis.Z{Score: float64(at.UnixMilli()), Member: body}).Err()
	} else {
		err = d.client.RPush(ctx, key, body).Err()
	}
	if err != nil {
		return fmt.Errorf("redis: push to %s: %w", key, err)
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

// Receive pops from the highest non-empty list. Popping removes the message,
// so deliveries carry no Ack.
func (d *Driver) Receive(ctx context.Context, priorities []driver.Priority, wait time.Duration) ([]driver.Delivery, error) {
	keys := make([]string, 0, len(priorities))
	byKey := make(map[string]driver.Priority, len(priorities))
	now := strconv.FormatInt(d.opts.Now().UnixMilli(), 10)
	for _, p := range priorities {
		key, err := d.queues.Name(p)
		if err != nil {
			return nil, err
		}
		if err := promote.Run(ctx, d.client, []string{key + scheduledSuffix, key}, now, promoteBatch).Err(); err != nil {
			return nil, fmt.Errorf("redis: promote %s: %w", key, err)
		}
		keys = append(keys, key)
		byKey[key] = p
	}

	for _, key := range keys {
		bodies, err := d.client.LPopCount(ctx, key, d.opts.BatchSize).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: pop %s: %w", key, err)
		}
		if len(bodies) > 0 {
			return deliveries(bodies, byKey[key]), nil
		}
	}

	if wait <= 0 || len(keys) == 0 {
		return nil, nil
	}
	res, err := d.client.BLPop(ctx, wait, keys...).Result()
	if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: blocking pop: %w", err)
	}
	return deliveries(res[1:2], byKey[res[0]]), nil
}

func deliveries(bodies []string, p driver.Priority) []driver.Delivery {
	out := make([]driver.Delivery, len(bodies))
	for i, body := range bodies {
		out[i] = driver.Delivery{Body: []byte(body), Priority: p}
	}
	return out
}

// Pending returns the ready and scheduled counts of the list bound to priority.
func (d *Driver) Pending(ctx context.Context, priority driver.Priority) (ready, scheduled int64, err error) {
	key, err := d.queues.Name(priority)
	if err != nil {
		return 0, 0, err
	}
	if ready, err = d.client.LLen(ctx, key).Result(); err != nil {
		return 0, 0, err
	}
	if scheduled, err = d.client.ZCard(ctx, key+scheduledSuffix).Result(); err != nil {
		return 0, 0, err
	}
	return ready, scheduled, nil
}

// Close closes the client when the driver created it.
func (d *Driver) Close() error {
	if d.ownsClient {
		return d.client.Close()
	}
	return nil
}
