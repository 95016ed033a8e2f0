// Package sqlqueue implements the driver over one SQL table. A receive claims
// rows by deleting them, so a row is handed to exactly one worker.
package sqlqueue

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/lifecycle"
	"github.com/ricco24/hermes/message"
)

const (
	DefaultTable = "hermes_messages"
	DefaultQueue = "hermes"

	// DefaultPollInterval spaces the claims made while waiting for rows.
	DefaultPollInterval = 100 * time.Millisecond
)

// Dialect holds the statements of one database. Each statement contains a
// single %s replaced by the table name.
type Dialect struct {
	Name string
	// Schema is executed once by New.
	Schema []string
	// Index builds the claim index statement for a table. The index name is
	// derived from the table so several queues can share one database.
	Index func(table string) string
	// Insert takes queue, payload, available_at, created_at.
	Insert string
	// Claim takes queue, now, limit and returns id, available_at, payload of
	// the deleted rows.
	Claim string
	// Count takes queue.
	Count string
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type Driver struct {
	db      *sql.DB
	dialect Dialect
	table   string
	queues  *driver.QueueSet
	opts    driver.Options

	pollInterval time.Duration
	ownsDB       bool
}

// Option configures a Driver.
type Option func(*Driver)

func WithTable(table string) Option {
	return func(d *Driver) { d.table = table }
}

func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) { d.pollInterval = interval }
}

// WithOwnedDB makes Close close the database handle.
func WithOwnedDB() Option {
	return func(d *Driver) { d.ownsDB = true }
}

// New creates the table when missing. queue names the default priority queue.
func New(ctx context.Context, db *sql.DB, dialect Dialect, queue string, opts driver.Options, options ...Option) (*Driver, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	d := &Driver{
		db:           db,
		dialect:      dialect,
		table:        DefaultTable,
		queues:       driver.NewQueueSet(queue),
		opts:         opts.WithDefaults(),
		pollInterval: DefaultPollInterval,
	}
	for _, o := range options {
		o(d)
	}
	if !tableName.MatchString(d.table) {
		return nil, fmt.Errorf("%s: invalid table name %q", dialect.Name, d.table)
	}
	if d.pollInterval <= 0 {
		d.pollInterval = DefaultPollInterval
	}
	schema := make([]string, 0, len(dialect.Schema)+1)
	for _, stmt := range dialect.Schema {
		schema = append(schema, d.query(stmt))
	}
	if dialect.Index != nil {
		schema = append(schema, dialect.Index(d.table))
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: initialize schema: %w", dialect.Name, err)
		}
	}
	return d, nil
}

func (d *Driver) query(stmt string) string {
	return fmt.Sprintf(stmt, d.table)
}

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{Name: d.dialect.Name, SupportsPriority: true, SupportsDelay: true}
}

func (d *Driver) SetupPriorityQueue(name string, priority driver.Priority) error {
	return d.queues.Setup(name, priority)
}

func (d *Driver) Send(ctx context.Context, msg *message.Message, priority driver.Priority) (err error) {
	if msg == nil {
		return fmt.Errorf("%s: nil message", d.dialect.Name)
	}
	defer func() { d.opts.Observer.MessageSent(d.dialect.Name, msg.Type(), priority, err) }()

	queue, err := d.queues.Name(priority)
	if err != nil {
		return err
	}
	body, err := d.opts.Serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("%s: serialize: %w", d.dialect.Name, err)
	}
	now := d.opts.Now()
	availableAt := now
	if at := msg.ExecuteAt(); !at.IsZero() {
		availableAt = at
	}
	if _, err := d.db.ExecContext(ctx, d.query(d.dialect.Insert), queue, body, availableAt.UnixMicro(), now.UnixMicro()); err != nil {
		return fmt.Errorf("%s: insert into %s: %w", d.dialect.Name, queue, err)
	}
	return nil
}

func (d *Driver) Wait(ctx context.Context, handler driver.Handler, priorities ...driver.Priority) (lifecycle.Reason, error) {
	ordered, err := d.queues.Ordered(priorities)
	if err != nil {
		return lifecycle.ReasonNone, err
	}
	return driver.NewLoop(d.dialect.Name, d, d.opts).Run(ctx, handler, ordered)
}

// Receive claims from the highest queue holding due rows, polling every
// poll interval until wait elapses.
func (d *Driver) Receive(ctx context.Context, priorities []driver.Priority, wait time.Duration) ([]driver.Delivery, error) {
	deadline := time.Now().Add(wait)
	for {
		out, err := d.claim(ctx, priorities)
		if err != nil || len(out) > 0 {
			return out, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if !lifecycle.Sleep(ctx, min(remaining, d.pollInterval), nil) {
			return nil, nil
		}
	}
}

type claimed struct {
	id          int64
	availableAt int64
	payload     []byte
}

func (d *Driver) claim(ctx context.Context, priorities []driver.Priority) ([]driver.Delivery, error) {
	now := d.opts.Now().UnixMicro()
	for _, p := range priorities {
		queue, err := d.queues.Name(p)
		if err != nil {
			return nil, err
		}
		rows, err := d.db.QueryContext(ctx, d.query(d.dialect.Claim), queue, now, d.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, fmt.Errorf("%s: claim from %s: %w", d.dialect.Name, queue, err)
		}
		var batch []claimed
		for rows.Next() {
			var c claimed
			if err := rows.Scan(&c.id, &c.availableAt, &c.payload); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("%s: scan claimed row: %w", d.dialect.Name, err)
			}
			batch = append(batch, c)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%s: claim from %s: %w", d.dialect.Name, queue, err)
		}
		if len(batch) == 0 {
			continue
		}

		// RETURNING does not keep the ORDER BY of the sub-select.
		slices.SortFunc(batch, func(a, b claimed) int {
			if a.availableAt != b.availableAt {
				return cmp.Compare(a.availableAt, b.availableAt)
			}
			return cmp.Compare(a.id, b.id)
		})
		out := make([]driver.Delivery, len(batch))
		for i, c := range batch {
			out[i] = driver.Delivery{Body: c.payload, Priority: p}
		}
		return out, nil
	}
	return nil, nil
}

// Pending counts the rows of the queue bound to priority, due or not.
func (d *Driver) Pending(ctx context.Context, priority driver.Priority) (int64, error) {
	queue, err := d.queues.Name(priority)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := d.db.QueryRowContext(ctx, d.query(d.dialect.Count), queue).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count %s: %w", d.dialect.Name, queue, err)
	}
	return n, nil
}

func (d *Driver) DB() *sql.DB { return d.db }

func (d *Driver) Close() error {
	if !d.ownsDB {
		return nil
	}
	if err := d.db.Close(); err != nil {
		d.opts.Logger.Error("Failed to close database", err, watermill.LogFields{"dialect": d.dialect.Name})
		return err
	}
	return nil
}
