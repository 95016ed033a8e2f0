// Package postgres binds the SQL queue driver to PostgreSQL. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never block on each other.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/driver/sqlqueue"
)

const Name = "postgres"

var Capabilities = driver.Capabilities{
	Name:             Name,
	SupportsPriority: true,
	SupportsDelay:    true,
	MaxMessageSize:   1 << 30,
}

var Dialect = sqlqueue.Dialect{
	Name: Name,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			queue TEXT NOT NULL,
			payload BYTEA NOT NULL,
			available_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
	},
	Index: func(table string) string {
		name := strings.ReplaceAll(table, ".", "_")
		return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_queue_available ON %s(queue, available_at, id)`, name, table)
	},
	Insert: `INSERT INTO %s (queue, payload, available_at, created_at) VALUES ($1, $2, $3, $4)`,
	Claim: `DELETE FROM %[1]s WHERE id IN (
			SELECT id FROM %[1]s
			WHERE queue = $1 AND available_at <= $2
			ORDER BY available_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) RETURNING id, available_at, payload`,
	Count: `SELECT COUNT(*) FROM %s WHERE queue = $1`,
}

// OpenDB allows overriding the connection for testing.
var OpenDB = func(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return db, nil
}

func init() {
	driver.RegisterWithCapabilities(Name, Build, Capabilities)
}

func Build(ctx context.Context, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	url := cfg.GetPostgresURL()
	if url == "" {
		return nil, fmt.Errorf("postgres URL is required")
	}
	db, err := OpenDB(ctx, url)
	if err != nil {
		return nil, err
	}
	d, err := sqlqueue.New(ctx, db, Dialect, cfg.GetQueueName(), opts, sqlqueue.WithOwnedDB())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := driver.SetupPriorityQueues(d, cfg.GetPriorityQueues()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}
