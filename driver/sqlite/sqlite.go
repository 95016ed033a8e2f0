// Package sqlite binds the SQL queue driver to SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/ricco24/hermes/driver"
	"github.com/ricco24/hermes/driver/sqlqueue"
)

const Name = "sqlite"

var Capabilities = driver.Capabilities{
	Name:             Name,
	SupportsPriority: true,
	SupportsDelay:    true,
}

// Dialect needs SQLite 3.35 or newer for DELETE ... RETURNING.
var Dialect = sqlqueue.Dialect{
	Name: Name,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			payload BLOB NOT NULL,
			available_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	},
	Index:  index,
	Insert: `INSERT INTO %s (queue, payload, available_at, created_at) VALUES (?, ?, ?, ?)`,
	Claim: `DELETE FROM %[1]s WHERE id IN (
			SELECT id FROM %[1]s
			WHERE queue = ? AND available_at <= ?
			ORDER BY available_at, id
			LIMIT ?
		) RETURNING id, available_at, payload`,
	Count: `SELECT COUNT(*) FROM %s WHERE queue = ?`,
}

// index qualifies the index name rather than the table, as SQLite requires
// for tables in an attached database.
func index(table string) string {
	schema, name := "", table
	if i := strings.IndexByte(table, '.'); i >= 0 {
		schema, name = table[:i+1], table[i+1:]
	}
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %sidx_%s_queue_available ON %s(queue, available_at, id)`, schema, name, name)
}

func init() {
	driver.RegisterWithCapabilities(Name, Build, Capabilities)
}

func Build(ctx context.Context, cfg driver.Config, opts driver.Options) (driver.Driver, error) {
	d, err := New(ctx, cfg.GetSQLiteFile(), cfg.GetQueueName(), opts)
	if err != nil {
		return nil, err
	}
	if err := driver.SetupPriorityQueues(d, cfg.GetPriorityQueues()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Open opens path with a single connection; ":memory:" works for tests.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = "hermes_queue.db"
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// New opens path and returns a driver owning the handle.
func New(ctx context.Context, path, queue string, opts driver.Options, options ...sqlqueue.Option) (*sqlqueue.Driver, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	d, err := sqlqueue.New(ctx, db, Dialect, queue, opts, append(options, sqlqueue.WithOwnedDB())...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}
