package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wbridge/internal/bus"
	"github.com/matheus3301/wbridge/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

// Publisher receives the change events of committed transactions.
type Publisher interface {
	Publish(evt bus.Event)
}

// DB wraps the SQLite database backing the bridge (wbridge.db).
type DB struct {
	*sql.DB
	queries

	// mu serializes writers so events are published in commit order.
	mu  sync.Mutex
	pub Publisher
}

var _ domain.Repository = (*DB)(nil)

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, queries: queries{q: db}}, nil
}

// SetPublisher sets the sink for change events. Without one, events are discarded.
func (db *DB) SetPublisher(p Publisher) {
	db.mu.Lock()
	db.pub = p
	db.mu.Unlock()
}

// Atomic runs fn inside a transaction. The events fn records are deduplicated
// and published after commit, before the next writer may start.
func (db *DB) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	t := &tx{queries: queries{q: sqlTx}}
	if err := fn(t); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if db.pub != nil {
		now := time.Now()
		for _, evt := range t.events {
			evt.Timestamp = now
			db.pub.Publish(evt)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
