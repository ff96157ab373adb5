// Package store is the mission ledger: an embedded SQLite database holding the
// mission registry, the cycle log, the cached source working sets and the
// notification history. One *Ledger is opened per process and shared.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"ghost/internal/logging"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCgo     = "sqlite3" // github.com/mattn/go-sqlite3
)

// ErrNotFound is returned when a mission or cycle row does not exist.
var ErrNotFound = errors.New("not found")

// Options configures Open.
type Options struct {
	Driver string
	Path   string // ":memory:" for an ephemeral ledger
	Logger *zap.Logger
}

// Ledger wraps the shared database handle.
type Ledger struct {
	db   *sql.DB
	path string
	log  *zap.Logger
	now  func() time.Time
}

// Open creates (if needed) and opens the ledger, applies pragmas, creates
// the schema and runs additive migrations.
func Open(ctx context.Context, opts Options) (*Ledger, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	log := opts.Logger
	if log == nil {
		log = logging.Get(logging.CategoryStore)
	}
	driver := opts.Driver
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCgo {
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}

	if opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	l := &Ledger{db: db, path: opts.Path, log: log, now: time.Now}
	if err := l.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := l.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("ledger ready", zap.String("driver", driver), zap.String("path", opts.Path))
	return l, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string { return l.path }

// SetClock overrides the ledger's time source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

const schema = `
CREATE TABLE IF NOT EXISTS missions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL,
	last_cycle_at TEXT,
	total_cycles INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cycle_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mission_id TEXT NOT NULL REFERENCES missions(id),
	started_at TEXT NOT NULL,
	completed_at TEXT,
	observations_added INTEGER DEFAULT 0,
	reflected INTEGER DEFAULT 0,
	plan_updated INTEGER DEFAULT 0,
	notifications_sent INTEGER DEFAULT 0,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_cycle_log_mission ON cycle_log(mission_id, started_at);

CREATE TABLE IF NOT EXISTS sources (
	id TEXT NOT NULL,
	mission_id TEXT NOT NULL REFERENCES missions(id),
	url TEXT NOT NULL,
	title TEXT,
	source_type TEXT,
	relevance REAL,
	summary TEXT,
	raw_excerpt TEXT,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (mission_id, id)
);

CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mission_id TEXT NOT NULL REFERENCES missions(id),
	cycle_id INTEGER,
	observation_key TEXT NOT NULL,
	priority TEXT NOT NULL,
	title TEXT NOT NULL,
	channels TEXT NOT NULL,
	sent_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_key ON notifications(mission_id, observation_key);

CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
);
`

func (l *Ledger) initialize(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
