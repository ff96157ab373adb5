package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Migration adds one nullable or defaulted column. Rows written before the
// column existed keep working.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists the additive schema changes, oldest first.
var pendingMigrations = []Migration{
	{"cycle_log", "sources_fetched", "INTEGER DEFAULT 0"},
	{"cycle_log", "cost_usd", "REAL DEFAULT 0"},
	{"cycle_log", "pruned_plan_items", "INTEGER DEFAULT 0"},
	{"sources", "cycle_id", "INTEGER"},
}

func (m Migration) name() string { return m.Table + "." + m.Column }

// runMigrations applies any missing columns and records them.
func (l *Ledger) runMigrations(ctx context.Context) error {
	applied, skipped := 0, 0
	for _, m := range pendingMigrations {
		if !tableExists(ctx, l.db, m.Table) {
			skipped++
			continue
		}
		if columnExists(ctx, l.db, m.Table, m.Column) {
			skipped++
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := l.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.name(), err)
		}
		if _, err := l.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			m.name(), formatTime(l.now())); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.name(), err)
		}
		l.log.Info("migration applied", zap.String("column", m.name()))
		applied++
	}
	l.log.Debug("schema migrations complete", zap.Int("applied", applied), zap.Int("skipped", skipped))
	return nil
}

// AppliedMigrations lists recorded migrations in application order.
func (l *Ledger) AppliedMigrations(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT name FROM schema_migrations ORDER BY applied_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// columnExists checks a column with PRAGMA table_info.
func columnExists(ctx context.Context, db *sql.DB, table, column string) bool {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(ctx context.Context, db *sql.DB, table string) bool {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}
