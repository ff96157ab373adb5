package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MissionRecord is a row of the mission registry.
type MissionRecord struct {
	ID          string
	Name        string
	Description string
	Status      string
	CreatedAt   time.Time
}

// MissionStats summarizes a mission's cycle history.
type MissionStats struct {
	MissionID   string
	Name        string
	Status      string
	TotalCycles int
	LastCycleAt *time.Time
}

// RegisterMission inserts the mission or refreshes its name, description and
// status. Counters and created_at are preserved on conflict.
func (l *Ledger) RegisterMission(ctx context.Context, m MissionRecord) error {
	created := m.CreatedAt
	if created.IsZero() {
		created = l.now()
	}
	status := m.Status
	if status == "" {
		status = "active"
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO missions (id, name, description, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status`,
		m.ID, m.Name, m.Description, status, formatTime(created))
	if err != nil {
		return fmt.Errorf("failed to register mission %s: %w", m.ID, err)
	}
	return nil
}

// SetMissionStatus updates the registry status.
func (l *Ledger) SetMissionStatus(ctx context.Context, id, status string) error {
	res, err := l.db.ExecContext(ctx, `UPDATE missions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set status of %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mission %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteMission removes the mission and every dependent row in one
// transaction. Deleting an unknown mission is not an error.
func (l *Ledger) DeleteMission(ctx context.Context, id string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM notifications WHERE mission_id = ?`,
		`DELETE FROM sources WHERE mission_id = ?`,
		`DELETE FROM cycle_log WHERE mission_id = ?`,
		`DELETE FROM missions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete mission %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	l.log.Debug("mission removed from ledger", zap.String("mission", id))
	return nil
}

// MissionStats returns the counters of one mission, or ErrNotFound.
func (l *Ledger) MissionStats(ctx context.Context, id string) (*MissionStats, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, name, status, total_cycles, last_cycle_at FROM missions WHERE id = ?`, id)
	st, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stats of %s: %w", id, err)
	}
	return st, nil
}

// ListMissionStats returns every registered mission ordered by id.
func (l *Ledger) ListMissionStats(ctx context.Context) ([]*MissionStats, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, name, status, total_cycles, last_cycle_at FROM missions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	defer rows.Close()

	var out []*MissionStats
	for rows.Next() {
		st, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStats(s scanner) (*MissionStats, error) {
	var st MissionStats
	var last sql.NullString
	if err := s.Scan(&st.MissionID, &st.Name, &st.Status, &st.TotalCycles, &last); err != nil {
		return nil, err
	}
	st.LastCycleAt = parseTime(last)
	return &st, nil
}
