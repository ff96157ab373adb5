package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrCycleClosed is returned when EndCycle is called twice for one cycle.
var ErrCycleClosed = errors.New("cycle already ended")

// CycleOutcome is what a finished cycle reports to the ledger.
type CycleOutcome struct {
	ObservationsAdded int
	SourcesFetched    int
	Reflected         bool
	PlanUpdated       bool
	PrunedPlanItems   int
	NotificationsSent int
	CostUSD           float64
	Error             string
}

// CycleEntry is one row of the cycle log.
type CycleEntry struct {
	ID          int64
	MissionID   string
	StartedAt   time.Time
	CompletedAt *time.Time
	CycleOutcome
}

// Succeeded reports whether the cycle completed without error.
func (c *CycleEntry) Succeeded() bool { return c.CompletedAt != nil && c.Error == "" }

// Failed reports whether the cycle completed with an error.
func (c *CycleEntry) Failed() bool { return c.CompletedAt != nil && c.Error != "" }

// StartCycle opens a cycle row and returns its id.
func (l *Ledger) StartCycle(ctx context.Context, missionID string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO cycle_log (mission_id, started_at) VALUES (?, ?)`,
		missionID, formatTime(l.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to start cycle for %s: %w", missionID, err)
	}
	return res.LastInsertId()
}

// EndCycle records the outcome of a cycle. Completion fields are written at
// most once. A successful cycle also increments the mission's total_cycles
// and sets last_cycle_at, in the same transaction.
func (l *Ledger) EndCycle(ctx context.Context, cycleID int64, out CycleOutcome) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var missionID string
	var completed sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT mission_id, completed_at FROM cycle_log WHERE id = ?`, cycleID).
		Scan(&missionID, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("cycle %d: %w", cycleID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read cycle %d: %w", cycleID, err)
	}
	if completed.Valid {
		return fmt.Errorf("cycle %d: %w", cycleID, ErrCycleClosed)
	}

	now := formatTime(l.now())
	var errText any
	if out.Error != "" {
		errText = out.Error
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE cycle_log SET
			completed_at = ?,
			observations_added = ?,
			sources_fetched = ?,
			reflected = ?,
			plan_updated = ?,
			pruned_plan_items = ?,
			notifications_sent = ?,
			cost_usd = ?,
			error = ?
		WHERE id = ?`,
		now, out.ObservationsAdded, out.SourcesFetched, boolInt(out.Reflected), boolInt(out.PlanUpdated),
		out.PrunedPlanItems, out.NotificationsSent, out.CostUSD, errText, cycleID); err != nil {
		return fmt.Errorf("failed to end cycle %d: %w", cycleID, err)
	}

	if out.Error == "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE missions SET total_cycles = total_cycles + 1, last_cycle_at = ? WHERE id = ?`,
			now, missionID); err != nil {
			return fmt.Errorf("failed to update mission counters: %w", err)
		}
	}
	return tx.Commit()
}

const cycleColumns = `id, mission_id, started_at, completed_at, observations_added,
	COALESCE(sources_fetched, 0), reflected, plan_updated, COALESCE(pruned_plan_items, 0),
	notifications_sent, COALESCE(cost_usd, 0), error`

// LastCycle returns the most recently started cycle, or nil when the mission
// has never run.
func (l *Ledger) LastCycle(ctx context.Context, missionID string) (*CycleEntry, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+cycleColumns+` FROM cycle_log WHERE mission_id = ? ORDER BY id DESC LIMIT 1`, missionID)
	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last cycle of %s: %w", missionID, err)
	}
	return c, nil
}

// RecentCycles returns up to limit cycles, newest first.
func (l *Ledger) RecentCycles(ctx context.Context, missionID string, limit int) ([]*CycleEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+cycleColumns+` FROM cycle_log WHERE mission_id = ? ORDER BY id DESC LIMIT ?`, missionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles of %s: %w", missionID, err)
	}
	defer rows.Close()

	var out []*CycleEntry
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCycle(s scanner) (*CycleEntry, error) {
	var c CycleEntry
	var started, completed, errText sql.NullString
	var reflected, planUpdated int
	err := s.Scan(&c.ID, &c.MissionID, &started, &completed, &c.ObservationsAdded,
		&c.SourcesFetched, &reflected, &planUpdated, &c.PrunedPlanItems,
		&c.NotificationsSent, &c.CostUSD, &errText)
	if err != nil {
		return nil, err
	}
	if t := parseTime(started); t != nil {
		c.StartedAt = *t
	}
	c.CompletedAt = parseTime(completed)
	c.Reflected = reflected != 0
	c.PlanUpdated = planUpdated != 0
	c.Error = errText.String
	return &c, nil
}
