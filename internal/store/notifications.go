package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NotificationRecord logs one finding delivered to one or more channels.
type NotificationRecord struct {
	MissionID      string
	CycleID        int64
	ObservationKey string
	Priority       string
	Title          string
	Channels       []string
	SentAt         time.Time
}

// RecordNotification appends a delivery to the notification history.
func (l *Ledger) RecordNotification(ctx context.Context, n NotificationRecord) error {
	sent := n.SentAt
	if sent.IsZero() {
		sent = l.now()
	}
	var cycle any
	if n.CycleID > 0 {
		cycle = n.CycleID
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO notifications (mission_id, cycle_id, observation_key, priority, title, channels, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.MissionID, cycle, n.ObservationKey, n.Priority, n.Title, strings.Join(n.Channels, ","), formatTime(sent))
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// NotifiedKeys returns the observation keys already delivered for a mission.
func (l *Ledger) NotifiedKeys(ctx context.Context, missionID string) (map[string]bool, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT DISTINCT observation_key FROM notifications WHERE mission_id = ?`, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read notification history: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

// CountNotifications returns how many deliveries were recorded for a mission.
func (l *Ledger) CountNotifications(ctx context.Context, missionID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE mission_id = ?`, missionID).Scan(&n)
	return n, err
}
