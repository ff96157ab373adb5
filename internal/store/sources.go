package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SourceRecord is a cached source from a mission's working set.
type SourceRecord struct {
	ID         string
	MissionID  string
	CycleID    int64
	URL        string
	Title      string
	SourceType string
	Relevance  float64
	Summary    string
	Excerpt    string
	FetchedAt  time.Time
}

// InsertSources caches records in one transaction. A record whose id is
// already cached for the mission replaces the earlier copy.
func (l *Ledger) InsertSources(ctx context.Context, records []SourceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sources (id, mission_id, cycle_id, url, title, source_type, relevance, summary, raw_excerpt, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mission_id, id) DO UPDATE SET
			cycle_id = excluded.cycle_id,
			title = excluded.title,
			source_type = excluded.source_type,
			relevance = excluded.relevance,
			summary = excluded.summary,
			raw_excerpt = excluded.raw_excerpt,
			fetched_at = excluded.fetched_at`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare source insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		fetched := r.FetchedAt
		if fetched.IsZero() {
			fetched = l.now()
		}
		var cycle any
		if r.CycleID > 0 {
			cycle = r.CycleID
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.MissionID, cycle, r.URL, r.Title, r.SourceType,
			r.Relevance, r.Summary, r.Excerpt, formatTime(fetched)); err != nil {
			return 0, fmt.Errorf("failed to cache source %s: %w", r.URL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sources: %w", err)
	}
	return len(records), nil
}

const sourceColumns = `id, mission_id, COALESCE(cycle_id, 0), url, COALESCE(title, ''), COALESCE(source_type, ''),
	COALESCE(relevance, 0), COALESCE(summary, ''), COALESCE(raw_excerpt, ''), fetched_at`

// ListSources returns cached sources, most relevant first.
func (l *Ledger) ListSources(ctx context.Context, missionID string, limit int) ([]SourceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.querySources(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE mission_id = ? ORDER BY relevance DESC, fetched_at DESC LIMIT ?`,
		missionID, limit)
}

// SearchSources matches query as a substring of title, summary or excerpt.
func (l *Ledger) SearchSources(ctx context.Context, missionID, query string, limit int) ([]SourceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"
	return l.querySources(ctx, `SELECT `+sourceColumns+` FROM sources
		WHERE mission_id = ?
		AND (title LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\' OR raw_excerpt LIKE ? ESCAPE '\')
		ORDER BY relevance DESC, fetched_at DESC LIMIT ?`,
		missionID, pattern, pattern, pattern, limit)
}

func (l *Ledger) querySources(ctx context.Context, query string, args ...any) ([]SourceRecord, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var out []SourceRecord
	for rows.Next() {
		var r SourceRecord
		var fetched sql.NullString
		if err := rows.Scan(&r.ID, &r.MissionID, &r.CycleID, &r.URL, &r.Title, &r.SourceType,
			&r.Relevance, &r.Summary, &r.Excerpt, &fetched); err != nil {
			return nil, err
		}
		if t := parseTime(fetched); t != nil {
			r.FetchedAt = *t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
