package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), Options{
		Driver: DriverModernc,
		Path:   filepath.Join(t.TempDir(), "ghost.db"),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestOpen_Drivers(t *testing.T) {
	for _, driver := range []string{DriverModernc, DriverCgo} {
		t.Run(driver, func(t *testing.T) {
			l, err := Open(context.Background(), Options{Driver: driver, Path: filepath.Join(t.TempDir(), "ghost.db")})
			if err != nil && strings.Contains(err.Error(), "cgo") {
				t.Skip("cgo driver unavailable in this build")
			}
			require.NoError(t, err)
			defer l.Close()

			ctx := context.Background()
			require.NoError(t, l.RegisterMission(ctx, MissionRecord{ID: "m", Name: "M"}))
			st, err := l.MissionStats(ctx, "m")
			require.NoError(t, err)
			assert.Equal(t, 0, st.TotalCycles)
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "postgres", Path: ":memory:"})
	require.Error(t, err)
}

func TestOpen_MigratesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open(DriverModernc, path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE missions (id TEXT PRIMARY KEY, name TEXT NOT NULL, description TEXT,
			status TEXT NOT NULL DEFAULT 'active', created_at TEXT NOT NULL, last_cycle_at TEXT,
			total_cycles INTEGER NOT NULL DEFAULT 0);
		CREATE TABLE cycle_log (id INTEGER PRIMARY KEY AUTOINCREMENT, mission_id TEXT NOT NULL,
			started_at TEXT NOT NULL, completed_at TEXT, observations_added INTEGER DEFAULT 0,
			reflected INTEGER DEFAULT 0, plan_updated INTEGER DEFAULT 0,
			notifications_sent INTEGER DEFAULT 0, error TEXT);
		INSERT INTO missions (id, name, created_at) VALUES ('old', 'Old', '2025-01-01T00:00:00Z');
		INSERT INTO cycle_log (mission_id, started_at, completed_at, observations_added)
			VALUES ('old', '2025-01-01T00:00:00Z', '2025-01-01T00:05:00Z', 4);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	l, err := Open(context.Background(), Options{Path: path})
	require.NoError(t, err)
	defer l.Close()

	applied, err := l.AppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Contains(t, applied, "cycle_log.cost_usd")
	assert.Contains(t, applied, "cycle_log.sources_fetched")

	last, err := l.LastCycle(context.Background(), "old")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 4, last.ObservationsAdded)
	assert.Equal(t, 0.0, last.CostUSD)
	assert.True(t, last.Succeeded())

	// Reopening applies nothing new.
	require.NoError(t, l.Close())
	l2, err := Open(context.Background(), Options{Path: path})
	require.NoError(t, err)
	defer l2.Close()
	again, err := l2.AppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, applied, again)
}

func TestRegisterMission_PreservesCounters(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RegisterMission(ctx, MissionRecord{ID: "m", Name: "First"}))
	id, err := l.StartCycle(ctx, "m")
	require.NoError(t, err)
	require.NoError(t, l.EndCycle(ctx, id, CycleOutcome{ObservationsAdded: 2}))

	require.NoError(t, l.RegisterMission(ctx, MissionRecord{ID: "m", Name: "Renamed", Status: "paused"}))
	st, err := l.MissionStats(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", st.Name)
	assert.Equal(t, "paused", st.Status)
	assert.Equal(t, 1, st.TotalCycles)
	assert.NotNil(t, st.LastCycleAt)
}

func TestEndCycle_CountersOnlyOnSuccess(t *testing.T) {
	l := openTestLedger(t)
	clock := &fakeClock{t: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	l.SetClock(clock.now)
	ctx := context.Background()
	require.NoError(t, l.RegisterMission(ctx, MissionRecord{ID: "m", Name: "M"}))

	failed, err := l.StartCycle(ctx, "m")
	require.NoError(t, err)
	require.NoError(t, l.EndCycle(ctx, failed, CycleOutcome{Error: "research: agent failed"}))

	st, err := l.MissionStats(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalCycles)
	assert.Nil(t, st.LastCycleAt)

	last, err := l.LastCycle(ctx, "m")
	require.NoError(t, err)
	assert.True(t, last.Failed())
	assert.Equal(t, "research: agent failed", last.Error)

	clock.t = clock.t.Add(time.Hour)
	ok, err := l.StartCycle(ctx, "m")
	require.NoError(t, err)
	require.NoError(t, l.EndCycle(ctx, ok, CycleOutcome{ObservationsAdded: 3, SourcesFetched: 7, Reflected: true, PlanUpdated: true, NotificationsSent: 1, CostUSD: 0.42}))

	st, err = l.MissionStats(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalCycles)
	require.NotNil(t, st.LastCycleAt)
	assert.True(t, st.LastCycleAt.Equal(clock.t))

	recent, err := l.RecentCycles(ctx, "m", 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ok, recent[0].ID)
	assert.Equal(t, 7, recent[0].SourcesFetched)
	assert.InDelta(t, 0.42, recent[0].CostUSD, 1e-9)
	assert.True(t, recent[0].Reflected)
}

func TestEndCycle_OnlyOnce(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RegisterMission(ctx, MissionRecord{ID: "m", Name: "M"}))
	id, err := l.StartCycle(ctx, "m")
	require.NoError(t, err)

	require.NoError(t, l.EndCycle(ctx, id, CycleOutcome{}))
	err = l.EndCycle(ctx, id, CycleOutcome{})
	assert.True(t, errors.Is(err, ErrCycleClosed))

	st, err := l.MissionStats(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalCycles)

	assert.True(t, errors.Is(l.EndCycle(ctx, 999, CycleOutcome{}), ErrNotFound))
}

func TestLastCycle_NeverRun(t *testing.T) {
	l := openTestLedger(t)
	last, err := l.LastCycle(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestMissionStats_NotFound(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.MissionStats(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(l.SetMissionStatus(context.Background(), "ghost", "paused"), ErrNotFound))
}

func TestDeleteMission_RemovesDependents(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RegisterMission(ctx, MissionRecord{ID: "m", Name: "M"}))
	require.NoError(t, l.RegisterMission(ctx, MissionRecord{ID: "other", Name: "O"}))

	id, err := l.StartCycle(ctx, "m")
	require.NoError(t, err)
	_, err = l.InsertSources(ctx, []SourceRecord{{ID: "s1", MissionID: "m", CycleID: id, URL: "https://a"}})
	require.NoError(t, err)
	require.NoError(t, l.RecordNotification(ctx, NotificationRecord{MissionID: "m", ObservationKey: "k", Priority: "critical", Title: "t", Channels: []string{"console"}}))

	require.NoError(t, l.DeleteMission(ctx, "m"))
	require.NoError(t, l.DeleteMission(ctx, "m"))

	_, err = l.MissionStats(ctx, "m")
	assert.True(t, errors.Is(err, ErrNotFound))
	srcs, err := l.ListSources(ctx, "m", 0)
	require.NoError(t, err)
	assert.Empty(t, srcs)
	n, err := l.CountNotifications(ctx, "m")
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := l.ListMissionStats(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "other", all[0].MissionID)
}

func TestSources_DedupeAndSearch(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RegisterMission(ctx, MissionRecord{ID: "m", Name: "M"}))

	_, err := l.InsertSources(ctx, []SourceRecord{
		{ID: "a", MissionID: "m", URL: "https://a", Title: "Sulfide electrolytes", Relevance: 0.9},
		{ID: "b", MissionID: "m", URL: "https://b", Title: "Anode 100% silicon", Summary: "under_score", Relevance: 0.5},
	})
	require.NoError(t, err)
	_, err = l.InsertSources(ctx, []SourceRecord{
		{ID: "a", MissionID: "m", URL: "https://a", Title: "Sulfide electrolytes v2", Relevance: 0.95},
	})
	require.NoError(t, err)

	all, err := l.ListSources(ctx, "m", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Sulfide electrolytes v2", all[0].Title)

	hits, err := l.SearchSources(ctx, "m", "100%", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)

	hits, err = l.SearchSources(ctx, "m", "_", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = l.SearchSources(ctx, "m", "sulfide", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	n, err := l.InsertSources(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNotifiedKeys(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RegisterMission(ctx, MissionRecord{ID: "m", Name: "M"}))

	keys, err := l.NotifiedKeys(ctx, "m")
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, ch := range []string{"console", "log"} {
		require.NoError(t, l.RecordNotification(ctx, NotificationRecord{
			MissionID: "m", ObservationKey: "2026-03-01 09:15 X", Priority: "critical", Title: "X", Channels: []string{ch},
		}))
	}
	keys, err = l.NotifiedKeys(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"2026-03-01 09:15 X": true}, keys)
}
