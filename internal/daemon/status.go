package daemon

import (
	"context"
	"time"

	"ghost/internal/config"
	"ghost/internal/lock"
	"ghost/internal/mission"
)

// Mission scheduling states shown by the daemon status.
const (
	StateRunning   = "running"
	StateDue       = "due"
	StateWaiting   = "waiting"
	StatePaused    = "paused"
	StateCompleted = "completed"
)

// MissionState is one mission's row in the daemon status.
type MissionState struct {
	ID          string
	Name        string
	State       string
	Phase       string
	LastCycleAt *time.Time
	NextDue     time.Time
	TotalCycles int
}

// Describe computes the scheduling state of each mission. Ledger read errors
// are returned; a mission missing from the ledger has never run.
func Describe(ctx context.Context, missions []*mission.Mission, stats StatsReader, now time.Time) ([]MissionState, error) {
	sched := &Scheduler{stats: stats}
	out := make([]MissionState, 0, len(missions))
	for _, m := range missions {
		st := MissionState{ID: m.ID, Name: m.Name()}
		last, err := sched.lastCycleAt(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		st.LastCycleAt = last
		st.NextDue = NextDue(m.Config.Schedule, last)
		if ms, err := stats.MissionStats(ctx, m.ID); err == nil {
			st.TotalCycles = ms.TotalCycles
		}

		switch {
		case m.Config.Status == config.StatusPaused:
			st.State = StatePaused
		case m.Config.Status == config.StatusCompleted:
			st.State = StateCompleted
		case lock.IsCycleLocked(m.Dir):
			st.State = StateRunning
			if cp, err := lock.Read(m.Dir); err == nil {
				st.Phase = cp.Phase
			}
		case IsDue(m.Config.Schedule, last, now):
			st.State = StateDue
		default:
			st.State = StateWaiting
		}
		out = append(out, st)
	}
	return out, nil
}
