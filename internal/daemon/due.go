package daemon

import (
	"time"

	"github.com/robfig/cron/v3"

	"ghost/internal/config"
)

// Interval returns the fixed cadence of a schedule, defaulting to daily for an
// unknown tier.
func Interval(sched config.ScheduleConfig) time.Duration {
	if d, ok := config.CadenceDurations[sched.Interval]; ok {
		return d
	}
	return config.CadenceDurations[config.IntervalDaily]
}

// NextDue returns when a mission last run at lastCycleAt becomes due again.
// A mission that never ran is due at the zero time. An explicit cron
// expression overrides the cadence tier.
func NextDue(sched config.ScheduleConfig, lastCycleAt *time.Time) time.Time {
	if lastCycleAt == nil {
		return time.Time{}
	}
	if sched.Cron != "" {
		if s, err := cron.ParseStandard(sched.Cron); err == nil {
			return s.Next(*lastCycleAt)
		}
	}
	return lastCycleAt.Add(Interval(sched))
}

// IsDue reports whether a mission should run at now: it never ran, or its
// cadence has fully elapsed since the last completed cycle.
func IsDue(sched config.ScheduleConfig, lastCycleAt *time.Time, now time.Time) bool {
	if lastCycleAt == nil {
		return true
	}
	return !now.Before(NextDue(sched, lastCycleAt))
}
