// Package daemon decides which missions are due and runs their cycles one at
// a time, either in the foreground or as a detached background process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ghost/internal/cycle"
	"ghost/internal/lock"
	"ghost/internal/logging"
	"ghost/internal/mission"
	"ghost/internal/store"
)

// Runner runs one cycle.
type Runner interface {
	Run(ctx context.Context, m *mission.Mission) (*cycle.Result, error)
}

// MissionSource lists missions on disk.
type MissionSource interface {
	List() ([]*mission.Mission, error)
}

// StatsReader reads the ledger rows scheduling decisions depend on.
type StatsReader interface {
	MissionStats(ctx context.Context, id string) (*store.MissionStats, error)
	LastCycle(ctx context.Context, missionID string) (*store.CycleEntry, error)
}

// Options wires a Scheduler.
type Options struct {
	Runner   Runner
	Missions MissionSource
	Stats    StatsReader
	Logger   *zap.Logger

	// TickInterval defaults to one minute.
	TickInterval time.Duration
	// FailureBackoff holds a mission back after a failed cycle. Zero disables.
	FailureBackoff time.Duration
	// WatchDir, when set, requests an early tick when missions change on disk.
	WatchDir string
	// Debounce groups bursts of filesystem events into one early tick.
	Debounce time.Duration
	// CycleContext carries in-flight cycles. It outlives the loop context so a
	// shutdown lets the current phase finish; cancel it to abort the cycle.
	CycleContext context.Context

	Now func() time.Time
}

// Scheduler runs due missions sequentially, one tick at a time.
type Scheduler struct {
	runner   Runner
	missions MissionSource
	stats    StatsReader
	log      *zap.Logger

	interval time.Duration
	backoff  time.Duration
	watchDir string
	debounce time.Duration
	cycleCtx context.Context
	now      func() time.Time

	mu     sync.Mutex
	warned map[string]bool
	ticks  int
}

// NewScheduler returns a scheduler.
func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		runner:   opts.Runner,
		missions: opts.Missions,
		stats:    opts.Stats,
		log:      opts.Logger,
		interval: opts.TickInterval,
		backoff:  opts.FailureBackoff,
		watchDir: opts.WatchDir,
		debounce: opts.Debounce,
		cycleCtx: opts.CycleContext,
		now:      opts.Now,
		warned:   make(map[string]bool),
	}
	if s.log == nil {
		s.log = logging.Get(logging.CategoryDaemon)
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	if s.debounce <= 0 {
		s.debounce = 2 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TickSummary counts what one tick did.
type TickSummary struct {
	Ran     int
	Failed  int
	Locked  int
	Backoff int
	NotDue  int
}

// Run ticks immediately, then on every interval and on debounced mission
// directory changes, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", zap.Duration("interval", s.interval), zap.String("watch", s.watchDir))

	kick := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)

	if s.watchDir != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			s.log.Warn("mission watcher unavailable", zap.Error(err))
		} else if err := w.Add(s.watchDir); err != nil {
			w.Close()
			s.log.Warn("mission watcher unavailable", zap.String("dir", s.watchDir), zap.Error(err))
		} else {
			g.Go(func() error {
				defer w.Close()
				s.watch(gctx, w, kick)
				return nil
			})
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.safeTick(gctx)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.safeTick(gctx)
			case <-kick:
				s.log.Debug("missions changed, ticking early")
				s.safeTick(gctx)
			}
		}
	})

	err := g.Wait()
	s.log.Info("scheduler stopped", zap.Int("ticks", s.Ticks()))
	return err
}

// watch turns bursts of filesystem events into single kicks once the
// directory has been quiet for the debounce window.
func (s *Scheduler) watch(ctx context.Context, w *fsnotify.Watcher, kick chan<- struct{}) {
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			s.log.Debug("mission dir event", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			pending = time.After(s.debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("mission watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	}
}

// safeTick runs Tick and keeps a panic from taking the daemon down.
func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("tick failed", zap.Error(err))
	}
}

// Tick runs every due, unlocked, active mission once, in listing order.
// Mission failures are logged and counted; only a failure to list missions
// is returned.
func (s *Scheduler) Tick(ctx context.Context) (TickSummary, error) {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()

	var sum TickSummary
	missions, err := s.missions.List()
	if err != nil {
		return sum, fmt.Errorf("list missions: %w", err)
	}

	for _, m := range missions {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !m.Active() {
			continue
		}
		s.tickMission(ctx, m, &sum)
	}
	if sum.Ran > 0 || sum.Failed > 0 {
		s.log.Info("tick complete",
			zap.Int("ran", sum.Ran), zap.Int("failed", sum.Failed),
			zap.Int("locked", sum.Locked), zap.Int("backoff", sum.Backoff))
	}
	return sum, nil
}

func (s *Scheduler) tickMission(ctx context.Context, m *mission.Mission, sum *TickSummary) {
	log := s.log.With(zap.String("mission", m.ID))

	if lock.IsCycleLocked(m.Dir) {
		sum.Locked++
		if s.markWarned(m.ID) {
			log.Warn("mission is locked, skipping until the lock is released")
		}
		return
	}
	s.clearWarned(m.ID)

	now := s.now()
	last, err := s.lastCycleAt(ctx, m.ID)
	if err != nil {
		log.Error("failed to read mission stats", zap.Error(err))
		sum.Failed++
		return
	}
	if !IsDue(m.Config.Schedule, last, now) {
		sum.NotDue++
		return
	}
	if s.inBackoff(ctx, m.ID, now) {
		sum.Backoff++
		log.Debug("mission failed recently, backing off", zap.Duration("backoff", s.backoff))
		return
	}

	log.Info("mission due, starting cycle")
	res, err := s.runner.Run(s.cycleContext(ctx), m)
	switch {
	case errors.Is(err, cycle.ErrCycleLocked):
		sum.Locked++
		s.markWarned(m.ID)
		log.Warn("mission locked at cycle start, skipping")
	case err != nil:
		sum.Failed++
		log.Error("cycle error", zap.Error(err))
	case !res.Succeeded():
		sum.Failed++
		log.Warn("cycle failed", zap.String("error", res.Error))
	default:
		sum.Ran++
	}
}

func (s *Scheduler) lastCycleAt(ctx context.Context, id string) (*time.Time, error) {
	st, err := s.stats.MissionStats(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st.LastCycleAt, nil
}

func (s *Scheduler) inBackoff(ctx context.Context, id string, now time.Time) bool {
	if s.backoff <= 0 {
		return false
	}
	last, err := s.stats.LastCycle(ctx, id)
	if err != nil || last == nil || !last.Failed() {
		return false
	}
	end := last.StartedAt
	if last.CompletedAt != nil {
		end = *last.CompletedAt
	}
	return now.Sub(end) < s.backoff
}

func (s *Scheduler) cycleContext(loop context.Context) context.Context {
	if s.cycleCtx != nil {
		return s.cycleCtx
	}
	return context.WithoutCancel(loop)
}

// markWarned records a lock warning and reports whether it is the first of
// this lock episode.
func (s *Scheduler) markWarned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warned[id] {
		return false
	}
	s.warned[id] = true
	return true
}

func (s *Scheduler) clearWarned(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.warned, id)
}

// Ticks returns how many ticks have started.
func (s *Scheduler) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}
