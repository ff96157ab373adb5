// Package cycle runs one research cycle for one mission:
//
//	Research -> Observe -> [Reflect] -> Plan -> Notify -> Snapshot -> Cleanup
//
// The mission's checkpoint file doubles as its lock for the whole run and is
// rewritten at every phase transition. Any phase error aborts the remaining
// phases; cleanup, lock release and the ledger row happen on every path.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"ghost/internal/agent"
	"ghost/internal/config"
	"ghost/internal/lock"
	"ghost/internal/logging"
	"ghost/internal/memory"
	"ghost/internal/mission"
	"ghost/internal/notify"
	"ghost/internal/store"
)

var (
	// ErrMissionInactive rejects paused and completed missions.
	ErrMissionInactive = errors.New("mission is not active")
	// ErrCycleLocked rejects a mission whose previous cycle still holds the lock.
	ErrCycleLocked = errors.New("mission has a cycle in progress")
)

// Phase names as written to the checkpoint.
const (
	PhaseStarting = "starting"
	PhaseResearch = "research"
	PhaseObserve  = "observe"
	PhaseReflect  = "reflect"
	PhasePlan     = "plan"
	PhaseNotify   = "notify"
	PhaseSnapshot = "snapshot"
	PhaseCleanup  = "cleanup"

	TotalPhases = 5
)

var phaseNumbers = map[string]int{
	PhaseStarting: 0,
	PhaseResearch: 1,
	PhaseObserve:  2,
	PhaseReflect:  3,
	PhasePlan:     4,
	PhaseNotify:   5,
	PhaseSnapshot: 5,
	PhaseCleanup:  5,
}

// Ledger is the part of the store the orchestrator writes to.
type Ledger interface {
	RegisterMission(ctx context.Context, m store.MissionRecord) error
	StartCycle(ctx context.Context, missionID string) (int64, error)
	EndCycle(ctx context.Context, cycleID int64, out store.CycleOutcome) error
	InsertSources(ctx context.Context, records []store.SourceRecord) (int, error)
	NotifiedKeys(ctx context.Context, missionID string) (map[string]bool, error)
	RecordNotification(ctx context.Context, n store.NotificationRecord) error
}

// Notifier delivers findings.
type Notifier interface {
	Notify(ctx context.Context, target notify.Target, findings []memory.Finding) (notify.Delivery, error)
}

// Result summarizes a finished cycle. A failed cycle still has a Result;
// Error carries the phase failure.
type Result struct {
	MissionID         string
	CycleID           int64
	SourcesFetched    int
	SourcesCached     int
	ObservationsAdded int
	SkippedEntries    int
	Reflected         bool
	PlanUpdated       bool
	PrunedPlanItems   []string
	NotificationsSent int
	CostUSD           float64
	Error             string
	Duration          time.Duration

	err error
}

// Err returns the phase error, if any.
func (r *Result) Err() error { return r.err }

// Succeeded reports a cycle without phase error.
func (r *Result) Succeeded() bool { return r.Error == "" }

func (r *Result) outcome() store.CycleOutcome {
	return store.CycleOutcome{
		ObservationsAdded: r.ObservationsAdded,
		SourcesFetched:    r.SourcesFetched,
		Reflected:         r.Reflected,
		PlanUpdated:       r.PlanUpdated,
		PrunedPlanItems:   len(r.PrunedPlanItems),
		NotificationsSent: r.NotificationsSent,
		CostUSD:           r.CostUSD,
		Error:             r.Error,
	}
}

// Options wires an Orchestrator.
type Options struct {
	Agent             agent.Agent
	Ledger            Ledger
	Notifier          Notifier
	Config            *config.Config
	GlobalContextPath string
	Logger            *zap.Logger
	Tracer            trace.Tracer
	Now               func() time.Time
}

// Orchestrator runs cycles. It holds no per-mission state and may be reused.
type Orchestrator struct {
	agent    agent.Agent
	ledger   Ledger
	notifier Notifier
	cfg      *config.Config
	global   string
	log      *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New returns an orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		agent:    opts.Agent,
		ledger:   opts.Ledger,
		notifier: opts.Notifier,
		cfg:      opts.Config,
		global:   opts.GlobalContextPath,
		log:      opts.Logger,
		tracer:   opts.Tracer,
		now:      opts.Now,
	}
	if o.cfg == nil {
		o.cfg = config.DefaultConfig()
	}
	if o.log == nil {
		o.log = logging.Get(logging.CategoryCycle)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("ghost/cycle")
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// run carries the state of one cycle.
type run struct {
	m      *mission.Mission
	art    *memory.Artifacts
	status lock.Status
	res    *Result
	log    *zap.Logger
}

// Run executes one cycle. The returned error covers preconditions and ledger
// bookkeeping; phase failures are reported in Result.Error.
func (o *Orchestrator) Run(ctx context.Context, m *mission.Mission) (*Result, error) {
	if !m.Active() {
		return nil, fmt.Errorf("%s (%s): %w", m.ID, m.Config.Status, ErrMissionInactive)
	}
	if lock.IsCycleLocked(m.Dir) {
		return nil, fmt.Errorf("%s: %w", m.ID, ErrCycleLocked)
	}

	start := o.now()
	r := &run{
		m:   m,
		art: memory.NewArtifacts(m.Dir, o.global),
		status: lock.Status{
			Phase:          PhaseStarting,
			TotalPhases:    TotalPhases,
			StartedAt:      start,
			PhaseStartedAt: start,
			PID:            os.Getpid(),
		},
		res: &Result{MissionID: m.ID},
		log: o.log.With(zap.String("mission", m.ID)),
	}

	if err := lock.Acquire(m.Dir, r.status); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("%s: %w", m.ID, ErrCycleLocked)
		}
		return nil, err
	}
	defer lock.ReleaseCycleLock(m.Dir)

	ctx, span := o.tracer.Start(ctx, "cycle.Run", trace.WithAttributes(attribute.String("mission", m.ID)))
	defer span.End()

	if err := o.ledger.RegisterMission(ctx, m.Record()); err != nil {
		return nil, err
	}
	cycleID, err := o.ledger.StartCycle(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	r.res.CycleID = cycleID
	r.log = r.log.With(zap.Int64("cycle", cycleID))
	r.log.Info("cycle started", zap.String("name", m.Name()))

	phaseErr := o.runPhases(ctx, r)

	// Cleanup runs whether or not the phases succeeded.
	o.cleanup(ctx, r)

	res := r.res
	res.Duration = o.now().Sub(start)
	if phaseErr != nil {
		res.err = phaseErr
		res.Error = phaseErr.Error()
		span.RecordError(phaseErr)
		span.SetStatus(codes.Error, "cycle failed")
		r.log.Error("cycle failed", zap.Error(phaseErr), zap.Duration("elapsed", res.Duration))
	} else {
		r.log.Info("cycle complete",
			zap.Int("observations", res.ObservationsAdded),
			zap.Int("sources", res.SourcesFetched),
			zap.Bool("reflected", res.Reflected),
			zap.Int("notifications", res.NotificationsSent),
			zap.Float64("cost_usd", res.CostUSD),
			zap.Duration("elapsed", res.Duration))
	}

	// The ledger row is written even when the caller's context is gone.
	if err := o.ledger.EndCycle(context.WithoutCancel(ctx), cycleID, res.outcome()); err != nil {
		r.log.Error("failed to record cycle end", zap.Error(err))
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) runPhases(ctx context.Context, r *run) error {
	steps := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{PhaseResearch, o.research},
		{PhaseObserve, o.observe},
		{PhaseReflect, o.reflect},
		{PhasePlan, o.plan},
		{PhaseNotify, o.notify},
		{PhaseSnapshot, o.snapshot},
	}
	for _, step := range steps {
		o.checkpoint(r, step.name)
		if err := o.traced(ctx, step.name, func(ctx context.Context) error { return step.fn(ctx, r) }); err != nil {
			if errors.Is(err, agent.ErrAgentFailed) {
				return err
			}
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// traced runs one phase inside a span. A panic in the phase becomes its
// error so cleanup and the ledger row still happen.
func (o *Orchestrator) traced(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	ctx, span := o.tracer.Start(ctx, "cycle."+name)
	defer span.End()
	timer := logging.StartTimer(logging.CategoryCycle, "phase "+name)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panicked: %v", p)
		}
		timer.Stop()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, name+" failed")
		}
	}()
	return fn(ctx)
}

// checkpoint rewrites the lock file with the current phase and counters.
// A failed write is logged; the lock itself is still held.
func (o *Orchestrator) checkpoint(r *run, phase string) {
	r.status.Phase = phase
	r.status.PhaseNumber = phaseNumbers[phase]
	r.status.PhaseStartedAt = o.now()
	r.status.SourcesFound = r.res.SourcesFetched
	r.status.ObservationsAdded = r.res.ObservationsAdded
	if err := lock.Update(r.m.Dir, r.status); err != nil {
		r.log.Warn("failed to write checkpoint", zap.String("phase", phase), zap.Error(err))
		return
	}
	r.log.Info(fmt.Sprintf("phase %d/%d: %s", r.status.PhaseNumber, TotalPhases, phase))
}

func (o *Orchestrator) invoke(ctx context.Context, r *run, phase agent.Phase, prompt string, caps []agent.Capability, dir string) error {
	res, err := o.agent.Invoke(ctx, agent.Request{
		Phase:        phase,
		Prompt:       prompt,
		SystemPrompt: agent.SystemPrompt(phase),
		Capabilities: caps,
		WorkDir:      dir,
		MaxTurns:     o.cfg.Agent.TurnsFor(string(phase)),
	})
	if res != nil {
		r.res.CostUSD += res.CostUSD
	}
	return agent.Check(phase, res, err)
}
