package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ghost/internal/agent"
	"ghost/internal/config"
	"ghost/internal/lock"
	"ghost/internal/memory"
	"ghost/internal/mission"
	"ghost/internal/notify"
	"ghost/internal/paths"
	"ghost/internal/store"
)

var testNow = time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	ledger  *store.Ledger
	manager *mission.Manager
	cfg     *config.Config
	sink    *sinkChannel
	layout  paths.Layout
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	layout := paths.New(t.TempDir())
	require.NoError(t, layout.EnsureHome())
	ledger, err := store.Open(context.Background(), store.Options{Path: layout.DBPath(), Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	mg := mission.NewManager(layout, ledger, zap.NewNop())
	mg.SetClock(func() time.Time { return testNow })
	return &harness{t: t, ledger: ledger, manager: mg, cfg: config.DefaultConfig(), sink: &sinkChannel{}, layout: layout}
}

func (h *harness) mission(name string) *mission.Mission {
	h.t.Helper()
	m, err := h.manager.Create(context.Background(), mission.CreateOptions{Name: name, Description: "Track sulfide electrolyte pilot lines"})
	require.NoError(h.t, err)
	return m
}

func (h *harness) orchestrator(a agent.Agent) *Orchestrator {
	return New(Options{
		Agent:    a,
		Ledger:   h.ledger,
		Notifier: notify.New(notify.FailFast, zap.NewNop(), h.sink),
		Config:   h.cfg,
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return testNow },
	})
}

// sinkChannel records every batch it is sent.
type sinkChannel struct {
	mu      sync.Mutex
	batches [][]memory.Finding
	err     error
}

func (s *sinkChannel) Name() string { return "sink" }

func (s *sinkChannel) Send(_ context.Context, _ notify.Target, f []memory.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, f)
	return nil
}

// fakeAgent scripts the file effects of each phase.
type fakeAgent struct {
	sources      int
	observations []memory.Observation
	plan         string
	failPhase    agent.Phase
	calls        []agent.Phase
	checkpoints  map[agent.Phase]string
}

func (f *fakeAgent) Invoke(_ context.Context, req agent.Request) (*agent.Result, error) {
	f.calls = append(f.calls, req.Phase)
	if f.checkpoints == nil {
		f.checkpoints = map[agent.Phase]string{}
	}
	missionDir := req.WorkDir
	if req.Phase == agent.PhaseResearch {
		missionDir = filepath.Dir(req.WorkDir)
	}
	if st, err := lock.Read(missionDir); err == nil {
		f.checkpoints[req.Phase] = st.Phase
	}
	if req.Phase == f.failPhase {
		return &agent.Result{Subtype: "error_max_turns", CostUSD: 0.01}, nil
	}

	switch req.Phase {
	case agent.PhaseResearch:
		for i := 0; i < f.sources; i++ {
			data, _ := json.Marshal(map[string]any{
				"source_url":   fmt.Sprintf("https://example.com/paper/%d", i),
				"source_title": fmt.Sprintf("Paper %d", i),
				"relevance":    0.9,
				"summary":      "Pilot line capacity doubled.",
			})
			if err := os.WriteFile(filepath.Join(req.WorkDir, fmt.Sprintf("src_%d.json", i)), data, 0644); err != nil {
				return nil, err
			}
		}
	case agent.PhaseObserve:
		path := filepath.Join(req.WorkDir, paths.JournalFile)
		journal, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		b.Write(journal)
		for _, o := range f.observations {
			b.WriteString("\n" + memory.FormatObservation(o))
		}
		if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
			return nil, err
		}
	case agent.PhaseReflect:
		if err := os.WriteFile(filepath.Join(req.WorkDir, paths.ReflectionsFile), []byte("# Reflections\n\n## Themes\nCompacted.\n"), 0644); err != nil {
			return nil, err
		}
	case agent.PhasePlan:
		if f.plan != "" {
			if err := os.WriteFile(filepath.Join(req.WorkDir, paths.PlanFile), []byte(f.plan), 0644); err != nil {
				return nil, err
			}
		}
	}
	return &agent.Result{Subtype: agent.SubtypeSuccess, CostUSD: 0.25}, nil
}

func obs(title string, p memory.Priority) memory.Observation {
	return memory.Observation{
		Date:     "2026-05-12",
		Time:     "09:30",
		Title:    title,
		Priority: p,
		Source:   "https://example.com/" + strings.ToLower(strings.ReplaceAll(title, " ", "-")),
		Body:     "Body of " + title + ".",
	}
}

func TestRun_FullCycle(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Batteries")
	fa := &fakeAgent{
		sources: 3,
		observations: []memory.Observation{
			obs("Pilot line announced", memory.PriorityCritical),
			obs("Cost curve update", memory.PriorityNotable),
		},
	}

	res, err := h.orchestrator(fa).Run(context.Background(), m)
	require.NoError(t, err)
	require.True(t, res.Succeeded(), res.Error)

	assert.Equal(t, []agent.Phase{agent.PhaseResearch, agent.PhaseObserve, agent.PhasePlan}, fa.calls)
	assert.Equal(t, 3, res.SourcesFetched)
	assert.Equal(t, 3, res.SourcesCached)
	assert.Equal(t, 2, res.ObservationsAdded)
	assert.False(t, res.Reflected)
	assert.Equal(t, 1, res.NotificationsSent)
	assert.InDelta(t, 0.75, res.CostUSD, 1e-9)

	// Checkpoints were visible to the agent while it ran.
	assert.Equal(t, PhaseResearch, fa.checkpoints[agent.PhaseResearch])
	assert.Equal(t, PhaseObserve, fa.checkpoints[agent.PhaseObserve])
	assert.Equal(t, PhasePlan, fa.checkpoints[agent.PhasePlan])

	assert.False(t, lock.IsCycleLocked(m.Dir))
	files, err := os.ReadDir(m.SourcesDir)
	require.NoError(t, err)
	assert.Empty(t, files)

	assert.FileExists(t, filepath.Join(m.HistoryDir, "journal_2026-05-12.md"))
	assert.FileExists(t, filepath.Join(m.HistoryDir, "plan_2026-05-12.md"))

	require.Len(t, h.sink.batches, 1)
	assert.Equal(t, "Pilot line announced", h.sink.batches[0][0].Title)

	ctx := context.Background()
	last, err := h.ledger.LastCycle(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Succeeded())
	assert.Equal(t, 2, last.ObservationsAdded)
	assert.Equal(t, 1, last.NotificationsSent)

	st, err := h.ledger.MissionStats(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalCycles)

	cached, err := h.ledger.SearchSources(ctx, m.ID, "Paper 2", 10)
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}

func TestRun_ReflectSkippedUnderThreshold(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Small Journal")
	fa := &fakeAgent{observations: []memory.Observation{obs("One", memory.PriorityIncremental)}}

	res, err := h.orchestrator(fa).Run(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, res.Reflected)
	assert.NotContains(t, fa.calls, agent.PhaseReflect)
}

func TestRun_ReflectOverThreshold(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Big Journal")
	m.Config.Reflector = &config.ReflectorConfig{JournalTokenThreshold: 20}
	fa := &fakeAgent{observations: []memory.Observation{obs("One", memory.PriorityIncremental)}}

	res, err := h.orchestrator(fa).Run(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, res.Reflected)
	assert.Contains(t, fa.calls, agent.PhaseReflect)

	reflections, err := memory.NewArtifacts(m.Dir, "").ReadReflections()
	require.NoError(t, err)
	assert.Contains(t, reflections, "Compacted.")
}

func TestRun_PhaseFailureStillCleansUp(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Flaky")
	fa := &fakeAgent{sources: 2, failPhase: agent.PhaseObserve}

	res, err := h.orchestrator(fa).Run(context.Background(), m)
	require.NoError(t, err)
	require.False(t, res.Succeeded())
	assert.True(t, errors.Is(res.Err(), agent.ErrAgentFailed))
	assert.Contains(t, res.Error, "error_max_turns")
	assert.Equal(t, []agent.Phase{agent.PhaseResearch, agent.PhaseObserve}, fa.calls)

	assert.False(t, lock.IsCycleLocked(m.Dir))
	files, err := os.ReadDir(m.SourcesDir)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, h.sink.batches)

	ctx := context.Background()
	last, err := h.ledger.LastCycle(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Failed())
	assert.Equal(t, 2, last.SourcesFetched)

	// Sources fetched before the failure are still cached.
	cached, err := h.ledger.ListSources(ctx, m.ID, 10)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	st, err := h.ledger.MissionStats(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalCycles)
}

func TestRun_RejectsInactive(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Paused")
	m.Config.Status = config.StatusPaused
	fa := &fakeAgent{}

	_, err := h.orchestrator(fa).Run(context.Background(), m)
	assert.True(t, errors.Is(err, ErrMissionInactive))
	assert.Empty(t, fa.calls)
}

func TestRun_RejectsLocked(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Busy")
	require.NoError(t, lock.Acquire(m.Dir, lock.Status{Phase: PhaseObserve, PID: 1}))
	fa := &fakeAgent{}

	_, err := h.orchestrator(fa).Run(context.Background(), m)
	assert.True(t, errors.Is(err, ErrCycleLocked))
	assert.Empty(t, fa.calls)
	// The other holder's lock is untouched.
	assert.True(t, lock.IsCycleLocked(m.Dir))
}

func TestRun_ObservationCountNeverNegative(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Shrinking")
	art := memory.NewArtifacts(m.Dir, "")
	journal := memory.InitialJournal("Shrinking") +
		memory.FormatObservation(obs("Old one", memory.PriorityNotable)) + "\n" +
		memory.FormatObservation(obs("Old two", memory.PriorityNotable))
	require.NoError(t, art.WriteJournal(journal))

	rewrite := agent.Func(func(_ context.Context, req agent.Request) (*agent.Result, error) {
		if req.Phase == agent.PhaseObserve {
			if err := art.WriteJournal(memory.InitialJournal("Shrinking")); err != nil {
				return nil, err
			}
		}
		return &agent.Result{Subtype: agent.SubtypeSuccess}, nil
	})

	res, err := h.orchestrator(rewrite).Run(context.Background(), m)
	require.NoError(t, err)
	require.True(t, res.Succeeded(), res.Error)
	assert.Equal(t, 0, res.ObservationsAdded)
}

func TestRun_EnforcesPlanCaps(t *testing.T) {
	h := newHarness(t)
	h.cfg.Defaults.Planner = config.PlannerConfig{MaxNextItems: 2, MaxBacklogItems: 1}
	m := h.mission("Overflow")
	fa := &fakeAgent{plan: "# Research Plan: Overflow\n\n## Next (Priority Order)\n1. [ ] a\n2. [ ] b\n3. [ ] c\n\n## Backlog\n- d\n- e\n"}

	res, err := h.orchestrator(fa).Run(context.Background(), m)
	require.NoError(t, err)
	require.True(t, res.Succeeded(), res.Error)
	assert.True(t, res.PlanUpdated)
	assert.Len(t, res.PrunedPlanItems, 2)

	text, err := memory.NewArtifacts(m.Dir, "").ReadPlan()
	require.NoError(t, err)
	p := memory.ParsePlan(text)
	assert.Len(t, p.Next(), 2)
}

func TestRun_NotifiesEachFindingOnce(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Repeat")
	fa := &fakeAgent{observations: []memory.Observation{obs("Breakthrough", memory.PriorityCritical)}}
	o := h.orchestrator(fa)

	first, err := o.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, first.NotificationsSent)

	fa.observations = nil
	second, err := o.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 0, second.NotificationsSent)
	assert.Len(t, h.sink.batches, 1)

	n, err := h.ledger.CountNotifications(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_NotifyFailureFailsCycle(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("smtp down")
	m := h.mission("Undeliverable")
	fa := &fakeAgent{observations: []memory.Observation{obs("Breakthrough", memory.PriorityCritical)}}

	res, err := h.orchestrator(fa).Run(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Error, "smtp down")
	assert.Equal(t, 0, res.NotificationsSent)
	assert.False(t, lock.IsCycleLocked(m.Dir))
}

func TestRun_CancelledContextStillRecordsCycle(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Interrupted")
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := agent.Func(func(ctx context.Context, req agent.Request) (*agent.Result, error) {
		cancel()
		return nil, ctx.Err()
	})

	res, err := h.orchestrator(cancelling).Run(ctx, m)
	require.NoError(t, err)
	assert.True(t, errors.Is(res.Err(), context.Canceled))

	last, err := h.ledger.LastCycle(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Failed())
}

func TestRun_ResearchFailure(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Offline")
	var calls []agent.Phase
	failing := agent.Func(func(_ context.Context, req agent.Request) (*agent.Result, error) {
		calls = append(calls, req.Phase)
		return nil, errors.New("boom")
	})

	res, err := h.orchestrator(failing).Run(context.Background(), m)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Error)
	assert.Contains(t, res.Error, "boom")
	assert.Equal(t, 0, res.ObservationsAdded)
	assert.Equal(t, []agent.Phase{agent.PhaseResearch}, calls)
	assert.False(t, lock.IsCycleLocked(m.Dir))

	last, err := h.ledger.LastCycle(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Failed())
	assert.Equal(t, 0, last.ObservationsAdded)
}

func TestRun_PhasePanicBecomesFailure(t *testing.T) {
	h := newHarness(t)
	m := h.mission("Crashy")
	panicking := agent.Func(func(_ context.Context, req agent.Request) (*agent.Result, error) {
		if req.Phase == agent.PhaseResearch {
			data := []byte(`{"source_url":"https://example.com/a","source_title":"A","relevance":0.5,"summary":"s"}`)
			if err := os.WriteFile(filepath.Join(req.WorkDir, "src_0.json"), data, 0644); err != nil {
				return nil, err
			}
			return &agent.Result{Subtype: agent.SubtypeSuccess}, nil
		}
		panic("agent exploded")
	})

	var res *Result
	require.NotPanics(t, func() {
		var err error
		res, err = h.orchestrator(panicking).Run(context.Background(), m)
		require.NoError(t, err)
	})
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Error, "observe")
	assert.Contains(t, res.Error, "agent exploded")
	assert.False(t, lock.IsCycleLocked(m.Dir))

	files, err := os.ReadDir(m.SourcesDir)
	require.NoError(t, err)
	assert.Empty(t, files)

	ctx := context.Background()
	last, err := h.ledger.LastCycle(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.NotNil(t, last.CompletedAt)
	assert.True(t, last.Failed())

	cached, err := h.ledger.ListSources(ctx, m.ID, 10)
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}
