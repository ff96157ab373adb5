package cycle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"ghost/internal/agent"
	"ghost/internal/memory"
	"ghost/internal/notify"
	"ghost/internal/sources"
	"ghost/internal/store"
)

// promptInput gathers what every prompt builder needs from disk.
func (o *Orchestrator) promptInput(r *run) (agent.PromptInput, error) {
	mc := r.m.Config
	in := agent.PromptInput{
		Name:        mc.Name,
		Description: mc.Description,
		Depth:       mc.Research.Depth,
		MaxSources:  mc.Research.MaxSourcesPerCycle,
		SeedQueries: mc.Research.SearchQueriesBase,
		MaxNext:     o.cfg.Defaults.Planner.MaxNextItems,
		MaxBacklog:  o.cfg.Defaults.Planner.MaxBacklogItems,

		MinRelevance: mc.PriorityThreshold(o.cfg.Defaults),
	}
	var err error
	if in.Journal, err = r.art.ReadJournal(); err != nil {
		return in, err
	}
	if in.Reflections, err = r.art.ReadReflections(); err != nil {
		return in, err
	}
	if in.Plan, err = r.art.ReadPlan(); err != nil {
		return in, err
	}
	if in.Context, err = r.art.ReadContext(); err != nil {
		return in, err
	}
	if in.Purpose, err = r.art.ReadPurpose(); err != nil {
		return in, err
	}
	in.JournalTokens = memory.EstimateTokens(in.Journal)
	return in, nil
}

func (o *Orchestrator) research(ctx context.Context, r *run) error {
	in, err := o.promptInput(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.m.SourcesDir, 0755); err != nil {
		return err
	}
	if err := o.invoke(ctx, r, agent.PhaseResearch, agent.ResearchPrompt(in), agent.ResearchCapabilities, r.m.SourcesDir); err != nil {
		return err
	}
	n, err := sources.Count(r.m.SourcesDir)
	if err != nil {
		return err
	}
	r.res.SourcesFetched = n
	r.log.Info("research complete", zap.Int("sources", n))
	return nil
}

func (o *Orchestrator) observe(ctx context.Context, r *run) error {
	in, err := o.promptInput(r)
	if err != nil {
		return err
	}
	if r.res.SourcesFetched == 0 {
		r.log.Info("no new sources; observer will only refresh the summary")
	}
	if err := o.invoke(ctx, r, agent.PhaseObserve, agent.ObservePrompt(in), agent.FileCapabilities, r.m.Dir); err != nil {
		return err
	}
	journal, err := r.art.ReadJournal()
	if err != nil {
		return err
	}
	if journal == "" {
		return errors.New("observer left no journal")
	}
	r.res.ObservationsAdded = memory.NewObservationCount(in.Journal, journal)

	parsed := memory.ParseJournal(journal)
	r.res.SkippedEntries = len(parsed.Skipped)
	for _, s := range parsed.Skipped {
		r.log.Warn("journal entry skipped", zap.Int("line", s.Line), zap.String("heading", s.Heading), zap.String("reason", s.Reason))
	}
	r.log.Info("observe complete", zap.Int("added", r.res.ObservationsAdded))
	return nil
}

func (o *Orchestrator) reflect(ctx context.Context, r *run) error {
	in, err := o.promptInput(r)
	if err != nil {
		return err
	}
	threshold := r.m.Config.ReflectThreshold(o.cfg.Defaults)
	if in.JournalTokens <= threshold {
		r.log.Debug("reflect skipped", zap.Int("tokens", in.JournalTokens), zap.Int("threshold", threshold))
		return nil
	}
	r.log.Info("journal over budget, reflecting", zap.Int("tokens", in.JournalTokens), zap.Int("threshold", threshold))
	if err := o.invoke(ctx, r, agent.PhaseReflect, agent.ReflectPrompt(in), agent.FileCapabilities, r.m.Dir); err != nil {
		return err
	}
	r.res.Reflected = true

	journal, err := r.art.ReadJournal()
	if err != nil {
		return err
	}
	r.log.Info("reflect complete", zap.Int("tokens_before", in.JournalTokens), zap.Int("tokens_after", memory.EstimateTokens(journal)))
	return nil
}

func (o *Orchestrator) plan(ctx context.Context, r *run) error {
	in, err := o.promptInput(r)
	if err != nil {
		return err
	}
	if err := o.invoke(ctx, r, agent.PhasePlan, agent.PlanPrompt(in), agent.FileCapabilities, r.m.Dir); err != nil {
		return err
	}
	text, err := r.art.ReadPlan()
	if err != nil {
		return err
	}
	r.res.PlanUpdated = text != in.Plan

	p := memory.ParsePlan(text)
	pruned := p.EnforcePlanCaps(o.cfg.Defaults.Planner.MaxNextItems, o.cfg.Defaults.Planner.MaxBacklogItems)
	if len(pruned) > 0 {
		if err := r.art.WritePlan(p.Render()); err != nil {
			return err
		}
		r.res.PrunedPlanItems = pruned
		r.log.Info("plan over capacity, pruned items", zap.Strings("items", pruned))
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, r *run) error {
	if o.notifier == nil {
		return nil
	}
	journal, err := r.art.ReadJournal()
	if err != nil {
		return err
	}
	findings := memory.ExtractSignificantFindings(journal, o.cfg.Notifications.MinPriority)
	if len(findings) == 0 {
		return nil
	}

	sent, err := o.ledger.NotifiedKeys(ctx, r.m.ID)
	if err != nil {
		return err
	}
	fresh := findings[:0:0]
	for _, f := range findings {
		if !sent[f.Key] {
			fresh = append(fresh, f)
		}
	}
	if len(fresh) == 0 {
		r.log.Debug("all findings already notified", zap.Int("findings", len(findings)))
		return nil
	}

	delivery, notifyErr := o.notifier.Notify(ctx, notify.Target{ID: r.m.ID, Name: r.m.Name()}, fresh)
	if len(delivery.Delivered) > 0 {
		now := o.now()
		for _, f := range fresh {
			err := o.ledger.RecordNotification(ctx, store.NotificationRecord{
				MissionID:      r.m.ID,
				CycleID:        r.res.CycleID,
				ObservationKey: f.Key,
				Priority:       string(f.Priority),
				Title:          f.Title,
				Channels:       delivery.Delivered,
				SentAt:         now,
			})
			if err != nil {
				return err
			}
		}
		r.res.NotificationsSent = len(fresh)
	}
	if notifyErr != nil {
		return fmt.Errorf("deliver %d findings: %w", len(fresh), notifyErr)
	}
	return nil
}

func (o *Orchestrator) snapshot(_ context.Context, r *run) error {
	files, err := memory.Snapshot(r.m.Dir, r.m.HistoryDir, o.now().UTC())
	if err != nil {
		return err
	}
	r.log.Debug("snapshot written", zap.Strings("files", files))
	return nil
}

// cleanup caches this cycle's source files in the ledger and then deletes
// them. Caching is best effort; deletion always runs.
func (o *Orchestrator) cleanup(ctx context.Context, r *run) {
	o.checkpoint(r, PhaseCleanup)
	ctx = context.WithoutCancel(ctx)

	loaded, err := sources.Load(r.m.SourcesDir, o.now())
	switch {
	case err != nil:
		r.log.Warn("failed to read sources", zap.Error(err))
	default:
		for _, s := range loaded.Skipped {
			r.log.Warn("source file skipped", zap.String("file", s.File), zap.Error(s.Err))
		}
		if len(loaded.Records) > 0 {
			n, err := o.ledger.InsertSources(ctx, sources.ToLedger(loaded.Records, r.m.ID, r.res.CycleID))
			if err != nil {
				r.log.Warn("failed to cache sources", zap.Error(err))
			} else {
				r.res.SourcesCached = n
			}
		}
	}

	removed, err := sources.Clean(r.m.SourcesDir)
	if err != nil {
		r.log.Warn("failed to clean sources", zap.Error(err))
		return
	}
	r.log.Debug("sources cleaned", zap.Int("removed", removed))
}
