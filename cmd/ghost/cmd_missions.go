package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ghost/cmd/ghost/ui"
	"ghost/internal/config"
	"ghost/internal/daemon"
	"ghost/internal/lock"
	"ghost/internal/memory"
	"ghost/internal/mission"
	"ghost/internal/store"
)

var (
	deleteForce  bool
	unlockForce  bool
	sourcesLimit int
	statusCycles int
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List missions and their schedule state",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var statusCmd = &cobra.Command{
	Use:   "status <mission>",
	Short: "Show a mission's config, plan and recent cycles",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var pauseCmd = &cobra.Command{
	Use:   "pause <mission>",
	Short: "Stop scheduling a mission",
	Args:  cobra.ExactArgs(1),
	RunE:  setStatusRunner(config.StatusPaused, "paused"),
}

var resumeCmd = &cobra.Command{
	Use:   "resume <mission>",
	Short: "Resume a paused mission",
	Args:  cobra.ExactArgs(1),
	RunE:  setStatusRunner(config.StatusActive, "resumed"),
}

var completeCmd = &cobra.Command{
	Use:   "complete <mission>",
	Short: "Mark a mission completed",
	Args:  cobra.ExactArgs(1),
	RunE:  setStatusRunner(config.StatusCompleted, "completed"),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <mission>",
	Short: "Delete a mission and all of its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <mission>",
	Short: "Clear a stale cycle lock left by a crashed run",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnlock,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources <mission> [query]",
	Short: "List or search cached sources",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSources,
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "Confirm deletion")
	unlockCmd.Flags().BoolVar(&unlockForce, "force", false, "Clear the lock even if its process looks alive")
	sourcesCmd.Flags().IntVarP(&sourcesLimit, "limit", "n", 20, "Maximum sources to show")
	statusCmd.Flags().IntVar(&statusCycles, "cycles", 5, "Recent cycles to show")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	missions, err := ghost.missions.List()
	if err != nil {
		return err
	}
	ledger, err := ghost.Ledger(ctx)
	if err != nil {
		return err
	}
	orphans, err := orphanedRecords(ctx, ledger, missions)
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		defer fmt.Fprintf(out, "%s\n", ui.Warn.Render("Ledger history without a mission directory: "+strings.Join(orphans, ", ")))
	}
	if len(missions) == 0 {
		fmt.Fprintf(out, "No missions yet. Start one with %s.\n", ui.Heading.Render("ghost haunt <topic>"))
		return nil
	}
	now := time.Now()
	states, err := daemon.Describe(ctx, missions, ledger, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%-32s %-10s %-9s %6s  %s\n", "MISSION", "STATE", "SCHEDULE", "CYCLES", "LAST RUN")
	for i, st := range states {
		schedule := missions[i].Config.Schedule.Interval
		if missions[i].Config.Schedule.Cron != "" {
			schedule = "cron"
		}
		state := st.State
		if st.Phase != "" {
			state += ":" + st.Phase
		}
		fmt.Fprintf(out, "%-32s %s %-9s %6d  %s\n",
			truncate(st.ID, 32), ui.StateStyle(st.State).Render(fmt.Sprintf("%-10s", state)),
			schedule, st.TotalCycles, ago(st.LastCycleAt, now))
	}
	return nil
}

// orphanedRecords lists ledger missions whose directory no longer exists.
func orphanedRecords(ctx context.Context, ledger *store.Ledger, missions []*mission.Mission) ([]string, error) {
	known := make(map[string]bool, len(missions))
	for _, m := range missions {
		known[m.ID] = true
	}
	all, err := ledger.ListMissionStats(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, st := range all {
		if !known[st.MissionID] {
			out = append(out, st.MissionID)
		}
	}
	return out, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	m, err := ghost.missions.Load(args[0])
	if err != nil {
		return err
	}
	ledger, err := ghost.Ledger(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	states, err := daemon.Describe(ctx, []*mission.Mission{m}, ledger, now)
	if err != nil {
		return err
	}
	st := states[0]

	fmt.Fprintf(out, "👻 %s\n", ui.Title.Render(m.Name()))
	fmt.Fprintln(out, ui.Field("ID", m.ID))
	fmt.Fprintln(out, ui.Field("Description", m.Config.Description))
	fmt.Fprintln(out, ui.Field("Status", ui.StateStyle(m.Config.Status).Render(m.Config.Status)))
	fmt.Fprintln(out, ui.Field("State", ui.StateStyle(st.State).Render(st.State)))
	if st.State == daemon.StateRunning {
		if cp, err := lock.Read(m.Dir); err == nil && cp.PID > 0 && !cp.HolderAlive() {
			fmt.Fprintln(out, ui.Field("", ui.Warn.Render(fmt.Sprintf("lock holder %d is not running; clear with `ghost unlock %s`", cp.PID, m.ID))))
		}
	}
	fmt.Fprintln(out, ui.Field("Cycles", fmt.Sprint(st.TotalCycles)))
	fmt.Fprintln(out, ui.Field("Last run", ago(st.LastCycleAt, now)))
	if m.Active() {
		next := "now"
		if st.NextDue.After(now) {
			next = st.NextDue.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintln(out, ui.Field("Next due", next))
	}

	art := memory.NewArtifacts(m.Dir, ghost.layout.GlobalContextPath())
	journal, err := art.ReadJournal()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, ui.Field("Observations", fmt.Sprint(len(memory.ParseObservations(journal)))))
	fmt.Fprintln(out, ui.Field("Journal size", fmt.Sprintf("~%d tokens (reflect at %d)",
		memory.EstimateTokens(journal), m.Config.ReflectThreshold(ghost.cfg.Defaults))))

	planText, err := art.ReadPlan()
	if err != nil {
		return err
	}
	plan := memory.ParsePlan(planText)
	if items := plan.InProgress(); len(items) > 0 {
		fmt.Fprintf(out, "\n%s\n", ui.Heading.Render("In progress"))
		printItems(out, items)
	}
	if items := plan.Next(); len(items) > 0 {
		fmt.Fprintf(out, "\n%s\n", ui.Heading.Render("Next"))
		printItems(out, items)
	}

	cycles, err := ledger.RecentCycles(ctx, m.ID, statusCycles)
	if err != nil {
		return err
	}
	if len(cycles) > 0 {
		fmt.Fprintf(out, "\n%s\n", ui.Heading.Render("Recent cycles"))
		for _, c := range cycles {
			printCycle(out, c)
		}
	}
	return nil
}

func printItems(out io.Writer, items []string) {
	for i, it := range items {
		fmt.Fprintf(out, "  %d. %s\n", i+1, it)
	}
}

func printCycle(out io.Writer, c *store.CycleEntry) {
	started := c.StartedAt.Local().Format("2006-01-02 15:04")
	switch {
	case c.CompletedAt == nil:
		fmt.Fprintf(out, "  %s %s\n", started, ui.Warn.Render("incomplete"))
	case c.Failed():
		fmt.Fprintf(out, "  %s %s %s\n", started, ui.Bad.Render("failed"), truncate(c.Error, 80))
	default:
		fmt.Fprintf(out, "  %s %s +%d obs, %d sources, reflected %s, %d notified, $%.2f\n",
			started, ui.Good.Render("ok"), c.ObservationsAdded, c.SourcesFetched,
			yesNo(c.Reflected), c.NotificationsSent, c.CostUSD)
	}
}

func setStatusRunner(status, verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		m, err := ghost.missions.SetStatus(cmd.Context(), args[0], status)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "👻 %s %s\n", ui.Title.Render(m.Name()), verb)
		return nil
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	if !deleteForce {
		return fmt.Errorf("deleting %s removes its journal and history; pass --force to confirm", args[0])
	}
	m, err := ghost.missions.Load(args[0])
	if err != nil {
		return err
	}
	if err := ghost.missions.Delete(cmd.Context(), m.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "👻 %s deleted\n", m.ID)
	return nil
}

func runUnlock(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	m, err := ghost.missions.Load(args[0])
	if err != nil {
		return err
	}
	st, err := lock.Read(m.Dir)
	switch {
	case errors.Is(err, lock.ErrNotLocked):
		fmt.Fprintf(out, "%s is not locked\n", m.ID)
		return nil
	case err == nil && st.HolderAlive() && !unlockForce:
		return fmt.Errorf("%s is locked by live process %d (phase %s); pass --force to clear anyway", m.ID, st.PID, st.Phase)
	}
	// A corrupt lock file is cleared like a stale one.
	if _, err := ghost.missions.Unlock(m.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "👻 %s unlocked\n", m.ID)
	return nil
}

func runSources(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	m, err := ghost.missions.Load(args[0])
	if err != nil {
		return err
	}
	ledger, err := ghost.Ledger(ctx)
	if err != nil {
		return err
	}
	var records []store.SourceRecord
	if len(args) == 2 {
		records, err = ledger.SearchSources(ctx, m.ID, args[1], sourcesLimit)
	} else {
		records, err = ledger.ListSources(ctx, m.ID, sourcesLimit)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, ui.Dim.Render("No cached sources."))
		return nil
	}
	for _, r := range records {
		title := r.Title
		if title == "" {
			title = r.URL
		}
		fmt.Fprintf(out, "%s %s\n", ui.Good.Render(fmt.Sprintf("%.2f", r.Relevance)), ui.Heading.Render(title))
		fmt.Fprintf(out, "     %s\n", ui.Dim.Render(r.URL))
		if r.Summary != "" {
			fmt.Fprintf(out, "     %s\n", truncate(r.Summary, 160))
		}
	}
	return nil
}

func ago(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	d := now.Sub(*t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
