package main

import (
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ghost/cmd/ghost/ui"
	"ghost/internal/lock"
	"ghost/internal/memory"
	"ghost/internal/mission"
)

var (
	peekWatch bool
	rawOutput bool
	viewWidth int
)

var peekCmd = &cobra.Command{
	Use:   "peek <mission>",
	Short: "Show the progress of a running cycle",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeek,
}

var journalCmd = &cobra.Command{
	Use:   "journal <mission>",
	Short: "Print a mission's journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printArtifact(cmd, args[0], (*memory.Artifacts).ReadJournal)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <mission>",
	Short: "Print a mission's research plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printArtifact(cmd, args[0], (*memory.Artifacts).ReadPlan)
	},
}

func init() {
	peekCmd.Flags().BoolVarP(&peekWatch, "watch", "w", false, "Follow the cycle until it ends")
	for _, c := range []*cobra.Command{journalCmd, planCmd} {
		c.Flags().BoolVar(&rawOutput, "raw", false, "Print markdown without rendering")
		c.Flags().IntVar(&viewWidth, "width", 100, "Wrap width")
	}
}

func printArtifact(cmd *cobra.Command, id string, read func(*memory.Artifacts) (string, error)) error {
	m, err := ghost.missions.Load(id)
	if err != nil {
		return err
	}
	text, err := read(memory.NewArtifacts(m.Dir, ""))
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("%s has no content yet", m.ID)
	}
	if rawOutput {
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), ui.RenderMarkdown(text, viewWidth))
	return nil
}

// readCheckpoint adapts the lock file to the peek view.
func readCheckpoint(m *mission.Mission) ui.PeekFunc {
	return func() (*ui.Checkpoint, error) {
		st, err := lock.Read(m.Dir)
		if errors.Is(err, lock.ErrNotLocked) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &ui.Checkpoint{
			Phase:             st.Phase,
			PhaseNumber:       st.PhaseNumber,
			TotalPhases:       st.TotalPhases,
			StartedAt:         st.StartedAt,
			PhaseStartedAt:    st.PhaseStartedAt,
			PID:               st.PID,
			SourcesFound:      st.SourcesFound,
			ObservationsAdded: st.ObservationsAdded,
			Stale:             st.PID > 0 && !st.HolderAlive(),
		}, nil
	}
}

func runPeek(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	m, err := ghost.missions.Load(args[0])
	if err != nil {
		return err
	}
	read := readCheckpoint(m)

	if peekWatch {
		p := tea.NewProgram(ui.NewPeekModel(m.Name(), read, time.Second),
			tea.WithContext(cmd.Context()), tea.WithOutput(out), tea.WithInput(cmd.InOrStdin()))
		_, err := p.Run()
		return err
	}

	cp, err := read()
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Fprintf(out, "👻 %s: %s\n", ui.Title.Render(m.Name()), ui.Dim.Render("no cycle running"))
		return nil
	}
	fmt.Fprint(out, ui.RenderCheckpoint(m.Name(), cp, time.Now()))
	return nil
}
