package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Checkpoint is what the peek view shows about a running cycle.
type Checkpoint struct {
	Phase             string
	PhaseNumber       int
	TotalPhases       int
	StartedAt         time.Time
	PhaseStartedAt    time.Time
	PID               int
	SourcesFound      int
	ObservationsAdded int
	// Stale is set when the recorded process is no longer running.
	Stale bool
}

// PeekFunc reads the current checkpoint. It returns nil once the cycle has
// ended.
type PeekFunc func() (*Checkpoint, error)

type pollMsg struct {
	cp  *Checkpoint
	err error
}

// PeekModel is a live view of a mission's cycle checkpoint.
type PeekModel struct {
	name     string
	read     PeekFunc
	interval time.Duration
	now      func() time.Time

	spinner spinner.Model
	cp      *Checkpoint
	err     error
	done    bool
}

// NewPeekModel returns a view polling read every interval.
func NewPeekModel(name string, read PeekFunc, interval time.Duration) PeekModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = Title
	if interval <= 0 {
		interval = time.Second
	}
	return PeekModel{name: name, read: read, interval: interval, now: time.Now, spinner: sp}
}

func (m PeekModel) poll() tea.Msg {
	cp, err := m.read()
	return pollMsg{cp: cp, err: err}
}

func (m PeekModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll)
}

func (m PeekModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case pollMsg:
		m.cp, m.err = msg.cp, msg.err
		if msg.err != nil || msg.cp == nil {
			m.done = true
			return m, tea.Quit
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return m.poll() })
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m PeekModel) View() string {
	var b strings.Builder
	switch {
	case m.err != nil:
		fmt.Fprintf(&b, "%s\n", Bad.Render("Error: "+m.err.Error()))
	case m.cp == nil && m.done:
		fmt.Fprintf(&b, "👻 %s: %s\n", Title.Render(m.name), Dim.Render("no cycle running"))
	case m.cp == nil:
		fmt.Fprintf(&b, "%s checking %s...\n", m.spinner.View(), m.name)
	default:
		b.WriteString(m.spinner.View() + " " + RenderCheckpoint(m.name, m.cp, m.now()))
		b.WriteString(Dim.Render("\nq to quit") + "\n")
	}
	return b.String()
}

// RenderCheckpoint formats a checkpoint for one-shot output.
func RenderCheckpoint(name string, cp *Checkpoint, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👻 %s: %s\n", Title.Render(name), Good.Render("cycle running"))
	fmt.Fprintln(&b, Field("Phase", fmt.Sprintf("%s (%d/%d)", cp.Phase, cp.PhaseNumber, cp.TotalPhases)))
	fmt.Fprintln(&b, Field("Elapsed", now.Sub(cp.StartedAt).Truncate(time.Second).String()))
	fmt.Fprintln(&b, Field("In phase", now.Sub(cp.PhaseStartedAt).Truncate(time.Second).String()))
	fmt.Fprintln(&b, Field("Sources", fmt.Sprint(cp.SourcesFound)))
	fmt.Fprintln(&b, Field("Observations", fmt.Sprint(cp.ObservationsAdded)))
	if cp.PID > 0 {
		fmt.Fprintln(&b, Field("PID", fmt.Sprint(cp.PID)))
	}
	if cp.Stale {
		fmt.Fprintln(&b, Warn.Render("holder process not running; clear with `ghost unlock`"))
	}
	return b.String()
}
