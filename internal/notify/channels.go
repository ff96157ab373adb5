package notify

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"ghost/internal/memory"
)

var (
	criticalColor    = lipgloss.Color("#e53935")
	notableColor     = lipgloss.Color("#FFC107")
	incrementalColor = lipgloss.Color("#9e9e9e")
	mutedColor       = lipgloss.Color("#6b7280")
)

// Console prints findings to a terminal.
type Console struct {
	w       io.Writer
	mission lipgloss.Style
	title   map[memory.Priority]lipgloss.Style
	body    lipgloss.Style
	source  lipgloss.Style
}

// NewConsole returns a console channel writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{
		w:       w,
		mission: lipgloss.NewStyle().Bold(true),
		title: map[memory.Priority]lipgloss.Style{
			memory.PriorityCritical:    lipgloss.NewStyle().Bold(true).Foreground(criticalColor),
			memory.PriorityNotable:     lipgloss.NewStyle().Bold(true).Foreground(notableColor),
			memory.PriorityIncremental: lipgloss.NewStyle().Foreground(incrementalColor),
		},
		body:   lipgloss.NewStyle().PaddingLeft(3),
		source: lipgloss.NewStyle().PaddingLeft(3).Foreground(mutedColor),
	}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Send(_ context.Context, target Target, findings []memory.Finding) error {
	var b strings.Builder
	b.WriteString("\n")
	for _, f := range findings {
		name := target.Name
		if name == "" {
			name = target.ID
		}
		fmt.Fprintf(&b, "👻 %s %s %s\n", c.mission.Render("["+name+"]"), f.Priority.Icon(), c.title[f.Priority].Render(f.Title))
		b.WriteString(c.body.Render(f.Summary) + "\n")
		if f.SourceURL != "" {
			b.WriteString(c.source.Render("Source: "+f.SourceURL) + "\n")
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(c.w, b.String())
	return err
}

// Log records findings as structured log entries.
type Log struct {
	log *zap.Logger
}

// NewLog returns a log channel.
func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

func (l *Log) Name() string { return "log" }

func (l *Log) Send(_ context.Context, target Target, findings []memory.Finding) error {
	for _, f := range findings {
		l.log.Info("finding",
			zap.String("mission", target.ID),
			zap.String("priority", string(f.Priority)),
			zap.String("title", f.Title),
			zap.String("source", f.SourceURL),
			zap.String("key", f.Key))
	}
	return nil
}
