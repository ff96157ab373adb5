package memory

import (
	"regexp"
	"strings"
)

// Plan caps.
const (
	DefaultMaxNext    = 5
	DefaultMaxBacklog = 10
)

// SectionKind classifies a "## " heading of plan.md.
type SectionKind int

const (
	SectionOther SectionKind = iota
	SectionCompleted
	SectionInProgress
	SectionNext
	SectionBacklog
	SectionNotes
)

func (k SectionKind) String() string {
	switch k {
	case SectionCompleted:
		return "completed"
	case SectionInProgress:
		return "in_progress"
	case SectionNext:
		return "next"
	case SectionBacklog:
		return "backlog"
	case SectionNotes:
		return "notes"
	default:
		return "other"
	}
}

func classifyHeading(heading string) SectionKind {
	h := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(heading, "##")))
	switch {
	case strings.HasPrefix(h, "completed"):
		return SectionCompleted
	case strings.HasPrefix(h, "in progress"):
		return SectionInProgress
	case strings.HasPrefix(h, "next"):
		return SectionNext
	case strings.HasPrefix(h, "backlog"):
		return SectionBacklog
	case strings.Contains(h, "strategy notes"):
		return SectionNotes
	default:
		return SectionOther
	}
}

// PlanItem is one top-level list entry with its continuation lines.
type PlanItem struct {
	Lines []string
}

var (
	itemMarker   = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)
	itemCheckbox = regexp.MustCompile(`^\[[ xX]\]\s*`)
)

// Text returns the item's first line without list marker or checkbox.
func (it PlanItem) Text() string {
	if len(it.Lines) == 0 {
		return ""
	}
	s := itemMarker.ReplaceAllString(it.Lines[0], "")
	return strings.TrimSpace(itemCheckbox.ReplaceAllString(s, ""))
}

// PlanSection is a "## " heading with its lead text and items.
type PlanSection struct {
	Heading string
	Kind    SectionKind
	Lead    []string
	Items   []PlanItem
}

// Plan is plan.md split into sections. Unrecognized sections and the preamble
// round-trip unchanged.
type Plan struct {
	Preamble []string
	Sections []*PlanSection
}

// ParsePlan splits plan text on "## " headings.
func ParsePlan(text string) *Plan {
	p := &Plan{}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var cur *PlanSection
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			cur = &PlanSection{Heading: line, Kind: classifyHeading(line)}
			p.Sections = append(p.Sections, cur)
			continue
		}
		if cur == nil {
			p.Preamble = append(p.Preamble, line)
			continue
		}
		switch {
		case itemMarker.MatchString(line):
			cur.Items = append(cur.Items, PlanItem{Lines: []string{line}})
		case len(cur.Items) > 0:
			last := &cur.Items[len(cur.Items)-1]
			last.Lines = append(last.Lines, line)
		default:
			cur.Lead = append(cur.Lead, line)
		}
	}
	return p
}

// Section returns the first section of the given kind, or nil.
func (p *Plan) Section(kind SectionKind) *PlanSection {
	for _, s := range p.Sections {
		if s.Kind == kind {
			return s
		}
	}
	return nil
}

// Next returns the text of the "Next" items in priority order.
func (p *Plan) Next() []string { return p.itemTexts(SectionNext) }

// InProgress returns the text of the "In Progress" items.
func (p *Plan) InProgress() []string { return p.itemTexts(SectionInProgress) }

func (p *Plan) itemTexts(kind SectionKind) []string {
	s := p.Section(kind)
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		out = append(out, it.Text())
	}
	return out
}

// EnforcePlanCaps truncates the Next and Backlog sections to their caps and
// returns the text of every pruned item. Overflow is dropped, never moved to
// another section. A cap <= 0 leaves the section alone.
func (p *Plan) EnforcePlanCaps(maxNext, maxBacklog int) []string {
	var pruned []string
	for _, c := range []struct {
		kind SectionKind
		max  int
	}{{SectionNext, maxNext}, {SectionBacklog, maxBacklog}} {
		s := p.Section(c.kind)
		if s == nil || c.max <= 0 || len(s.Items) <= c.max {
			continue
		}
		var prose []string
		for _, it := range s.Items[c.max:] {
			pruned = append(pruned, it.Text())
			prose = append(prose, detachedLines(it.Lines)...)
		}
		// Keep the separator the dropped tail carried.
		tailBlank := trailingBlank(s.Items[len(s.Items)-1].Lines)
		s.Items = s.Items[:c.max]
		last := &s.Items[c.max-1]
		kept := trimTrailingBlank(last.Lines)
		kept = append(kept, trimTrailingBlank(prose)...)
		last.Lines = append(kept, tailBlank...)
	}
	return pruned
}

// detachedLines returns the part of an item that is not the item itself:
// an unindented paragraph after a blank line, starting with that blank line.
func detachedLines(lines []string) []string {
	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(lines[i-1]) == "" && strings.TrimSpace(line) != "" &&
			!strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			return lines[i-1:]
		}
	}
	return nil
}

// Render reassembles the plan text.
func (p *Plan) Render() string {
	var b strings.Builder
	write := func(lines []string) {
		for _, l := range lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	write(p.Preamble)
	for _, s := range p.Sections {
		b.WriteString(s.Heading)
		b.WriteByte('\n')
		write(s.Lead)
		for _, it := range s.Items {
			write(it.Lines)
		}
	}
	return b.String()
}

func trailingBlank(lines []string) []string {
	i := len(lines)
	for i > 0 && strings.TrimSpace(lines[i-1]) == "" {
		i--
	}
	return lines[i:]
}

func trimTrailingBlank(lines []string) []string {
	i := len(lines)
	for i > 0 && strings.TrimSpace(lines[i-1]) == "" {
		i--
	}
	return lines[:i:i]
}
