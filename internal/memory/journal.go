package memory

import (
	"regexp"
	"strings"
)

// Journal grammar, version 1.
//
// An observation entry is three fixed lines followed by a free-form body:
//
//	### <YYYY-MM-DD> <HH:MM> — <title>
//	**Priority**: [icon] <Critical|Notable|Incremental>
//	**Source**: <citation>
//	<body lines until the next "##" or "###" heading>
//
// The separator between time and title is an em dash; "–", "-" and "--" are
// accepted. Header fields are matched exactly; the priority label is
// case-insensitive and may carry a leading icon. An entry whose priority or
// source line is missing or malformed is skipped and reported, never fatal.

// Priority ranks an observation.
type Priority string

const (
	PriorityCritical    Priority = "critical"
	PriorityNotable     Priority = "notable"
	PriorityIncremental Priority = "incremental"
)

// Score maps a priority to the numeric scale used for thresholds.
func (p Priority) Score() float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityNotable:
		return 0.7
	case PriorityIncremental:
		return 0.3
	default:
		return 0
	}
}

// Icon returns the marker written in front of the priority label.
func (p Priority) Icon() string {
	switch p {
	case PriorityCritical:
		return "🔴"
	case PriorityNotable:
		return "🟡"
	default:
		return "⚪"
	}
}

// Label returns the capitalized label used in the journal.
func (p Priority) Label() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// ParsePriority recognizes "Critical", "🔴 Critical", "notable", etc.
func ParsePriority(s string) (Priority, bool) {
	fields := strings.Fields(s)
	for _, f := range fields {
		switch Priority(strings.ToLower(strings.Trim(f, "*_`.,"))) {
		case PriorityCritical:
			return PriorityCritical, true
		case PriorityNotable:
			return PriorityNotable, true
		case PriorityIncremental:
			return PriorityIncremental, true
		}
	}
	return "", false
}

// Observation is one parsed journal entry.
type Observation struct {
	Date     string
	Time     string
	Title    string
	Priority Priority
	Source   string
	Body     string
	Line     int // 1-based line of the heading
}

// Key identifies an observation: (date, time, title).
func (o Observation) Key() string {
	return o.Date + " " + o.Time + " " + o.Title
}

// SkippedEntry describes a heading that looked like an observation but did
// not satisfy the grammar.
type SkippedEntry struct {
	Line    int
	Heading string
	Reason  string
}

// ParsedJournal is the result of tokenizing a journal.
type ParsedJournal struct {
	Observations []Observation
	Skipped      []SkippedEntry
}

const (
	priorityLabel = "**Priority**:"
	sourceLabel   = "**Source**:"
)

var (
	headingPrefix = regexp.MustCompile(`^### \d{4}-\d{2}-\d{2}`)
	headingLine   = regexp.MustCompile(`^### (\d{4}-\d{2}-\d{2}) (\d{2}:\d{2}) (?:—|–|--|-) (.+)$`)
	headerCount   = regexp.MustCompile(`(?m)^### \d{4}-\d{2}-\d{2}`)
)

// ParseObservations returns the well-formed observations in document order.
func ParseObservations(journal string) []Observation {
	return ParseJournal(journal).Observations
}

// ParseJournal tokenizes the journal line by line.
func ParseJournal(journal string) ParsedJournal {
	var out ParsedJournal
	if journal == "" {
		return out
	}
	lines := strings.Split(strings.ReplaceAll(journal, "\r\n", "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], " \t")
		if !headingPrefix.MatchString(line) {
			continue
		}

		m := headingLine.FindStringSubmatch(line)
		if m == nil {
			out.Skipped = append(out.Skipped, SkippedEntry{Line: i + 1, Heading: line, Reason: "malformed heading"})
			continue
		}
		obs := Observation{Date: m[1], Time: m[2], Title: strings.TrimSpace(m[3]), Line: i + 1}

		priority, ok := labelValue(lines, i+1, priorityLabel)
		if !ok {
			out.Skipped = append(out.Skipped, SkippedEntry{Line: i + 1, Heading: line, Reason: "missing priority line"})
			continue
		}
		if obs.Priority, ok = ParsePriority(priority); !ok {
			out.Skipped = append(out.Skipped, SkippedEntry{Line: i + 1, Heading: line, Reason: "unknown priority " + priority})
			continue
		}
		if obs.Source, ok = labelValue(lines, i+2, sourceLabel); !ok {
			out.Skipped = append(out.Skipped, SkippedEntry{Line: i + 1, Heading: line, Reason: "missing source line"})
			continue
		}

		end := i + 3
		for end < len(lines) && !isHeading(lines[end]) {
			end++
		}
		obs.Body = strings.TrimSpace(strings.Join(lines[i+3:end], "\n"))
		out.Observations = append(out.Observations, obs)
		i = end - 1
	}
	return out
}

func labelValue(lines []string, idx int, label string) (string, bool) {
	if idx >= len(lines) {
		return "", false
	}
	line := strings.TrimSpace(lines[idx])
	if !strings.HasPrefix(line, label) {
		return "", false
	}
	value := strings.TrimSpace(strings.TrimPrefix(line, label))
	return value, value != ""
}

func isHeading(line string) bool {
	return strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "### ")
}

// CountObservationHeaders counts lines that open an observation, well-formed
// or not. It is the basis of the per-cycle observation diff.
func CountObservationHeaders(journal string) int {
	return len(headerCount.FindAllStringIndex(journal, -1))
}

// NewObservationCount is the saturating difference between two journals'
// header counts. Compaction can shrink the journal; the result is then zero.
func NewObservationCount(oldJournal, newJournal string) int {
	delta := CountObservationHeaders(newJournal) - CountObservationHeaders(oldJournal)
	if delta < 0 {
		return 0
	}
	return delta
}

// FormatObservation renders an observation in grammar v1.
func FormatObservation(o Observation) string {
	var b strings.Builder
	b.WriteString("### " + o.Date + " " + o.Time + " — " + o.Title + "\n")
	b.WriteString(priorityLabel + " " + o.Priority.Icon() + " " + o.Priority.Label() + "\n")
	b.WriteString(sourceLabel + " " + o.Source + "\n")
	if o.Body != "" {
		b.WriteString("\n" + o.Body + "\n")
	}
	return b.String()
}
