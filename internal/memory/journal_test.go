package memory

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJournal = `# Research Journal: Solid State Batteries

## Summary
Two labs claim commercial-scale cells.

## Observations

### 2026-03-01 09:15 — Toyota pilot line confirmed
**Priority**: 🔴 Critical
**Source**: https://example.com/toyota

Pilot line output starts in 2027.

### 2026-03-01 09:20 — Sulfide electrolyte cost drop
**Priority**: 🟡 Notable
**Source**: https://example.com/sulfide

### 2026-03-02 10:00 - Minor conference note
**Priority**: ⚪ Incremental
**Source**: Conference proceedings, p. 12
Nothing new.
`

func TestParseObservations_Empty(t *testing.T) {
	assert.Empty(t, ParseObservations(""))
	assert.Empty(t, ParseObservations("# Research Journal\n\n## Observations\n"))
}

func TestParseObservations_DocumentOrder(t *testing.T) {
	obs := ParseObservations(sampleJournal)
	require.Len(t, obs, 3)

	want := []Observation{
		{Date: "2026-03-01", Time: "09:15", Title: "Toyota pilot line confirmed", Priority: PriorityCritical, Source: "https://example.com/toyota", Body: "Pilot line output starts in 2027.", Line: 8},
		{Date: "2026-03-01", Time: "09:20", Title: "Sulfide electrolyte cost drop", Priority: PriorityNotable, Source: "https://example.com/sulfide", Line: 14},
		{Date: "2026-03-02", Time: "10:00", Title: "Minor conference note", Priority: PriorityIncremental, Source: "Conference proceedings, p. 12", Body: "Nothing new.", Line: 18},
	}
	if diff := cmp.Diff(want, obs); diff != "" {
		t.Errorf("observations mismatch (-want +got):\n%s", diff)
	}
}

func TestParseJournal_SkipsMalformed(t *testing.T) {
	journal := `## Observations

### 2026-03-01 09:15 — No priority line
**Source**: https://example.com/a

### 2026-03-01 — Missing time
**Priority**: Notable
**Source**: x

### 2026-03-01 09:30 — Unknown priority
**Priority**: Earth-shattering
**Source**: x

### 2026-03-01 09:45 — Missing source
**Priority**: Notable

### 2026-03-01 10:00 — Good one
**Priority**: notable
**Source**: https://example.com/good
`
	parsed := ParseJournal(journal)
	require.Len(t, parsed.Observations, 1)
	assert.Equal(t, "Good one", parsed.Observations[0].Title)

	require.Len(t, parsed.Skipped, 4)
	reasons := make([]string, 0, len(parsed.Skipped))
	for _, s := range parsed.Skipped {
		reasons = append(reasons, s.Reason)
	}
	assert.Equal(t, []string{
		"missing priority line",
		"malformed heading",
		"unknown priority Earth-shattering",
		"missing source line",
	}, reasons)
	assert.Equal(t, 3, parsed.Skipped[0].Line)
}

func TestParseObservations_BodyStopsAtSectionHeading(t *testing.T) {
	journal := "### 2026-01-01 00:00 — A\n**Priority**: Critical\n**Source**: s\nbody line\n## Archive\nnot body\n"
	obs := ParseObservations(journal)
	require.Len(t, obs, 1)
	assert.Equal(t, "body line", obs[0].Body)
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		ok   bool
	}{
		{"🔴 Critical", PriorityCritical, true},
		{"Notable", PriorityNotable, true},
		{"⚪ incremental", PriorityIncremental, true},
		{"**Critical**", PriorityCritical, true},
		{"urgent", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParsePriority(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPriorityScore(t *testing.T) {
	assert.Equal(t, 1.0, PriorityCritical.Score())
	assert.Equal(t, 0.7, PriorityNotable.Score())
	assert.Equal(t, 0.3, PriorityIncremental.Score())
	assert.Equal(t, 0.0, Priority("").Score())
}

func TestFormatObservation_RoundTrip(t *testing.T) {
	o := Observation{Date: "2026-04-01", Time: "12:00", Title: "Round trip", Priority: PriorityNotable, Source: "src", Body: "b"}
	parsed := ParseObservations(FormatObservation(o))
	require.Len(t, parsed, 1)
	o.Line = 1
	assert.Equal(t, o, parsed[0])
}

func TestCountObservationHeaders(t *testing.T) {
	assert.Equal(t, 0, CountObservationHeaders(""))
	assert.Equal(t, 3, CountObservationHeaders(sampleJournal))
	// Malformed headers still count toward the diff.
	assert.Equal(t, 1, CountObservationHeaders("### 2026-01-01 oops\n"))
	// Indented headers do not.
	assert.Equal(t, 0, CountObservationHeaders("  ### 2026-01-01 00:00 — x\n"))
}

func TestNewObservationCount_NeverNegative(t *testing.T) {
	compacted := "## Observations\n### 2026-03-02 10:00 — Minor conference note\n"
	assert.Equal(t, 0, NewObservationCount(sampleJournal, compacted))
	assert.Equal(t, 3, NewObservationCount("", sampleJournal))
	assert.Equal(t, 0, NewObservationCount(sampleJournal, sampleJournal))
}

func TestExtractSignificantFindings(t *testing.T) {
	findings := ExtractSignificantFindings(sampleJournal, 0.8)
	require.Len(t, findings, 1)
	assert.Equal(t, "Toyota pilot line confirmed", findings[0].Title)
	assert.Equal(t, PriorityCritical, findings[0].Priority)
	assert.Equal(t, "Pilot line output starts in 2027.", findings[0].Summary)
	assert.Equal(t, "https://example.com/toyota", findings[0].SourceURL)
	assert.Equal(t, "2026-03-01 09:15 Toyota pilot line confirmed", findings[0].Key)

	notable := ExtractSignificantFindings(sampleJournal, 0.7)
	require.Len(t, notable, 2)
	// Empty body falls back to the title.
	assert.Equal(t, "Sulfide electrolyte cost drop", notable[1].Summary)

	assert.Len(t, ExtractSignificantFindings(sampleJournal, 0), 3)
	assert.Empty(t, ExtractSignificantFindings("", 0))
}

func TestExtractSignificantFindings_SummaryTruncated(t *testing.T) {
	body := strings.Repeat("é", 250)
	journal := "### 2026-01-01 00:00 — Long\n**Priority**: Critical\n**Source**: s\n" + body + "\n"
	findings := ExtractSignificantFindings(journal, 0.8)
	require.Len(t, findings, 1)
	assert.Equal(t, strings.Repeat("é", SummaryLength), findings[0].Summary)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
