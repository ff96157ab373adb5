package agent

import (
	"fmt"
	"strings"
)

// journalExcerpt bounds how much of the journal is inlined into the research
// prompt; the other phases read the file themselves.
const journalExcerpt = 8000

// PromptInput is what the prompt builders know about a mission.
type PromptInput struct {
	Name          string
	Description   string
	Depth         string
	MaxSources    int
	SeedQueries   []string
	Plan          string
	Journal       string
	Reflections   string
	Context       string
	Purpose       string
	MaxNext       int
	MaxBacklog    int
	JournalTokens int
	// MinRelevance is the source relevance below which the observer skips a
	// source. Zero keeps every source.
	MinRelevance  float64
}

const researchSystem = `You are the research agent of a long-running personal research assistant.
You gather sources on one topic for one specific reader.

Work from the research plan: its "Next" and "In Progress" items are this cycle's priorities.
Turn each priority into a few short, specific search queries. Never search for the raw topic name.
Prefer primary sources. Skip anything the existing knowledge already covers.

Save every significant finding as its own JSON file named src_<short_hash>.json in the
current directory, with this shape:
{
  "source_url": "https://...",
  "source_title": "...",
  "source_type": "paper|article|blog|docs|forum|official",
  "fetched_at": "RFC 3339 timestamp",
  "relevance": 0.0-1.0,
  "strategic_relevance": "why this matters to the reader",
  "key_claims": ["..."],
  "entities": ["..."],
  "raw_excerpt": "most relevant excerpt, under 2000 characters",
  "summary": "2-3 sentences"
}`

const observeSystem = `You are the observer agent of a long-running personal research assistant.
You turn this cycle's raw source files into journal observations.

Append each new observation to the "## Observations" section of journal.md using exactly
this layout. The priority and source lines must directly follow the heading:

### YYYY-MM-DD HH:MM — Short title
**Priority**: 🔴 Critical | 🟡 Notable | ⚪ Incremental
**Source**: URL or citation

2-4 sentences in your own words, then key facts, implications and open questions.

Critical means it changes the reader's work or strategy. Notable means it improves their
understanding of the domain. Incremental is everything else.
Do not duplicate what the journal or reflections already hold. When a finding contradicts
an earlier observation, add it and flag the contradiction. Every observation cites its source.
Rewrite the "## Summary" section to reflect the current state of knowledge.`

const reflectSystem = `You are the reflector agent of a long-running personal research assistant.
The journal has outgrown its budget and must be compacted.

1. Merge older observations into reflections.md as themes: synthesize patterns across
   sources, keep decisive numbers, dates and URLs, record how understanding changed,
   and list unresolved contradictions. Aim for a 5-10x compression.
2. Rewrite journal.md keeping only the observations of the last two or three cycles and
   any critical observation not yet fully captured in reflections. Keep the observation
   layout of the remaining entries unchanged.`

const planSystem = `You are the planner agent of a long-running personal research assistant.
You maintain plan.md, the research agenda.

Keep these sections: "## Completed", "## In Progress", "## Next (Priority Order)",
"## Backlog" and "## Research Strategy Notes".
Mark items done when the journal or reflections answer them, note progress on items under
way, add new objectives that the latest findings suggest, and order "Next" by importance
to the reader. Drop stale backlog items.`

// SystemPrompt returns the standing instructions of a phase.
func SystemPrompt(phase Phase) string {
	switch phase {
	case PhaseResearch:
		return researchSystem
	case PhaseObserve:
		return observeSystem
	case PhaseReflect:
		return reflectSystem
	case PhasePlan:
		return planSystem
	}
	return ""
}

func writeFraming(b *strings.Builder, in PromptInput) {
	if in.Context != "" {
		fmt.Fprintf(b, "\n## Reader context\n%s\n", in.Context)
	}
	if in.Purpose != "" {
		fmt.Fprintf(b, "\n## Why this topic matters\n%s\n", in.Purpose)
	}
}

// ResearchPrompt builds the Research phase task.
func ResearchPrompt(in PromptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %q\nDescription: %s\n", in.Name, in.Description)
	writeFraming(&b, in)
	fmt.Fprintf(&b, "\n## Current research plan\n%s\n", in.Plan)
	fmt.Fprintf(&b, "\n## Existing knowledge\n%s\n", truncateString(in.Journal, journalExcerpt))
	if len(in.SeedQueries) > 0 {
		b.WriteString("\n## Seed queries (starting points only)\n")
		for _, q := range in.SeedQueries {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	fmt.Fprintf(&b, "\nResearch depth: %s. Save up to %d significant sources as JSON files in the current directory.\n",
		in.Depth, in.MaxSources)
	return b.String()
}

// ObservePrompt builds the Observe phase task.
func ObservePrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("Integrate this cycle's research into the journal.\n\n")
	b.WriteString("Read journal.md, reflections.md, purpose.md and context.md if present, and every JSON file in sources/.\n")
	b.WriteString("Then write the complete updated journal.md.\n")
	if in.MinRelevance > 0 {
		fmt.Fprintf(&b, "Skip sources whose relevance is below %.2f; do not turn them into observations.\n", in.MinRelevance)
	}
	writeFraming(&b, in)
	fmt.Fprintf(&b, "\nCurrent journal length: %d characters. Reflections present: %s.\n",
		len(in.Journal), yesNo(len(in.Reflections) > 100))
	return b.String()
}

// ReflectPrompt builds the Reflect phase task.
func ReflectPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("The journal is over its token budget and needs compaction.\n\n")
	b.WriteString("Read journal.md and reflections.md, then write the updated reflections.md and the trimmed journal.md.\n")
	writeFraming(&b, in)
	fmt.Fprintf(&b, "\nJournal: %d characters (about %d tokens). Reflections: %d characters.\n",
		len(in.Journal), in.JournalTokens, len(in.Reflections))
	return b.String()
}

// PlanPrompt builds the Plan phase task.
func PlanPrompt(in PromptInput) string {
	var b strings.Builder
	b.WriteString("Update the research plan from the latest knowledge.\n\n")
	b.WriteString("Read journal.md, reflections.md and plan.md, then write the complete updated plan.md.\n")
	writeFraming(&b, in)
	fmt.Fprintf(&b, "\nKeep at most %d items in Next and %d in Backlog.\n", in.MaxNext, in.MaxBacklog)
	return b.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
