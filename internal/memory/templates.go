package memory

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// InitialJournal is the journal of a mission that has not run yet.
func InitialJournal(name string) string {
	return fmt.Sprintf("# Research Journal: %s\n\n## Summary\nResearch has not yet begun. Awaiting first research cycle.\n\n## Observations\n\n", name)
}

// InitialReflections is the placeholder digest written at creation.
func InitialReflections(name string) string {
	return fmt.Sprintf("# Reflections: %s\n\nNo reflections yet. Reflections are generated after the journal accumulates sufficient observations.\n", name)
}

// InitialPlan seeds the plan with priorities drawn from the description.
func InitialPlan(name, description string, now time.Time) string {
	var items []string
	for i, p := range ExtractPriorities(description) {
		items = append(items, fmt.Sprintf("%d. [ ] %s", i+1, p))
	}
	next := strings.Join(items, "\n")
	if next == "" {
		next = "1. [ ] Initial broad survey of the topic\n   - Rationale: Establish baseline understanding before diving deeper"
	}

	return fmt.Sprintf(`# Research Plan: %s

## Objective
%s

## Status: Active
## Last updated: %s
## Cycles completed: 0

## Completed

## In Progress

## Next (Priority Order)
%s

## Backlog

## Research Strategy Notes
This is a new mission. The first cycle should focus on the specific interests described in the objective.
`, name, description, now.UTC().Format(time.RFC3339), next)
}

var (
	wantClause = regexp.MustCompile(`(?i)I (also )?want to (learn |know |understand |make sure |find out )?`)
	alsoWord   = regexp.MustCompile(`(?i)\b(also|additionally)\b`)
)

const minClauseLength = 10

// ExtractPriorities splits a free-text description into research items on
// phrases such as "I want to" and "also". Clauses of ten characters or fewer
// are dropped; when nothing survives the description itself becomes one item.
func ExtractPriorities(description string) []string {
	marked := wantClause.ReplaceAllString(description, "|")
	marked = alsoWord.ReplaceAllString(marked, "|")

	var out []string
	for _, clause := range strings.Split(marked, "|") {
		clause = strings.Trim(clause, ",. \t\n")
		if utf8.RuneCountInString(clause) <= minClauseLength {
			continue
		}
		r, size := utf8.DecodeRuneInString(clause)
		out = append(out, "Research "+string(unicode.ToUpper(r))+clause[size:])
	}
	if len(out) == 0 {
		return []string{"Research: " + truncateRunes(description, 100)}
	}
	return out
}
