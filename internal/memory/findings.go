package memory

// SummaryLength caps Finding.Summary in characters.
const SummaryLength = 200

// Finding is an observation selected for notification.
type Finding struct {
	Key       string
	Priority  Priority
	Title     string
	Summary   string
	SourceURL string
}

// ExtractSignificantFindings returns the observations whose priority score is
// at least minPriority, in journal order.
func ExtractSignificantFindings(journal string, minPriority float64) []Finding {
	var findings []Finding
	for _, obs := range ParseObservations(journal) {
		if obs.Priority.Score() < minPriority {
			continue
		}
		summary := obs.Body
		if summary == "" {
			summary = obs.Title
		}
		findings = append(findings, Finding{
			Key:       obs.Key(),
			Priority:  obs.Priority,
			Title:     obs.Title,
			Summary:   truncateRunes(summary, SummaryLength),
			SourceURL: obs.Source,
		})
	}
	return findings
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
