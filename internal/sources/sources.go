// Package sources reads the working set of source files the research agent
// writes into a mission's sources/ directory, normalizes them for the ledger
// cache, and clears the directory at the end of a cycle.
package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ghost/internal/store"
)

// MaxExcerpt caps the cached excerpt in characters.
const MaxExcerpt = 2000

// namespace seeds deterministic source ids.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ghost/sources"))

// Record is one source as written by the agent. Both the documented field
// names and a few short aliases are accepted.
type Record struct {
	ID                 string    `json:"-"`
	File               string    `json:"-"`
	URL                string    `json:"source_url"`
	Title              string    `json:"source_title"`
	SourceType         string    `json:"source_type"`
	FetchedAt          time.Time `json:"-"`
	Relevance          float64   `json:"-"`
	StrategicRelevance string    `json:"strategic_relevance"`
	KeyClaims          []string  `json:"key_claims"`
	Entities           []string  `json:"entities"`
	Excerpt            string    `json:"raw_excerpt"`
	Summary            string    `json:"summary"`
}

type rawRecord struct {
	Record
	AltURL    string    `json:"url"`
	AltTitle  string    `json:"title"`
	FetchedAt string    `json:"fetched_at"`
	Relevance flexFloat `json:"relevance"`
}

// flexFloat accepts 0.8 as well as "0.8".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("relevance %s: %w", string(b), err)
	}
	*f = flexFloat(v)
	return nil
}

// Skipped describes a file Load could not use.
type Skipped struct {
	File string
	Err  error
}

// LoadResult is the parsed working set.
type LoadResult struct {
	Records []Record
	Skipped []Skipped
}

// Files lists the *.json files in dir in name order. A missing directory is
// an empty working set.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sources dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Count returns the number of source files in dir.
func Count(dir string) (int, error) {
	files, err := Files(dir)
	return len(files), err
}

// Load parses every source file in dir. Unreadable or invalid files are
// reported in Skipped, never fatal.
func Load(dir string, now time.Time) (*LoadResult, error) {
	files, err := Files(dir)
	if err != nil {
		return nil, err
	}
	res := &LoadResult{}
	for _, path := range files {
		rec, err := loadFile(path, now)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{File: filepath.Base(path), Err: err})
			continue
		}
		res.Records = append(res.Records, *rec)
	}
	return res, nil
}

func loadFile(path string, now time.Time) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	rec := raw.Record
	rec.File = filepath.Base(path)
	if rec.URL == "" {
		rec.URL = raw.AltURL
	}
	if rec.Title == "" {
		rec.Title = raw.AltTitle
	}
	rec.URL = strings.TrimSpace(rec.URL)
	if rec.URL == "" {
		return nil, fmt.Errorf("missing source_url")
	}
	rec.Relevance = clamp(float64(raw.Relevance))
	rec.FetchedAt = now
	if t, err := time.Parse(time.RFC3339, raw.FetchedAt); err == nil {
		rec.FetchedAt = t
	}
	rec.Title = CleanText(rec.Title)
	rec.Summary = CleanText(rec.Summary)
	rec.Excerpt = truncate(CleanText(rec.Excerpt), MaxExcerpt)
	rec.ID = SourceID(rec.URL)
	return &rec, nil
}

// SourceID derives a stable id from a URL so the same page is cached once
// per mission.
func SourceID(url string) string {
	norm := strings.TrimRight(strings.ToLower(strings.TrimSpace(url)), "/")
	return uuid.NewSHA1(namespace, []byte(norm)).String()
}

// ToLedger converts records into ledger rows.
func ToLedger(records []Record, missionID string, cycleID int64) []store.SourceRecord {
	out := make([]store.SourceRecord, 0, len(records))
	for _, r := range records {
		out = append(out, store.SourceRecord{
			ID:         r.ID,
			MissionID:  missionID,
			CycleID:    cycleID,
			URL:        r.URL,
			Title:      r.Title,
			SourceType: r.SourceType,
			Relevance:  r.Relevance,
			Summary:    r.Summary,
			Excerpt:    r.Excerpt,
			FetchedAt:  r.FetchedAt,
		})
	}
	return out
}

var removeFile = os.Remove

// Clean deletes the source files in dir and returns how many were removed.
// Every file is attempted; failures are joined.
func Clean(dir string) (int, error) {
	files, err := Files(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, f := range files {
		if err := removeFile(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", filepath.Base(f), err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
