package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ghost/internal/paths"
)

// SnapshotDayFormat names history files.
const SnapshotDayFormat = "2006-01-02"

// Snapshot copies journal.md and plan.md into historyDir as
// journal_<day>.md and plan_<day>.md. A second snapshot on the same day
// overwrites the first. Missing artifacts are skipped.
func Snapshot(dir, historyDir string, day time.Time) ([]string, error) {
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	stamp := day.Format(SnapshotDayFormat)

	var written []string
	for _, c := range []struct{ src, prefix string }{
		{paths.JournalFile, "journal"},
		{paths.PlanFile, "plan"},
	} {
		text, err := readOptional(filepath.Join(dir, c.src))
		if err != nil {
			return written, err
		}
		if text == "" {
			continue
		}
		dst := filepath.Join(historyDir, fmt.Sprintf("%s_%s.md", c.prefix, stamp))
		if err := WriteFileAtomic(dst, text); err != nil {
			return written, err
		}
		written = append(written, dst)
	}
	return written, nil
}
