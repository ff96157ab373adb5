// Package lock guards a mission against concurrent cycles. The lock is the
// cycle checkpoint file itself: while cycle_status.json exists a cycle is in
// progress, and its content says how far it got.
//
// There is no staleness timeout. A crashed holder leaves the file in place
// until it is cleared explicitly with Release.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ghost/internal/logging"
	"ghost/internal/paths"
)

var (
	// ErrLocked is returned by Acquire when a cycle already holds the lock.
	ErrLocked = errors.New("cycle already in progress")
	// ErrNotLocked is returned by Read when no checkpoint exists.
	ErrNotLocked = errors.New("no cycle in progress")
)

// Status is the checkpoint written at every phase transition.
type Status struct {
	Phase             string    `json:"phase"`
	PhaseNumber       int       `json:"phaseNumber"`
	TotalPhases       int       `json:"totalPhases"`
	StartedAt         time.Time `json:"startedAt"`
	PhaseStartedAt    time.Time `json:"phaseStartedAt"`
	PID               int       `json:"pid"`
	SourcesFound      int       `json:"sourcesFound"`
	ObservationsAdded int       `json:"observationsAdded"`
}

// Elapsed returns how long the cycle has been running at now.
func (s *Status) Elapsed(now time.Time) time.Duration { return now.Sub(s.StartedAt) }

// HolderAlive reports whether the process that wrote the checkpoint is alive.
func (s *Status) HolderAlive() bool { return ProcessAlive(s.PID) }

// ProcessAlive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Path returns the checkpoint path of a mission directory.
func Path(dir string) string { return filepath.Join(dir, paths.StatusFile) }

// IsCycleLocked reports whether the checkpoint exists.
func IsCycleLocked(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Acquire creates the checkpoint only if it does not exist yet. Two racing
// callers cannot both succeed.
func Acquire(dir string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	f, err := os.OpenFile(Path(dir), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrLocked
		}
		return fmt.Errorf("failed to create lock: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("failed to write lock: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("failed to close lock: %w", err)
	}
	logging.Get(logging.CategoryLock).Debug("lock acquired", zap.String("dir", dir), zap.Int("pid", st.PID))
	return nil
}

// Update rewrites the checkpoint through a temp file and rename, so readers
// never observe a partial document.
func Update(dir string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cycle_status.tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp status: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp status: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp status: %w", err)
	}
	if err := os.Rename(tmpPath, Path(dir)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace status: %w", err)
	}
	return nil
}

// Read decodes the checkpoint, or returns ErrNotLocked.
func Read(dir string) (*Status, error) {
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLocked
		}
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("corrupt status file %s: %w", Path(dir), err)
	}
	return &st, nil
}

// ReleaseCycleLock removes the checkpoint. It is safe to call any number of
// times and never fails; unexpected filesystem errors are logged.
func ReleaseCycleLock(dir string) {
	err := os.Remove(Path(dir))
	if err == nil {
		logging.Get(logging.CategoryLock).Debug("lock released", zap.String("dir", dir))
		return
	}
	if !os.IsNotExist(err) {
		logging.Get(logging.CategoryLock).Warn("failed to release lock", zap.String("dir", dir), zap.Error(err))
	}
}
