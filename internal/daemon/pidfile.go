package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ghost/internal/lock"
	"ghost/internal/memory"
)

// ErrBadPIDRecord is returned when daemon.pid holds something other than a
// positive pid.
var ErrBadPIDRecord = errors.New("malformed daemon pid record")

// The daemon pid record is one decimal line, owner-readable only, replaced
// atomically so `ghost daemon status` never sees a partial write.

// WritePIDFile records pid at path.
func WritePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("pid record %s: %w", path, err)
	}
	if err := memory.WriteFileAtomicMode(path, strconv.Itoa(pid)+"\n", 0600); err != nil {
		return fmt.Errorf("pid record %s: %w", path, err)
	}
	return nil
}

// ReadPIDFile returns the recorded pid, or 0 when nothing is recorded.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("pid record %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid record %s holds %q: %w", path, text, ErrBadPIDRecord)
	}
	return pid, nil
}

// RemovePIDFile clears the record; clearing an absent record succeeds.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("pid record %s: %w", path, err)
	}
	return nil
}

// CheckPIDFile reports whether the recorded daemon is alive. A stale record
// comes back as not running together with its pid.
func CheckPIDFile(path string) (running bool, pid int, err error) {
	if pid, err = ReadPIDFile(path); err != nil || pid == 0 {
		return false, 0, err
	}
	return lock.ProcessAlive(pid), pid, nil
}
