// Package memory owns a mission's text artifacts: the journal of observations,
// the reflections digest, the plan, and the optional context/purpose framing
// documents. It also defines the journal's observation grammar and the plan's
// section structure.
package memory

import (
	"fmt"
	"os"
	"path/filepath"

	"ghost/internal/paths"
)

// Artifacts reads and writes the memory files of one mission directory.
type Artifacts struct {
	Dir string

	// GlobalContext is consulted when the mission has no context.md.
	GlobalContext string
}

// NewArtifacts returns the artifacts rooted at dir.
func NewArtifacts(dir, globalContextPath string) *Artifacts {
	return &Artifacts{Dir: dir, GlobalContext: globalContextPath}
}

func (a *Artifacts) JournalPath() string     { return filepath.Join(a.Dir, paths.JournalFile) }
func (a *Artifacts) ReflectionsPath() string { return filepath.Join(a.Dir, paths.ReflectionsFile) }
func (a *Artifacts) PlanPath() string        { return filepath.Join(a.Dir, paths.PlanFile) }
func (a *Artifacts) ContextPath() string     { return filepath.Join(a.Dir, paths.ContextFile) }
func (a *Artifacts) PurposePath() string     { return filepath.Join(a.Dir, paths.PurposeFile) }

func (a *Artifacts) ReadJournal() (string, error)     { return readOptional(a.JournalPath()) }
func (a *Artifacts) ReadReflections() (string, error) { return readOptional(a.ReflectionsPath()) }
func (a *Artifacts) ReadPlan() (string, error)        { return readOptional(a.PlanPath()) }
func (a *Artifacts) ReadPurpose() (string, error)     { return readOptional(a.PurposePath()) }

// ReadContext returns the mission's context.md, falling back to the global one.
func (a *Artifacts) ReadContext() (string, error) {
	text, err := readOptional(a.ContextPath())
	if err != nil || text != "" || a.GlobalContext == "" {
		return text, err
	}
	return readOptional(a.GlobalContext)
}

func (a *Artifacts) WriteJournal(text string) error     { return WriteFileAtomic(a.JournalPath(), text) }
func (a *Artifacts) WriteReflections(text string) error { return WriteFileAtomic(a.ReflectionsPath(), text) }
func (a *Artifacts) WritePlan(text string) error        { return WriteFileAtomic(a.PlanPath(), text) }
func (a *Artifacts) WriteContext(text string) error     { return WriteFileAtomic(a.ContextPath(), text) }
func (a *Artifacts) WritePurpose(text string) error     { return WriteFileAtomic(a.PurposePath(), text) }

// readOptional returns "" without error when the file does not exist.
func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return string(data), nil
}

// WriteFileAtomic writes text to a temp file in the same directory and renames
// it over path.
func WriteFileAtomic(path, text string) error { return WriteFileAtomicMode(path, text, 0644) }

// WriteFileAtomicMode is WriteFileAtomic with explicit permissions.
func WriteFileAtomicMode(path, text string, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
