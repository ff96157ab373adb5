package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifacts_MissingFilesReadEmpty(t *testing.T) {
	a := NewArtifacts(t.TempDir(), "")
	for _, read := range []func() (string, error){a.ReadJournal, a.ReadReflections, a.ReadPlan, a.ReadContext, a.ReadPurpose} {
		text, err := read()
		require.NoError(t, err)
		assert.Empty(t, text)
	}
}

func TestArtifacts_WriteRead(t *testing.T) {
	dir := t.TempDir()
	a := NewArtifacts(dir, "")
	require.NoError(t, a.WriteJournal(InitialJournal("X")))
	require.NoError(t, a.WritePlan("plan"))

	j, err := a.ReadJournal()
	require.NoError(t, err)
	assert.Contains(t, j, "## Observations")

	p, err := a.ReadPlan()
	require.NoError(t, err)
	assert.Equal(t, "plan", p)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestArtifacts_ContextFallsBackToGlobal(t *testing.T) {
	home := t.TempDir()
	global := filepath.Join(home, "context.md")
	require.NoError(t, os.WriteFile(global, []byte("global researcher"), 0644))

	a := NewArtifacts(t.TempDir(), global)
	text, err := a.ReadContext()
	require.NoError(t, err)
	assert.Equal(t, "global researcher", text)

	require.NoError(t, a.WriteContext("mission specific"))
	text, err = a.ReadContext()
	require.NoError(t, err)
	assert.Equal(t, "mission specific", text)
}

func TestSnapshot_OverwritesSameDay(t *testing.T) {
	dir := t.TempDir()
	history := filepath.Join(dir, "history")
	a := NewArtifacts(dir, "")
	require.NoError(t, a.WriteJournal("j1"))
	require.NoError(t, a.WritePlan("p1"))

	day := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	written, err := Snapshot(dir, history, day)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(history, "journal_2026-05-04.md"),
		filepath.Join(history, "plan_2026-05-04.md"),
	}, written)

	require.NoError(t, a.WriteJournal("j2"))
	_, err = Snapshot(dir, history, day.Add(10*time.Hour))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(history, "journal_2026-05-04.md"))
	require.NoError(t, err)
	assert.Equal(t, "j2", string(data))
}

func TestSnapshot_SkipsMissing(t *testing.T) {
	dir := t.TempDir()
	written, err := Snapshot(dir, filepath.Join(dir, "history"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestInitialReflections(t *testing.T) {
	assert.Contains(t, InitialReflections("Batteries"), "# Reflections: Batteries")
}
