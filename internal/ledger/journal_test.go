package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalMissingFileHasNoHistory(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "journal.jsonl"))

	_, ok, err := j.LastRestart()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJournalReturnsLastSuccessfulRestart(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "state", "journal.jsonl"))
	t0 := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(JournalEntry{Timestamp: t0, Event: EventRestart, ExitCode: 0}))
	require.NoError(t, j.Append(JournalEntry{Timestamp: t0.Add(time.Hour), Event: EventRestart, ExitCode: 0, Forced: true}))
	require.NoError(t, j.Append(JournalEntry{Timestamp: t0.Add(2 * time.Hour), Event: EventRestart, ExitCode: 1}))

	last, ok, err := j.LastRestart()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(t0.Add(time.Hour)), "got %v", last)
}

func TestJournalCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"event\":\"restart\"\n"), 0o600))

	_, _, err := NewJournal(path).LastRestart()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestJournalSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	content := "\n{\"timestamp\":\"2026-10-18T09:00:00Z\",\"event\":\"restart\",\"exit_code\":0}\n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	last, ok, err := NewJournal(path).LastRestart()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)))
}

func TestJournalFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	require.NoError(t, NewJournal(path).Append(JournalEntry{Timestamp: time.Now(), Event: EventRestart}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode()&os.ModePerm)
}
