package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EventRestart is the journal event type written after a restart attempt.
const EventRestart = "restart"

// JournalEntry is one line of the restart journal.
type JournalEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	ExitCode  int       `json:"exit_code"`
	PID       int       `json:"pid,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Succeeded reports whether the entry records a restart that completed.
func (e JournalEntry) Succeeded() bool {
	return e.Event == EventRestart && e.ExitCode == 0
}

// Journal is a JSON-lines record of restart attempts made by spinner. It is
// an alternative History to scraping the service's error log.
type Journal struct {
	path string
}

// NewJournal returns a journal stored at path.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal path.
func (j *Journal) Path() string { return j.path }

// Append writes entry as a single line.
func (j *Journal) Append(entry JournalEntry) error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

// LastRestart implements History. Only successful restarts count. A journal
// that does not exist yet means no restart has been recorded.
func (j *Journal) LastRestart() (time.Time, bool, error) {
	f, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()

	var (
		last  time.Time
		found bool
		line  int
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %s line %d: %w", ErrParse, j.path, line, err)
		}
		if entry.Succeeded() {
			last = entry.Timestamp
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: scan %s: %w", ErrUnreadable, j.path, err)
	}
	return last, found, nil
}
