// Package ledger recovers the time of the most recent service restart from
// an external record: the service's own error log, or the restart journal
// spinner writes itself.
//
// Callers that only need the instant depend on History. Everything that
// knows about log text stays in this package.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	// ErrUnreadable is returned when the underlying log cannot be read.
	ErrUnreadable = errors.New("restart ledger unreadable")

	// ErrParse is returned when a restart line exists but its timestamp
	// cannot be parsed.
	ErrParse = errors.New("restart ledger timestamp malformed")
)

// TimestampLayout is the bracketed timestamp prefix written by Apache httpd,
// e.g. "[Sun Oct 18 09:12:44 2026]". Fractional seconds after the seconds
// field ("09:12:44.123456") are accepted as well.
const TimestampLayout = "Mon Jan _2 15:04:05 2006"

// DefaultMarker is the substring identifying a completed restart in an
// Apache error log ("... resuming normal operations").
const DefaultMarker = "resuming"

const maxLineSize = 1 << 20

// Event is a restart observed in a ledger.
type Event struct {
	Timestamp time.Time
	Line      string
}

// History reports the instant of the most recent restart. ok is false, with
// a nil error, when no restart has ever been recorded.
type History interface {
	LastRestart() (last time.Time, ok bool, err error)
}

// ErrorLog reads restart events from an append-only text log.
type ErrorLog struct {
	path     string
	marker   string
	location *time.Location
}

// NewErrorLog returns a ledger over the log at path. Lines containing marker
// are restart events. An empty marker selects DefaultMarker.
func NewErrorLog(path, marker string) *ErrorLog {
	if marker == "" {
		marker = DefaultMarker
	}
	return &ErrorLog{
		path:     path,
		marker:   marker,
		location: time.Local,
	}
}

// WithLocation overrides the time zone timestamps are interpreted in.
func (l *ErrorLog) WithLocation(loc *time.Location) *ErrorLog {
	l.location = loc
	return l
}

// Path returns the log path.
func (l *ErrorLog) Path() string { return l.path }

// LastRestartEvent returns the last line in the log containing the marker.
func (l *ErrorLog) LastRestartEvent() (Event, bool, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return Event{}, false, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()

	var last string
	found := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, l.marker) {
			last = line
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return Event{}, false, fmt.Errorf("%w: scan %s: %w", ErrUnreadable, l.path, err)
	}
	if !found {
		return Event{}, false, nil
	}

	ts, err := l.parseLine(last)
	if err != nil {
		return Event{}, false, err
	}
	return Event{Timestamp: ts, Line: last}, true, nil
}

// LastRestart implements History.
func (l *ErrorLog) LastRestart() (time.Time, bool, error) {
	event, ok, err := l.LastRestartEvent()
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	return event.Timestamp, true, nil
}

func (l *ErrorLog) parseLine(line string) (time.Time, error) {
	field, err := bracketedPrefix(line)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.ParseInLocation(TimestampLayout, field, l.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrParse, field, err)
	}
	return ts, nil
}

// bracketedPrefix isolates "<ts>" from a line of the form "[<ts>] ...".
func bracketedPrefix(line string) (string, error) {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, "[") {
		return "", fmt.Errorf("%w: no bracketed timestamp in %q", ErrParse, line)
	}
	end := strings.IndexByte(trimmed, ']')
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated timestamp in %q", ErrParse, line)
	}
	return strings.TrimSpace(trimmed[1:end]), nil
}
