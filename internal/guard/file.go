package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Holder describes the process that created a marker.
type Holder struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// File is a Guard backed by a marker file. It keeps no in-memory state, so
// two File values for the same path observe the same guard.
type File struct {
	path string
	now  func() time.Time
}

// NewFile returns a guard whose marker lives at path.
func NewFile(path string) *File {
	return &File{path: path, now: time.Now}
}

// Path returns the marker path.
func (f *File) Path() string { return f.path }

// Acquire creates the marker. The create is atomic: exactly one of several
// concurrent callers succeeds, the rest get ErrAlreadyHeld.
func (f *File) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrAlreadyHeld
		}
		return fmt.Errorf("create marker: %w", err)
	}

	hostname, _ := os.Hostname()
	body, err := json.Marshal(Holder{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: f.now(),
	})
	if err == nil {
		_, err = file.Write(append(body, '\n'))
	}
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// The marker is already ours; leaving it would wedge future runs.
		os.Remove(f.path)
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// Release removes the marker.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotHeld
		}
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}

// IsHeld reports whether the marker exists.
func (f *File) IsHeld() (bool, error) {
	_, err := os.Stat(f.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat marker: %w", err)
}

// Holder reads the diagnostic body of the marker. Markers created by other
// tools, or truncated by a crash, have an empty or unparseable body; those
// yield a zero Holder with AcquiredAt set to the file's modification time.
func (f *File) Holder() (Holder, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Holder{}, ErrNotHeld
		}
		return Holder{}, fmt.Errorf("stat marker: %w", err)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return Holder{}, fmt.Errorf("read marker: %w", err)
	}

	var h Holder
	if err := json.Unmarshal(data, &h); err != nil || h.AcquiredAt.IsZero() {
		return Holder{AcquiredAt: info.ModTime()}, nil
	}
	return h, nil
}
