// Package guard provides the exclusion marker that signals an in-flight
// restart.
//
// The marker's state lives entirely on disk: a file at a fixed path that is
// created with O_EXCL, so independent spinner processes exclude each other
// without advisory locks. A process that crashes between Acquire and Release
// leaves the marker behind. Nothing removes a stale marker automatically;
// an operator must delete it. Holder reports who created it and when, which
// is enough to tell a stale marker from a live one.
package guard

import (
	"errors"
	"sync"
)

var (
	// ErrAlreadyHeld is returned by Acquire when the marker already exists.
	// It is an expected outcome when two runs overlap.
	ErrAlreadyHeld = errors.New("restart guard already held")

	// ErrNotHeld is returned by Release when no marker exists.
	ErrNotHeld = errors.New("restart guard not held")
)

// Guard is the acquire/release/is-held contract shared by the file-backed
// marker and the in-memory fake.
type Guard interface {
	Acquire() error
	Release() error
	IsHeld() (bool, error)
}

// Memory is an in-process Guard for tests.
type Memory struct {
	mu   sync.Mutex
	held bool
}

// NewMemory returns a free in-memory guard.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return ErrAlreadyHeld
	}
	m.held = true
	return nil
}

func (m *Memory) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return ErrNotHeld
	}
	m.held = false
	return nil
}

func (m *Memory) IsHeld() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held, nil
}
