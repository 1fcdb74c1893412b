package decision

import (
	"fmt"
	"time"

	"github.com/mbvlabs/spinner/internal/guard"
	"github.com/mbvlabs/spinner/internal/ledger"
)

// Engine evaluates restart safety.
type Engine struct {
	guard       guard.Guard
	history     ledger.History
	minInterval time.Duration
}

// New returns an engine requiring minInterval between restarts.
func New(g guard.Guard, h ledger.History, minInterval time.Duration) *Engine {
	return &Engine{
		guard:       g,
		history:     h,
		minInterval: minInterval,
	}
}

// MinInterval returns the configured throttle.
func (e *Engine) MinInterval() time.Duration { return e.minInterval }

// Evaluate decides whether a restart may start at now. A held guard denies
// the restart before history is consulted.
func (e *Engine) Evaluate(now time.Time) (Decision, error) {
	held, err := e.guard.IsHeld()
	if err != nil {
		return Decision{}, fmt.Errorf("check restart guard: %w", err)
	}
	if held {
		return GuardHeld(), nil
	}

	last, ok, err := e.history.LastRestart()
	if err != nil {
		return Decision{}, fmt.Errorf("read restart history: %w", err)
	}
	if !ok {
		return Permitted(), nil
	}

	elapsed := now.Sub(last)

	var d Decision
	if elapsed >= e.minInterval {
		d = Permitted()
	} else {
		d = IntervalNotElapsed(e.minInterval - elapsed)
	}
	d.HasHistory = true
	d.LastRestart = last
	d.Elapsed = elapsed
	return d, nil
}
