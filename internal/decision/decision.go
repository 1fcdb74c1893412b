// Package decision decides whether restarting the monitored service is
// currently safe.
//
// An Engine combines the exclusion guard, the restart history and the
// minimum restart interval. It never retries, never writes anything and
// never turns a history error into a decision: the caller chooses whether an
// unreadable history fails open or closed.
package decision

import (
	"fmt"
	"time"
)

// Reason explains a denied restart.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonGuardHeld means another restart is in flight.
	ReasonGuardHeld
	// ReasonIntervalNotElapsed means the last restart was too recent.
	ReasonIntervalNotElapsed
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonGuardHeld:
		return "guard_held"
	case ReasonIntervalNotElapsed:
		return "interval_not_elapsed"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// MarshalText encodes the reason by name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Decision is the result of one evaluation.
type Decision struct {
	Permitted bool   `json:"permitted"`
	Reason    Reason `json:"reason"`

	// Remaining is how long until the interval elapses. Set only for
	// ReasonIntervalNotElapsed.
	Remaining time.Duration `json:"remaining_ns,omitempty"`

	// HasHistory reports whether a previous restart was found. LastRestart
	// and Elapsed are meaningful only when it is true.
	HasHistory  bool          `json:"has_history"`
	LastRestart time.Time     `json:"last_restart,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns,omitempty"`
}

// Permitted returns a decision allowing the restart.
func Permitted() Decision {
	return Decision{Permitted: true}
}

// GuardHeld returns a denial caused by an in-flight restart.
func GuardHeld() Decision {
	return Decision{Reason: ReasonGuardHeld}
}

// IntervalNotElapsed returns a denial with the time left before a restart
// would be permitted.
func IntervalNotElapsed(remaining time.Duration) Decision {
	return Decision{Reason: ReasonIntervalNotElapsed, Remaining: remaining}
}

// String renders the decision for logs.
func (d Decision) String() string {
	switch {
	case d.Permitted && d.HasHistory:
		return fmt.Sprintf("permitted: %s since last restart", d.Elapsed.Round(time.Second))
	case d.Permitted:
		return "permitted: no previous restart recorded"
	case d.Reason == ReasonGuardHeld:
		return "denied: restart guard held, another run may be in progress"
	case d.Reason == ReasonIntervalNotElapsed:
		return fmt.Sprintf("denied: minimum interval not elapsed, %s remaining", d.Remaining.Round(time.Second))
	default:
		return "denied: " + d.Reason.String()
	}
}
