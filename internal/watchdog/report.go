package watchdog

import (
	"fmt"
	"os"
	"time"

	"github.com/mbvlabs/spinner/internal/decision"
	"github.com/mbvlabs/spinner/internal/health"
)

// Outcome summarises one cycle.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	// OutcomeHealthy means the page passed its checks.
	OutcomeHealthy
	// OutcomeUnhealthy means the page failed but the failure streak has
	// not reached the threshold yet (daemon mode only).
	OutcomeUnhealthy
	// OutcomeDenied means a restart was needed but not permitted.
	OutcomeDenied
	// OutcomeRestarted means the restart command exited zero.
	OutcomeRestarted
	// OutcomeRestartFailed means the restart command failed or could not run.
	OutcomeRestartFailed
	// OutcomeError means the cycle could not reach a decision.
	OutcomeError
)

var outcomeNames = map[Outcome]string{
	OutcomeUnknown:       "unknown",
	OutcomeHealthy:       "healthy",
	OutcomeUnhealthy:     "unhealthy",
	OutcomeDenied:        "denied",
	OutcomeRestarted:     "restarted",
	OutcomeRestartFailed: "restart_failed",
	OutcomeError:         "error",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Report describes one cycle. It is what the event stream publishes.
type Report struct {
	RunID    string             `json:"run_id"`
	Time     time.Time          `json:"time"`
	Forced   bool               `json:"forced,omitempty"`
	Outcome  Outcome            `json:"outcome"`
	Verdict  *health.Verdict    `json:"verdict,omitempty"`
	Decision *decision.Decision `json:"decision,omitempty"`
	ExitCode int                `json:"exit_code,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func currentPID() int {
	return os.Getpid()
}
