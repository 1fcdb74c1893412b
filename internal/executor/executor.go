// Package executor runs the service manager command that restarts the
// monitored service.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultCommand restarts Apache through the SysV service wrapper.
var DefaultCommand = []string{"service", "apache2", "restart"}

// Result is the outcome of one restart command.
type Result struct {
	ExitCode int
	Output   string
}

// Command restarts the service by running an external command.
type Command struct {
	argv []string
}

// NewCommand returns an executor for argv. An empty argv selects
// DefaultCommand.
func NewCommand(argv []string) *Command {
	if len(argv) == 0 {
		argv = DefaultCommand
	}
	return &Command{argv: append([]string(nil), argv...)}
}

// String returns the command line for logs.
func (c *Command) String() string {
	return strings.Join(c.argv, " ")
}

// Restart runs the command and waits for it. A command that runs and exits
// non-zero is reported through Result.ExitCode with a nil error. An error is
// returned only when the command could not be run or ctx ended first.
func (c *Command) Restart(ctx context.Context) (Result, error) {
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := Result{Output: strings.TrimSpace(out.String())}
	if err == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("restart %q: %w", c.String(), ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	result.ExitCode = -1
	return result, fmt.Errorf("restart %q: %w", c.String(), err)
}
