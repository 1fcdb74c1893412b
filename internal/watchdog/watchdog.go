// Package watchdog ties the page probe, the restart decision engine, the
// exclusion guard and the restart command into one check-and-restart cycle.
//
// A cycle never retries. Whatever goes wrong is logged and reported; the
// next cycle (the next cron invocation, or the next tick in daemon mode)
// starts from scratch.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mbvlabs/spinner/internal/clock"
	"github.com/mbvlabs/spinner/internal/decision"
	"github.com/mbvlabs/spinner/internal/executor"
	"github.com/mbvlabs/spinner/internal/guard"
	"github.com/mbvlabs/spinner/internal/health"
	"github.com/mbvlabs/spinner/internal/ledger"
	"github.com/mbvlabs/spinner/internal/log"
)

// Prober checks the monitored page.
type Prober interface {
	Check(ctx context.Context) health.Verdict
}

// Evaluator decides whether a restart is safe.
type Evaluator interface {
	Evaluate(now time.Time) (decision.Decision, error)
}

// Restarter restarts the monitored service.
type Restarter interface {
	Restart(ctx context.Context) (executor.Result, error)
}

// holderReporter is implemented by guards that can describe their holder.
type holderReporter interface {
	Holder() (guard.Holder, error)
}

// Config wires a Watchdog.
type Config struct {
	Probe    Prober
	Engine   Evaluator
	Guard    guard.Guard
	Executor Restarter
	Clock    clock.Clock
	Logger   *slog.Logger

	// Journal, when set, receives an entry per restart attempt.
	Journal *ledger.Journal

	RestartTimeout   time.Duration
	CheckInterval    time.Duration
	FailureThreshold int

	// OnReport is called with the report of every cycle.
	OnReport func(Report)
}

// Watchdog runs check-and-restart cycles.
type Watchdog struct {
	probe    Prober
	engine   Evaluator
	guard    guard.Guard
	executor Restarter
	clock    clock.Clock
	logger   *slog.Logger
	journal  *ledger.Journal
	onReport func(Report)

	restartTimeout   time.Duration
	checkInterval    time.Duration
	failureThreshold int
}

// New returns a Watchdog. Clock defaults to the real clock and Logger to a
// discarding logger.
func New(cfg Config) *Watchdog {
	w := &Watchdog{
		probe:            cfg.Probe,
		engine:           cfg.Engine,
		guard:            cfg.Guard,
		executor:         cfg.Executor,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		journal:          cfg.Journal,
		onReport:         cfg.OnReport,
		restartTimeout:   cfg.RestartTimeout,
		checkInterval:    cfg.CheckInterval,
		failureThreshold: cfg.FailureThreshold,
	}
	if w.clock == nil {
		w.clock = clock.Real()
	}
	if w.logger == nil {
		w.logger = log.Discard()
	}
	if w.restartTimeout <= 0 {
		w.restartTimeout = 2 * time.Minute
	}
	return w
}

// RunOnce runs a single cycle. With force set the probe is skipped and a
// restart is attempted directly, still subject to the decision engine.
// Errors reading restart history or operating the guard are returned; a
// restart command that exits non-zero is not an error.
func (w *Watchdog) RunOnce(ctx context.Context, force bool) (Report, error) {
	report := w.newReport(force)
	logger := log.WithRunID(w.logger, report.RunID)

	if force {
		logger.Info("forcing restart, skipping page checks")
	} else {
		verdict := w.check(ctx, logger)
		report.Verdict = &verdict
		if verdict.Healthy {
			report.Outcome = OutcomeHealthy
			return w.finish(report, nil)
		}
	}

	err := w.attemptRestart(ctx, logger, &report)
	return w.finish(report, err)
}

// Run probes the page every CheckInterval until ctx ends. A value on trigger
// runs a cycle immediately. FailureThreshold consecutive unhealthy probes
// are needed before a restart is attempted. Cycle errors are logged and do
// not stop the loop.
func (w *Watchdog) Run(ctx context.Context, trigger <-chan struct{}) error {
	if w.checkInterval <= 0 {
		return fmt.Errorf("check interval must be positive, got %s", w.checkInterval)
	}

	streak := newFailureStreak(w.failureThreshold)
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	w.logger.Info("watchdog started",
		"check_interval", w.checkInterval.String(),
		"failure_threshold", streak.threshold,
	)

	w.cycle(ctx, streak)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return nil
		case <-ticker.C:
			w.cycle(ctx, streak)
		case <-trigger:
			w.logger.Info("restart guard cleared, checking immediately")
			w.cycle(ctx, streak)
		}
	}
}

func (w *Watchdog) cycle(ctx context.Context, streak *failureStreak) {
	report := w.newReport(false)
	logger := log.WithRunID(w.logger, report.RunID)

	verdict := w.check(ctx, logger)
	report.Verdict = &verdict

	trip, recovered := streak.Observe(verdict.Healthy)
	if recovered {
		logger.Info("page recovered without a restart")
	}
	switch {
	case verdict.Healthy:
		report.Outcome = OutcomeHealthy
		w.finish(report, nil)
		return
	case !trip:
		report.Outcome = OutcomeUnhealthy
		logger.Info("waiting for more failed checks before restarting",
			"consecutive_failures", streak.Count(),
			"failure_threshold", streak.threshold,
		)
		w.finish(report, nil)
		return
	}

	if err := w.attemptRestart(ctx, logger, &report); err != nil {
		logger.Error("watchdog cycle failed", "error", err)
		w.finish(report, err)
		return
	}
	w.finish(report, nil)
}

func (w *Watchdog) check(ctx context.Context, logger *slog.Logger) health.Verdict {
	logger.Info("requesting page")
	verdict := w.probe.Check(ctx)

	recordCheck(verdict.Healthy)
	if verdict.ResponseTime > 0 {
		fetchDuration.Observe(verdict.ResponseTime.Seconds())
	}

	attrs := []any{
		"status", verdict.StatusCode,
		log.DurationKey, verdict.ResponseTime.Milliseconds(),
	}
	if verdict.Healthy {
		logger.Info("page looks fine", attrs...)
	} else {
		logger.Warn("page check failed", append(attrs, "reason", verdict.Reason)...)
	}
	return verdict
}

// attemptRestart consults the engine and, when permitted, restarts the
// service while holding the guard.
func (w *Watchdog) attemptRestart(ctx context.Context, logger *slog.Logger, report *Report) error {
	logger.Info("looking to restart service")

	d, err := w.engine.Evaluate(w.clock.Now())
	if err != nil {
		report.Outcome = OutcomeError
		recordDecision("error")
		return fmt.Errorf("evaluate restart: %w", err)
	}
	report.Decision = &d

	if !d.Permitted {
		report.Outcome = OutcomeDenied
		recordDecision(d.Reason.String())
		w.logDenied(logger, d)
		return nil
	}
	recordDecision("permitted")
	logger.Info("restart permitted", "detail", d.String())

	if err := w.guard.Acquire(); err != nil {
		if errors.Is(err, guard.ErrAlreadyHeld) {
			lost := decision.GuardHeld()
			report.Decision = &lost
			report.Outcome = OutcomeDenied
			logger.Info("not going to restart", "reason", "restart guard acquired by another run")
			return nil
		}
		report.Outcome = OutcomeError
		return fmt.Errorf("acquire restart guard: %w", err)
	}
	guardHeld.Set(1)

	logger.Info("restarting service")
	start := w.clock.Now()
	result, runErr, releaseErr := w.restartHolding(ctx, logger)
	report.ExitCode = result.ExitCode

	w.journalRestart(logger, report, start, result)

	switch {
	case runErr != nil:
		report.Outcome = OutcomeRestartFailed
		recordRestart("error")
		logger.Error("restart command could not run", "error", runErr, "output", result.Output)
		return errors.Join(runErr, releaseErr)
	case result.ExitCode != 0:
		report.Outcome = OutcomeRestartFailed
		recordRestart("failed")
		logger.Warn("restart got unexpected exit code",
			"exit_code", result.ExitCode,
			"output", result.Output,
		)
	default:
		report.Outcome = OutcomeRestarted
		recordRestart("succeeded")
		logger.Info("service successfully restarted", "output", result.Output)
	}
	return releaseErr
}

// restartHolding runs the executor and releases the guard on every exit
// path, panics included.
func (w *Watchdog) restartHolding(ctx context.Context, logger *slog.Logger) (result executor.Result, runErr error, releaseErr error) {
	defer func() {
		guardHeld.Set(0)
		err := w.guard.Release()
		switch {
		case err == nil:
		case errors.Is(err, guard.ErrNotHeld):
			logger.Warn("restart guard was already released")
		default:
			releaseErr = fmt.Errorf("release restart guard: %w", err)
		}
	}()

	restartCtx, cancel := context.WithTimeout(ctx, w.restartTimeout)
	defer cancel()

	result, runErr = w.executor.Restart(restartCtx)
	return result, runErr, nil
}

func (w *Watchdog) logDenied(logger *slog.Logger, d decision.Decision) {
	attrs := []any{"reason", d.Reason.String(), "detail", d.String()}
	if d.HasHistory {
		attrs = append(attrs, "last_restart", d.LastRestart.Format(time.RFC3339))
	}

	if d.Reason == decision.ReasonGuardHeld {
		if hr, ok := w.guard.(holderReporter); ok {
			if h, err := hr.Holder(); err == nil {
				attrs = append(attrs,
					"holder_pid", h.PID,
					"held_for", w.clock.Now().Sub(h.AcquiredAt).Round(time.Second).String(),
				)
			}
		}
	}
	logger.Info("not going to restart", attrs...)
}

func (w *Watchdog) journalRestart(logger *slog.Logger, report *Report, start time.Time, result executor.Result) {
	if w.journal == nil {
		return
	}
	entry := ledger.JournalEntry{
		Timestamp: start,
		Event:     ledger.EventRestart,
		ExitCode:  result.ExitCode,
		PID:       currentPID(),
		Forced:    report.Forced,
		Message:   result.Output,
	}
	if err := w.journal.Append(entry); err != nil {
		logger.Warn("could not record restart in journal", "error", err, "journal", w.journal.Path())
	}
}

func (w *Watchdog) newReport(force bool) Report {
	return Report{
		RunID:  uuid.NewString(),
		Time:   w.clock.Now(),
		Forced: force,
	}
}

func (w *Watchdog) finish(report Report, err error) (Report, error) {
	if err != nil {
		report.Error = err.Error()
	}
	if w.onReport != nil {
		w.onReport(report)
	}
	return report, err
}
