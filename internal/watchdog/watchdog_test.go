package watchdog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbvlabs/spinner/internal/clock"
	"github.com/mbvlabs/spinner/internal/decision"
	"github.com/mbvlabs/spinner/internal/executor"
	"github.com/mbvlabs/spinner/internal/guard"
	"github.com/mbvlabs/spinner/internal/health"
	"github.com/mbvlabs/spinner/internal/ledger"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

type stubProbe struct {
	mu       sync.Mutex
	verdicts []health.Verdict
	calls    int
}

func (p *stubProbe) Check(context.Context) health.Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.verdicts) == 0 {
		return health.Verdict{Reason: "no verdict scripted"}
	}
	v := p.verdicts[0]
	if len(p.verdicts) > 1 {
		p.verdicts = p.verdicts[1:]
	}
	return v
}

func (p *stubProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type stubExecutor struct {
	mu     sync.Mutex
	result executor.Result
	err    error
	panics bool
	calls  int
	// heldDuringRun records whether the guard was held while running.
	guard         guard.Guard
	heldDuringRun bool
}

func (e *stubExecutor) Restart(context.Context) (executor.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.guard != nil {
		e.heldDuringRun, _ = e.guard.IsHeld()
	}
	if e.panics {
		panic("service manager exploded")
	}
	return e.result, e.err
}

func (e *stubExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stubHistory struct {
	last time.Time
	ok   bool
	err  error
}

func (h stubHistory) LastRestart() (time.Time, bool, error) { return h.last, h.ok, h.err }

var (
	healthy   = health.Verdict{Healthy: true, StatusCode: 200, Reason: "Success"}
	unhealthy = health.Verdict{StatusCode: 200, Reason: `Missing string "Dashboard" in page content.`}
)

type fixture struct {
	probe    *stubProbe
	guard    *guard.Memory
	executor *stubExecutor
	clock    *clock.FakeClock
	reports  []Report
	mu       sync.Mutex
}

func newFixture(history ledger.History, verdicts ...health.Verdict) (*fixture, Config) {
	f := &fixture{
		probe: &stubProbe{verdicts: verdicts},
		guard: guard.NewMemory(),
		clock: clock.Fake(t0),
	}
	f.executor = &stubExecutor{guard: f.guard}

	cfg := Config{
		Probe:          f.probe,
		Engine:         decision.New(f.guard, history, 10*time.Second),
		Guard:          f.guard,
		Executor:       f.executor,
		Clock:          f.clock,
		RestartTimeout: time.Second,
		OnReport: func(r Report) {
			f.mu.Lock()
			f.reports = append(f.reports, r)
			f.mu.Unlock()
		},
	}
	return f, cfg
}

func (f *fixture) Reports() []Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Report(nil), f.reports...)
}

func (f *fixture) assertGuardFree(t *testing.T) {
	t.Helper()
	held, err := f.guard.IsHeld()
	require.NoError(t, err)
	assert.False(t, held, "guard must be released after the cycle")
}

func TestRunOnceHealthyPageDoesNothing(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, healthy)

	report, err := New(cfg).RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHealthy, report.Outcome)
	assert.Zero(t, f.executor.Calls())
	assert.Nil(t, report.Decision)
	assert.NotEmpty(t, report.RunID)
	assert.Len(t, f.Reports(), 1)
}

func TestRunOnceRestartsUnhealthyPage(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, unhealthy)

	report, err := New(cfg).RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRestarted, report.Outcome)
	assert.Equal(t, 1, f.executor.Calls())
	assert.True(t, f.executor.heldDuringRun, "guard must be held while restarting")
	require.NotNil(t, report.Decision)
	assert.True(t, report.Decision.Permitted)
	f.assertGuardFree(t)
}

func TestRunOnceForcedSkipsProbe(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, healthy)

	report, err := New(cfg).RunOnce(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRestarted, report.Outcome)
	assert.True(t, report.Forced)
	assert.Zero(t, f.probe.Calls())
	assert.Nil(t, report.Verdict)
}

func TestRunOnceForcedStillThrottled(t *testing.T) {
	f, cfg := newFixture(stubHistory{last: t0.Add(-5 * time.Second), ok: true})

	report, err := New(cfg).RunOnce(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, report.Outcome)
	require.NotNil(t, report.Decision)
	assert.Equal(t, decision.ReasonIntervalNotElapsed, report.Decision.Reason)
	assert.Equal(t, 5*time.Second, report.Decision.Remaining)
	assert.Zero(t, f.executor.Calls())
}

func TestRunOnceDeniedWhileGuardHeld(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, unhealthy)
	require.NoError(t, f.guard.Acquire())

	report, err := New(cfg).RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, report.Outcome)
	assert.Equal(t, decision.ReasonGuardHeld, report.Decision.Reason)
	assert.Zero(t, f.executor.Calls())

	held, _ := f.guard.IsHeld()
	assert.True(t, held, "a guard held by someone else must be left alone")
}

// racingGuard reports free but loses the acquire, like a second process
// winning the race between Evaluate and Acquire.
type racingGuard struct{ guard.Memory }

func (g *racingGuard) Acquire() error { return guard.ErrAlreadyHeld }

func TestRunOnceLostAcquireRaceIsDenial(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, unhealthy)
	g := &racingGuard{}
	cfg.Guard = g
	cfg.Engine = decision.New(g, stubHistory{}, 10*time.Second)

	report, err := New(cfg).RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, report.Outcome)
	assert.Equal(t, decision.ReasonGuardHeld, report.Decision.Reason)
	assert.Zero(t, f.executor.Calls())
}

func TestRunOnceReleasesGuardWhenRestartFails(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, unhealthy)
	f.executor.result = executor.Result{ExitCode: 1, Output: "apache2: failed"}

	report, err := New(cfg).RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRestartFailed, report.Outcome)
	assert.Equal(t, 1, report.ExitCode)
	f.assertGuardFree(t)
}

func TestRunOnceReleasesGuardWhenCommandCannotRun(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, unhealthy)
	runErr := errors.New("exec: \"service\": executable file not found in $PATH")
	f.executor.result = executor.Result{ExitCode: -1}
	f.executor.err = runErr

	report, err := New(cfg).RunOnce(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, runErr)
	assert.Equal(t, OutcomeRestartFailed, report.Outcome)
	assert.Equal(t, runErr.Error(), report.Error)
	f.assertGuardFree(t)
}

func TestRunOnceReleasesGuardWhenExecutorPanics(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, unhealthy)
	f.executor.panics = true

	w := New(cfg)
	assert.Panics(t, func() {
		w.RunOnce(context.Background(), false)
	})
	f.assertGuardFree(t)
}

// vanishingGuard loses its marker during the restart.
type vanishingGuard struct{ guard.Memory }

func (g *vanishingGuard) Release() error {
	g.Memory.Release()
	return guard.ErrNotHeld
}

func TestRunOnceNotHeldOnReleaseIsOnlyLogged(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, unhealthy)
	g := &vanishingGuard{}
	cfg.Guard = g
	cfg.Engine = decision.New(g, stubHistory{}, 10*time.Second)

	report, err := New(cfg).RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRestarted, report.Outcome)
	assert.Equal(t, 1, f.executor.Calls())
}

func TestRunOnceHistoryErrorPropagates(t *testing.T) {
	f, cfg := newFixture(stubHistory{err: ledger.ErrUnreadable}, unhealthy)

	report, err := New(cfg).RunOnce(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrUnreadable)
	assert.Equal(t, OutcomeError, report.Outcome)
	assert.Zero(t, f.executor.Calls())
	f.assertGuardFree(t)
}

func TestRunOnceWritesJournal(t *testing.T) {
	journal := ledger.NewJournal(filepath.Join(t.TempDir(), "journal.jsonl"))
	f, cfg := newFixture(journal, unhealthy)
	cfg.Journal = journal

	w := New(cfg)
	report, err := w.RunOnce(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, OutcomeRestarted, report.Outcome)

	last, ok, err := journal.LastRestart()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(t0))

	// The journal now throttles the next restart.
	f.clock.Advance(5 * time.Second)
	report, err = w.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, report.Outcome)
	assert.Equal(t, 5*time.Second, report.Decision.Remaining)

	f.clock.Advance(6 * time.Second)
	report, err = w.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRestarted, report.Outcome)
	assert.Equal(t, 2, f.executor.Calls())
}

func TestRunOnceFailedRestartDoesNotThrottleJournal(t *testing.T) {
	journal := ledger.NewJournal(filepath.Join(t.TempDir(), "journal.jsonl"))
	f, cfg := newFixture(journal, unhealthy)
	cfg.Journal = journal
	f.executor.result = executor.Result{ExitCode: 2}

	_, err := New(cfg).RunOnce(context.Background(), false)
	require.NoError(t, err)

	_, ok, err := journal.LastRestart()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunRequiresInterval(t *testing.T) {
	_, cfg := newFixture(stubHistory{})
	assert.Error(t, New(cfg).Run(context.Background(), nil))
}

func TestRunAppliesFailureThreshold(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, unhealthy, unhealthy, unhealthy, healthy)
	cfg.CheckInterval = 10 * time.Millisecond
	cfg.FailureThreshold = 3

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(cfg).Run(ctx, nil) }()

	require.Eventually(t, func() bool { return f.probe.Calls() >= 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, f.executor.Calls())

	reports := f.Reports()
	require.GreaterOrEqual(t, len(reports), 4)
	assert.Equal(t, OutcomeUnhealthy, reports[0].Outcome)
	assert.Equal(t, OutcomeUnhealthy, reports[1].Outcome)
	assert.Equal(t, OutcomeRestarted, reports[2].Outcome)
	assert.Equal(t, OutcomeHealthy, reports[3].Outcome)
	f.assertGuardFree(t)
}

func TestRunTriggerRunsImmediately(t *testing.T) {
	f, cfg := newFixture(stubHistory{}, healthy)
	cfg.CheckInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trigger := make(chan struct{}, 1)
	go New(cfg).Run(ctx, trigger)

	require.Eventually(t, func() bool { return f.probe.Calls() == 1 }, time.Second, 5*time.Millisecond)
	trigger <- struct{}{}
	require.Eventually(t, func() bool { return f.probe.Calls() == 2 }, time.Second, 5*time.Millisecond)
}

func TestOutcomeNames(t *testing.T) {
	assert.Equal(t, "restart_failed", OutcomeRestartFailed.String())
	assert.Equal(t, "outcome(99)", Outcome(99).String())

	text, err := OutcomeDenied.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "denied", string(text))
}
