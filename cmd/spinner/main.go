package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbvlabs/spinner/internal/clock"
	"github.com/mbvlabs/spinner/internal/config"
	"github.com/mbvlabs/spinner/internal/decision"
	"github.com/mbvlabs/spinner/internal/events"
	"github.com/mbvlabs/spinner/internal/executor"
	"github.com/mbvlabs/spinner/internal/guard"
	"github.com/mbvlabs/spinner/internal/health"
	"github.com/mbvlabs/spinner/internal/ledger"
	"github.com/mbvlabs/spinner/internal/log"
	"github.com/mbvlabs/spinner/internal/watchdog"
	"github.com/mbvlabs/spinner/internal/watcher"
)

var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "spinner",
		Short: "Restart a web server when its page stops serving the expected content",
		Long: `spinner fetches a page and checks it for a set of required strings.
When the check fails it restarts the service, at most once per configured
interval and never while another restart is in progress.

Configuration is read from spinner.yaml, .env and SPINNER_* environment
variables.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Force a restart (don't do page checks)")

	return cmd
}

func run(ctx context.Context, force bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := log.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("program started", "version", Version, "url", cfg.URL)

	if force || !cfg.Daemon() {
		app, _ := buildWatchdog(cfg, logger, nil)
		report, err := app.RunOnce(ctx, force)
		if err != nil {
			logger.Error("watchdog run failed", "error", err, "outcome", report.Outcome.String())
			return err
		}
		logger.Info("program finished", "outcome", report.Outcome.String())
		return nil
	}

	return runDaemon(ctx, cfg, logger)
}

// runDaemon keeps probing until SIGINT or SIGTERM. Any component failing
// stops the others.
func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var status *events.Server
	var onReport func(watchdog.Report)
	if cfg.ListenAddr != "" {
		status = events.NewServer(cfg.ListenAddr, log.WithComponent(logger, "status"))
		onReport = func(r watchdog.Report) { status.Publish(r) }
	}

	app, lockPath := buildWatchdog(cfg, logger, onReport)
	cleared := make(chan struct{}, 1)

	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	if status != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := status.Run(ctx); err != nil {
				errChan <- fmt.Errorf("status-server: %w", err)
				cancel()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.RunMarkerWatcher(ctx, lockPath, cleared, log.WithComponent(logger, "marker-watcher")); err != nil {
			// The daemon still works without the watcher; it just waits for
			// the next tick after a marker is cleared.
			logger.Warn("marker watcher stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.Run(ctx, cleared); err != nil {
			errChan <- fmt.Errorf("watchdog: %w", err)
		}
		cancel()
	}()

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// buildWatchdog wires the components described by cfg and returns the
// watchdog with the marker path its guard uses.
func buildWatchdog(cfg *config.Config, logger *slog.Logger, onReport func(watchdog.Report)) (*watchdog.Watchdog, string) {
	lock := guard.NewFile(cfg.LockPath)

	var journal *ledger.Journal
	if cfg.JournalPath != "" {
		journal = ledger.NewJournal(cfg.JournalPath)
	}

	var history ledger.History
	switch cfg.HistorySource {
	case config.HistoryJournal:
		history = journal
	default:
		history = ledger.NewErrorLog(cfg.ErrorLogPath, cfg.RestartMarker)
	}

	probe := health.NewProbe(
		health.NewFetcher(cfg.URL, cfg.FetchTimeout),
		health.NewContentChecker(cfg.RequiredContent),
	)

	app := watchdog.New(watchdog.Config{
		Probe:            probe,
		Engine:           decision.New(lock, history, cfg.MinInterval),
		Guard:            lock,
		Executor:         executor.NewCommand(cfg.RestartCommand),
		Clock:            clock.Real(),
		Logger:           log.WithComponent(logger, "watchdog"),
		Journal:          journal,
		RestartTimeout:   cfg.RestartTimeout,
		CheckInterval:    cfg.CheckInterval,
		FailureThreshold: cfg.FailureThreshold,
		OnReport:         onReport,
	})
	return app, lock.Path()
}
