// Package config loads spinner's static configuration.
//
// Values are layered, later sources winning: built-in defaults, an optional
// YAML file, a .env file in the working directory, then the process
// environment. The result is validated once and treated as read-only.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/mbvlabs/spinner/internal/log"
)

// History sources.
const (
	HistoryErrorLog = "errorlog"
	HistoryJournal  = "journal"
)

const (
	DefaultConfigFile = "spinner.yaml"
	DefaultLockName   = "spinner.lock"
)

// Config is the complete runtime configuration.
type Config struct {
	// URL is the page to probe.
	URL string
	// RequiredContent lists substrings the page must contain.
	RequiredContent []string

	// MinInterval is the minimum time between two restarts.
	MinInterval time.Duration

	// ErrorLogPath is the service log restart events are read from.
	ErrorLogPath string
	// RestartMarker identifies restart lines in ErrorLogPath.
	RestartMarker string
	// LockPath is the exclusion marker file.
	LockPath string

	RestartCommand []string
	FetchTimeout   time.Duration
	RestartTimeout time.Duration

	// HistorySource selects where restart history is read from:
	// HistoryErrorLog or HistoryJournal.
	HistorySource string
	// JournalPath, when set, receives a line per restart attempt.
	JournalPath string

	// CheckInterval > 0 keeps spinner running, probing once per interval.
	CheckInterval time.Duration
	// FailureThreshold is the number of consecutive unhealthy probes needed
	// before a restart is considered in daemon mode.
	FailureThreshold int
	// ListenAddr serves metrics and the event stream in daemon mode.
	ListenAddr string

	Log log.Config
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		URL:              "http://localhost/",
		MinInterval:      time.Hour,
		ErrorLogPath:     "/var/log/apache2/error.log",
		RestartMarker:    "resuming",
		LockPath:         defaultLockPath(),
		RestartCommand:   []string{"service", "apache2", "restart"},
		FetchTimeout:     10 * time.Second,
		RestartTimeout:   2 * time.Minute,
		HistorySource:    HistoryErrorLog,
		FailureThreshold: 1,
		Log:              log.DefaultConfig(),
	}
}

// defaultLockPath places the marker next to the executable.
func defaultLockPath() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultLockName
	}
	return filepath.Join(filepath.Dir(exe), DefaultLockName)
}

// environment mirrors Config with raw strings; go-env leaves fields whose
// variable is unset empty, which keeps lower layers intact.
type environment struct {
	ConfigFile       string `env:"SPINNER_CONFIG"`
	URL              string `env:"SPINNER_URL"`
	RequiredContent  string `env:"SPINNER_REQUIRED_CONTENT"`
	MinInterval      string `env:"SPINNER_MIN_INTERVAL"`
	ErrorLogPath     string `env:"SPINNER_ERROR_LOG"`
	RestartMarker    string `env:"SPINNER_RESTART_MARKER"`
	LockPath         string `env:"SPINNER_LOCK_PATH"`
	RestartCommand   string `env:"SPINNER_RESTART_COMMAND"`
	FetchTimeout     string `env:"SPINNER_FETCH_TIMEOUT"`
	RestartTimeout   string `env:"SPINNER_RESTART_TIMEOUT"`
	HistorySource    string `env:"SPINNER_HISTORY_SOURCE"`
	JournalPath      string `env:"SPINNER_JOURNAL"`
	CheckInterval    string `env:"SPINNER_CHECK_INTERVAL"`
	FailureThreshold string `env:"SPINNER_FAILURE_THRESHOLD"`
	ListenAddr       string `env:"SPINNER_LISTEN"`
	LogLevel         string `env:"SPINNER_LOG_LEVEL"`
	LogFormat        string `env:"SPINNER_LOG_FORMAT"`
	LogFile          string `env:"SPINNER_LOG_FILE"`
}

// Load builds the configuration. configPath names a YAML file; when empty,
// SPINNER_CONFIG or DefaultConfigFile is used, and a missing default file is
// not an error.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var e environment
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg := Default()

	explicit := configPath != ""
	if !explicit && e.ConfigFile != "" {
		configPath = e.ConfigFile
		explicit = true
	}
	if configPath == "" {
		configPath = DefaultConfigFile
	}

	file, err := ReadFile(configPath)
	switch {
	case err == nil:
		if err := file.apply(cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	if err := e.apply(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e environment) apply(cfg *Config) error {
	setString(&cfg.URL, e.URL)
	setString(&cfg.ErrorLogPath, e.ErrorLogPath)
	setString(&cfg.RestartMarker, e.RestartMarker)
	setString(&cfg.LockPath, e.LockPath)
	setString(&cfg.HistorySource, strings.ToLower(e.HistorySource))
	setString(&cfg.JournalPath, e.JournalPath)
	setString(&cfg.ListenAddr, e.ListenAddr)
	setString(&cfg.Log.Level, e.LogLevel)
	setString(&cfg.Log.File, e.LogFile)
	if e.LogFormat != "" {
		cfg.Log.Format = log.Format(e.LogFormat)
	}
	if e.RequiredContent != "" {
		cfg.RequiredContent = splitList(e.RequiredContent, "|")
	}
	if e.RestartCommand != "" {
		cfg.RestartCommand = strings.Fields(e.RestartCommand)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"SPINNER_MIN_INTERVAL", e.MinInterval, &cfg.MinInterval},
		{"SPINNER_FETCH_TIMEOUT", e.FetchTimeout, &cfg.FetchTimeout},
		{"SPINNER_RESTART_TIMEOUT", e.RestartTimeout, &cfg.RestartTimeout},
		{"SPINNER_CHECK_INTERVAL", e.CheckInterval, &cfg.CheckInterval},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.raw); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}

	if e.FailureThreshold != "" {
		n, err := strconv.Atoi(strings.TrimSpace(e.FailureThreshold))
		if err != nil {
			return fmt.Errorf("SPINNER_FAILURE_THRESHOLD: %w", err)
		}
		cfg.FailureThreshold = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.URL == "":
		return errors.New("url is required")
	case len(c.RequiredContent) == 0:
		return errors.New("required content must list at least one string")
	case c.MinInterval <= 0:
		return fmt.Errorf("min interval must be positive, got %s", c.MinInterval)
	case c.LockPath == "":
		return errors.New("lock path is required")
	case len(c.RestartCommand) == 0:
		return errors.New("restart command is required")
	case c.FetchTimeout <= 0:
		return fmt.Errorf("fetch timeout must be positive, got %s", c.FetchTimeout)
	case c.RestartTimeout <= 0:
		return fmt.Errorf("restart timeout must be positive, got %s", c.RestartTimeout)
	case c.CheckInterval < 0:
		return fmt.Errorf("check interval must not be negative, got %s", c.CheckInterval)
	case c.FailureThreshold < 1:
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}

	switch c.HistorySource {
	case HistoryErrorLog:
		if c.ErrorLogPath == "" {
			return errors.New("error log path is required for the errorlog history source")
		}
	case HistoryJournal:
		if c.JournalPath == "" {
			return errors.New("journal path is required for the journal history source")
		}
	default:
		return fmt.Errorf("unknown history source %q", c.HistorySource)
	}
	return nil
}

// Daemon reports whether spinner should keep running between checks.
func (c *Config) Daemon() bool {
	return c.CheckInterval > 0
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		// Bare integers are seconds.
		n, nerr := strconv.Atoi(raw)
		if nerr != nil {
			return err
		}
		d = time.Duration(n) * time.Second
	}
	*dst = d
	return nil
}

func splitList(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
