package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbvlabs/spinner/internal/log"
)

// File is the YAML form of the configuration. Durations are Go duration
// strings ("90s", "1h") or bare seconds.
type File struct {
	URL              string   `yaml:"url"`
	RequiredContent  []string `yaml:"required_content"`
	MinInterval      string   `yaml:"min_interval"`
	ErrorLog         string   `yaml:"error_log"`
	RestartMarker    string   `yaml:"restart_marker"`
	LockPath         string   `yaml:"lock_path"`
	RestartCommand   []string `yaml:"restart_command"`
	FetchTimeout     string   `yaml:"fetch_timeout"`
	RestartTimeout   string   `yaml:"restart_timeout"`
	HistorySource    string   `yaml:"history_source"`
	Journal          string   `yaml:"journal"`
	CheckInterval    string   `yaml:"check_interval"`
	FailureThreshold int      `yaml:"failure_threshold"`
	Listen           string   `yaml:"listen"`
	Log              struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
}

// ReadFile parses the YAML file at path. A missing file is returned as an
// error wrapping os.ErrNotExist.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &f, nil
}

func (f *File) apply(cfg *Config) error {
	setString(&cfg.URL, f.URL)
	setString(&cfg.ErrorLogPath, f.ErrorLog)
	setString(&cfg.RestartMarker, f.RestartMarker)
	setString(&cfg.LockPath, f.LockPath)
	setString(&cfg.HistorySource, strings.ToLower(f.HistorySource))
	setString(&cfg.JournalPath, f.Journal)
	setString(&cfg.ListenAddr, f.Listen)
	setString(&cfg.Log.Level, f.Log.Level)
	setString(&cfg.Log.File, f.Log.File)
	if f.Log.Format != "" {
		cfg.Log.Format = log.Format(f.Log.Format)
	}
	if len(f.RequiredContent) > 0 {
		cfg.RequiredContent = append([]string(nil), f.RequiredContent...)
	}
	if len(f.RestartCommand) > 0 {
		cfg.RestartCommand = append([]string(nil), f.RestartCommand...)
	}
	if f.FailureThreshold != 0 {
		cfg.FailureThreshold = f.FailureThreshold
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"min_interval", f.MinInterval, &cfg.MinInterval},
		{"fetch_timeout", f.FetchTimeout, &cfg.FetchTimeout},
		{"restart_timeout", f.RestartTimeout, &cfg.RestartTimeout},
		{"check_interval", f.CheckInterval, &cfg.CheckInterval},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.raw); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}
