// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is looked up in the working directory by LoadDefault.
const DefaultFile = "autopentest.toml"

// Config represents the autopentest configuration.
type Config struct {
	Executor ExecutorConfig `toml:"executor"`
	Terminal TerminalConfig `toml:"terminal"`
	Security SecurityConfig `toml:"security"`
	Sudo     SudoConfig     `toml:"sudo"`
	Session  SessionConfig  `toml:"session"`
	Events   EventsConfig   `toml:"events"`
	Analysis AnalysisConfig `toml:"analysis"`
	Report   ReportConfig   `toml:"report"`
}

// ExecutorConfig contains settings shared by the synchronous and parallel paths.
type ExecutorConfig struct {
	Shell          string `toml:"shell"`           // Interpreter (default sh, wsl.exe on windows)
	WorkDir        string `toml:"workdir"`         // Working directory of launched commands
	ResultsDir     string `toml:"results_dir"`     // Where output sinks are written
	CommandTimeout int    `toml:"command_timeout"` // Synchronous command timeout in seconds (default 120)
	BatchTimeout   int    `toml:"batch_timeout"`   // Parallel batch bound in seconds (0 = none)
}

// TerminalConfig contains terminal tracker settings.
type TerminalConfig struct {
	Mode         string   `toml:"mode"`          // auto|emulator|headless
	Emulators    []string `toml:"emulators"`     // Probe order on linux
	Timeout      int      `toml:"timeout"`       // Per-task timeout in seconds (default 120)
	PollInterval int      `toml:"poll_interval"` // collect_results poll interval in milliseconds (default 2000)
}

// SecurityConfig contains security gate thresholds.
type SecurityConfig struct {
	MaxLength int `toml:"max_length"` // Commands longer than this are MEDIUM risk
	MaxPipes  int `toml:"max_pipes"`  // More pipe stages than this are MEDIUM risk
}

// SudoConfig controls credential injection for sudo.
type SudoConfig struct {
	PasswordEnv string `toml:"password_env"` // Env var holding the password; empty disables injection
}

// SessionConfig contains session log settings.
type SessionConfig struct {
	Dir string `toml:"dir"`
}

// EventsConfig contains NATS event stream settings.
type EventsConfig struct {
	NATSURL string `toml:"nats_url"` // Empty disables publishing
	Subject string `toml:"subject"`
}

// AnalysisConfig contains result analyzer settings.
type AnalysisConfig struct {
	Rules string `toml:"rules"` // Optional YAML file replacing the built-in signatures
}

// ReportConfig contains report generation settings.
type ReportConfig struct {
	Output string `toml:"output"`
	Target string `toml:"target"`
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Executor: ExecutorConfig{
			ResultsDir:     "results",
			CommandTimeout: 120,
		},
		Terminal: TerminalConfig{
			Mode:         "auto",
			Emulators:    []string{"gnome-terminal", "xterm", "konsole", "terminator"},
			Timeout:      120,
			PollInterval: 2000,
		},
		Security: SecurityConfig{
			MaxLength: 500,
			MaxPipes:  5,
		},
		Session: SessionConfig{
			Dir: "sessions",
		},
		Events: EventsConfig{
			Subject: "autopentest.events",
		},
		Report: ReportConfig{
			Output: "pentest_report.txt",
		},
	}
}

// LoadFile loads configuration from a TOML file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads autopentest.toml from the current directory. A missing
// file yields the defaults.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return LoadFile(path)
}

// Validate rejects negative durations and thresholds and unknown terminal modes.
func (c *Config) Validate() error {
	switch c.Terminal.Mode {
	case "", "auto", "emulator", "headless":
	default:
		return fmt.Errorf("invalid terminal mode %q (want auto, emulator or headless)", c.Terminal.Mode)
	}
	for name, v := range map[string]int{
		"executor.command_timeout": c.Executor.CommandTimeout,
		"executor.batch_timeout":   c.Executor.BatchTimeout,
		"terminal.timeout":         c.Terminal.Timeout,
		"terminal.poll_interval":   c.Terminal.PollInterval,
		"security.max_length":      c.Security.MaxLength,
		"security.max_pipes":       c.Security.MaxPipes,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	return nil
}

// SudoPassword returns the sudo credential from the configured environment variable.
func (c *Config) SudoPassword() string {
	if c.Sudo.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Sudo.PasswordEnv)
}

// CommandTimeout returns the synchronous command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Executor.CommandTimeout) * time.Second
}

// BatchTimeout returns the parallel batch bound. Zero means none.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.Executor.BatchTimeout) * time.Second
}

// TerminalTimeout returns the per-task terminal timeout.
func (c *Config) TerminalTimeout() time.Duration {
	return time.Duration(c.Terminal.Timeout) * time.Second
}

// PollInterval returns the collect_results poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Terminal.PollInterval) * time.Millisecond
}
