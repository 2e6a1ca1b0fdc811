package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autopentest.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	if cfg.CommandTimeout() != 120*time.Second || cfg.TerminalTimeout() != 120*time.Second {
		t.Errorf("unexpected timeouts %s %s", cfg.CommandTimeout(), cfg.TerminalTimeout())
	}
	if cfg.PollInterval() != 2*time.Second || cfg.BatchTimeout() != 0 {
		t.Errorf("unexpected poll/batch %s %s", cfg.PollInterval(), cfg.BatchTimeout())
	}
	if cfg.Terminal.Mode != "auto" || len(cfg.Terminal.Emulators) != 4 {
		t.Errorf("unexpected terminal defaults %+v", cfg.Terminal)
	}
	if cfg.Security.MaxLength != 500 || cfg.Security.MaxPipes != 5 {
		t.Errorf("unexpected security defaults %+v", cfg.Security)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[executor]
results_dir = "/tmp/out"
batch_timeout = 30

[terminal]
mode = "headless"
poll_interval = 250

[events]
nats_url = "nats://localhost:4222"

[report]
target = "example.com"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Executor.ResultsDir != "/tmp/out" || cfg.BatchTimeout() != 30*time.Second {
		t.Errorf("executor not decoded: %+v", cfg.Executor)
	}
	if cfg.Terminal.Mode != "headless" || cfg.PollInterval() != 250*time.Millisecond {
		t.Errorf("terminal not decoded: %+v", cfg.Terminal)
	}
	if cfg.Events.NATSURL != "nats://localhost:4222" || cfg.Events.Subject != "autopentest.events" {
		t.Errorf("events not decoded over defaults: %+v", cfg.Events)
	}
	if cfg.Report.Target != "example.com" || cfg.Report.Output != "pentest_report.txt" {
		t.Errorf("report not decoded over defaults: %+v", cfg.Report)
	}
	if cfg.CommandTimeout() != 120*time.Second {
		t.Error("untouched defaults should survive")
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"[terminal]\nmode = \"window\"\n", "invalid terminal mode"},
		{"[terminal]\ntimeout = -1\n", "terminal.timeout"},
		{"[executor]\nbatch_timeout = -5\n", "executor.batch_timeout"},
		{"[executor\n", "failed to parse config"},
	}
	for _, tt := range tests {
		_, err := LoadFile(writeConfig(t, tt.content))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("content %q: expected error containing %q, got %v", tt.content, tt.want, err)
		}
	}
}

func TestSudoPassword(t *testing.T) {
	cfg := New()
	t.Setenv("AUTOPENTEST_SUDO", "secret")
	if cfg.SudoPassword() != "" {
		t.Error("injection must be off without password_env")
	}
	cfg.Sudo.PasswordEnv = "AUTOPENTEST_SUDO"
	if cfg.SudoPassword() != "secret" {
		t.Errorf("expected password from env, got %q", cfg.SudoPassword())
	}
}

func TestLoadDefault_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("expected defaults, got %v", err)
	}
	if cfg.Session.Dir != "sessions" {
		t.Errorf("unexpected session dir %q", cfg.Session.Dir)
	}
}
