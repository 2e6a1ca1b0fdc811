package replay

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/autopentest/internal/session"
)

func recordSession(t *testing.T) (*session.FileStore, string) {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rec, err := session.NewRecorder(store, "shell", "example.com")
	if err != nil {
		t.Fatal(err)
	}
	events := []struct {
		kind    string
		command string
		details map[string]interface{}
	}{
		{session.EventCommandExecution, "nmap -sV example.com", map[string]interface{}{"phase": "scanning", "tool_category": "network"}},
		{session.EventCommandResult, "nmap -sV example.com", map[string]interface{}{"phase": "scanning", "return_code": 0, "duration": 1500 * time.Millisecond}},
		{session.EventCommandExecution, "rm -rf /", nil},
		{session.EventSecurityBlock, "rm -rf /", map[string]interface{}{"risk_level": "CRITICAL", "warnings": []string{"destructive filesystem operation"}}},
		{session.EventCommandResult, "rm -rf /", map[string]interface{}{"return_code": -1, "error": "Security validation failed"}},
	}
	for _, e := range events {
		if err := rec.LogEvent(e.kind, e.command, e.details); err != nil {
			t.Fatal(err)
		}
	}
	if err := rec.Close(errors.New("interrupted")); err != nil {
		t.Fatal(err)
	}
	return store, store.Path(rec.Session().ID)
}

func TestReplayFile(t *testing.T) {
	_, path := recordSession(t)
	var out bytes.Buffer
	if err := New(&out, 0).ReplayFile(path); err != nil {
		t.Fatalf("replay error: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"SESSION",
		"example.com",
		"PHASE: scanning",
		"nmap -sV example.com",
		"[network]",
		"1.5s",
		"BLOCKED",
		"(CRITICAL)",
		"destructive filesystem operation",
		"rc=-1",
		"FAILED: interrupted",
		"SESSION STATISTICS",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in replay:\n%s", want, got)
		}
	}
}

func TestReplayFile_Missing(t *testing.T) {
	if err := New(&bytes.Buffer{}, 0).ReplayFile("/nonexistent/session.jsonl"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestComputeStats(t *testing.T) {
	_, path := recordSession(t)
	sess, err := session.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	stats := ComputeStats(sess)
	if stats.Commands != 2 || stats.Succeeded != 1 || stats.Failed != 1 || stats.Blocked != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Phases["scanning"] != 1 {
		t.Errorf("unexpected phases %v", stats.Phases)
	}
	if stats.CommandTotalMs != 1500 || stats.CommandAvgMs != 750 {
		t.Errorf("unexpected durations %d %d", stats.CommandTotalMs, stats.CommandAvgMs)
	}
}

func TestTruncate(t *testing.T) {
	r := New(&bytes.Buffer{}, 0, WithMaxContentSize(4))
	if got := r.truncate("abcdefgh"); !strings.HasPrefix(got, "abcd\n... [truncated, 8 bytes total]") {
		t.Errorf("unexpected truncation %q", got)
	}
	r = New(&bytes.Buffer{}, 2, WithMaxContentSize(4))
	if got := r.truncate("abcdefgh"); got != "abcdefgh" {
		t.Errorf("-vv should not truncate, got %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[int64]string{0: "0ms", 999: "999ms", 1500: "1.5s", 125000: "2m5s"}
	for ms, want := range tests {
		if got := formatDuration(ms); got != want {
			t.Errorf("formatDuration(%d) = %q, want %q", ms, got, want)
		}
	}
}
