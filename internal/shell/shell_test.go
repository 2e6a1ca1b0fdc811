package shell

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/autopentest/internal/task"
)

func TestAdapt_PackageManagers(t *testing.T) {
	cases := map[string]string{
		"apt install nmap":             "apt install -y nmap",
		"apt-get install gobuster":     "apt-get install -y gobuster",
		"sudo dnf upgrade":             "sudo dnf upgrade -y",
		"apt-get install -y nikto":     "apt-get install -y nikto",
		"apt list --installed":         "apt list --installed",
		"echo apt":                     "echo apt",
		"yum --assume-yes install git": "yum --assume-yes install git",
	}
	for in, want := range cases {
		if got := Adapt(in, ""); got != want {
			t.Errorf("Adapt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAdapt_SudoOnlyWithCredential(t *testing.T) {
	if got := Adapt("sudo nmap -sS host", ""); got != "sudo nmap -sS host" {
		t.Errorf("sudo must be untouched without a credential, got %q", got)
	}
	got := Adapt("sudo nmap -sS host", "s3cret")
	want := "printf '%s\\n' 's3cret' | sudo -S nmap -sS host"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := Adapt("sudo -S id", "pw"); got != "sudo -S id" {
		t.Errorf("explicit -S must be left alone, got %q", got)
	}
}

func TestAdapt_SudoReadingPipeKeepsStdin(t *testing.T) {
	cases := map[string]string{
		"echo x | sudo tee /tmp/f":          "echo x | sudo tee /tmp/f",
		"echo x |sudo tee /tmp/f":           "echo x |sudo tee /tmp/f",
		"true || sudo id":                   "true || printf '%s\\n' 'pw' | sudo -S id",
		"sudo id; echo x | sudo tee /tmp/f": "printf '%s\\n' 'pw' | sudo -S id; echo x | sudo tee /tmp/f",
	}
	for in, want := range cases {
		if got := Adapt(in, "pw"); got != want {
			t.Errorf("Adapt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuote(t *testing.T) {
	if got := Quote("it's"); got != `'it'\''s'` {
		t.Errorf("unexpected quoting: %s", got)
	}
}

func TestRunner_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	r := &Runner{Dir: t.TempDir(), Timeout: 5 * time.Second}

	out, rc, timedOut := r.Run(context.Background(), "echo hello; echo oops 1>&2")
	if rc != 0 || timedOut {
		t.Fatalf("expected rc 0, got %d (timedOut=%v)", rc, timedOut)
	}
	if !strings.Contains(out, "hello") || !strings.Contains(out, "oops") {
		t.Errorf("expected combined output, got %q", out)
	}

	_, rc, _ = r.Run(context.Background(), "exit 3")
	if rc != 3 {
		t.Errorf("expected rc 3, got %d", rc)
	}
}

func TestRunner_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	r := &Runner{Timeout: 200 * time.Millisecond}
	start := time.Now()
	out, rc, timedOut := r.Run(context.Background(), "sleep 10")
	if !timedOut || rc != task.CodeTimeout {
		t.Fatalf("expected timeout, got rc=%d timedOut=%v out=%q", rc, timedOut, out)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took too long: %s", time.Since(start))
	}
}

func TestRunner_MissingInterpreter(t *testing.T) {
	r := &Runner{Shell: "definitely-not-a-shell-xyz"}
	_, rc, timedOut := r.Run(context.Background(), "echo hi")
	if rc != task.CodeNotFound || timedOut {
		t.Errorf("expected CodeNotFound, got %d", rc)
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("nil error should be 0")
	}
	if runtime.GOOS == "windows" {
		return
	}
	err := Command(context.Background(), "", "exit 7").Run()
	if got := ExitCode(err); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}
