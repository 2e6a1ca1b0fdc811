// Package shell runs command strings through the platform shell.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/vinayprograms/autopentest/internal/task"
)

// DefaultTimeout bounds synchronous commands when none is configured.
const DefaultTimeout = 120 * time.Second

// Runner executes commands synchronously with environment adaptation.
type Runner struct {
	Shell        string        // interpreter; defaults to sh (or wsl.exe on windows)
	Dir          string        // working directory
	Timeout      time.Duration // per-command bound
	SudoPassword string        // credential fed to sudo -S; empty disables injection
	Env          []string      // extra KEY=VALUE entries
}

// Command builds a process that runs command through the shell. The process
// is placed in its own group so Terminate can reach its children.
func (r *Runner) Command(ctx context.Context, command string) *exec.Cmd {
	cmd := Command(ctx, r.Shell, command)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	return cmd
}

// Command builds a process for command using interpreter sh.
func Command(ctx context.Context, sh, command string) *exec.Cmd {
	var cmd *exec.Cmd
	switch {
	case sh != "":
		cmd = exec.CommandContext(ctx, sh, "-c", command)
	case runtime.GOOS == "windows":
		// bash commands are expected to run inside WSL
		cmd = exec.CommandContext(ctx, "wsl.exe", "-e", "bash", "-lc", command)
	default:
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	configureProcess(cmd)
	cmd.Cancel = func() error {
		Terminate(cmd)
		return nil
	}
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

// Run executes command and returns its combined output, exit status and
// whether the timeout elapsed. Failures to run at all map to reserved codes.
func (r *Runner) Run(ctx context.Context, command string) (string, int, bool) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := r.Command(ctx, Adapt(command, r.SudoPassword))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out after %s\n%s", timeout, out.String()), task.CodeTimeout, true
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			if errors.Is(err, exec.ErrNotFound) {
				return fmt.Sprintf("Error: interpreter not found: %v", err), task.CodeNotFound, false
			}
			return fmt.Sprintf("Error executing command: %v", err), task.CodeExecError, false
		}
	}
	return out.String(), ExitCode(err), false
}

// ExitCode maps a Wait error to a return code. Signal deaths map to
// CodeExecError since the OS reports them as -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return task.CodeExecError
	}
	if errors.Is(err, exec.ErrNotFound) {
		return task.CodeNotFound
	}
	return task.CodeExecError
}

var (
	pkgManagerRe = regexp.MustCompile(`\b(apt-get|apt|yum|dnf)\s+(install|remove|purge|upgrade|dist-upgrade|autoremove)\b`)
	yesFlagRe    = regexp.MustCompile(`(^|\s)(-y|--yes|--assume-yes)(\s|$)`)
	sudoRe       = regexp.MustCompile(`\bsudo\s+`)
	sudoStdinRe  = regexp.MustCompile(`\bsudo\s+(-[a-zA-Z]+\s+)*-[a-zA-Z]*S\b`)
)

// Adapt rewrites command for unattended execution: package managers get a
// non-interactive flag, and when password is set sudo reads it from stdin.
// A sudo that already reads a pipe keeps that stdin and is left as is.
// The password injection is an insecure convenience, not a security boundary.
func Adapt(command, password string) string {
	out := command
	if !yesFlagRe.MatchString(out) {
		out = pkgManagerRe.ReplaceAllString(out, "$1 $2 -y")
	}
	if password != "" && !sudoStdinRe.MatchString(out) {
		out = feedSudo(out, "printf '%s\\n' "+Quote(password)+" | sudo -S ")
	}
	return out
}

// feedSudo replaces each sudo that is not the receiving end of a pipe.
func feedSudo(command, feed string) string {
	var b strings.Builder
	last := 0
	for _, loc := range sudoRe.FindAllStringIndex(command, -1) {
		if pipedInto(command[:loc[0]]) {
			continue
		}
		b.WriteString(command[last:loc[0]])
		b.WriteString(feed)
		last = loc[1]
	}
	b.WriteString(command[last:])
	return b.String()
}

// pipedInto reports whether prefix ends in a pipe operator (not ||).
func pipedInto(prefix string) bool {
	p := strings.TrimRight(prefix, " \t")
	return strings.HasSuffix(p, "|") && !strings.HasSuffix(p, "||")
}

// Quote single-quotes s for POSIX shells.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
