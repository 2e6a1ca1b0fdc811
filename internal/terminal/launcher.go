package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/vinayprograms/autopentest/internal/shell"
)

// ErrNoEmulator is returned when no supported terminal emulator is available.
var ErrNoEmulator = errors.New("no supported terminal emulator found")

// DefaultEmulators is the linux search order.
var DefaultEmulators = []string{"gnome-terminal", "xterm", "konsole", "terminator"}

// Launcher starts a wrapper script in its own execution context.
type Launcher interface {
	// Name identifies the launcher in logs.
	Name() string
	// Interactive reports whether a person can see the context, in which
	// case the script pauses before it exits.
	Interactive() bool
	// Launch starts script. The returned process may outlive the call.
	Launch(ctx context.Context, script string) (*Process, error)
}

// Process is a handle on a launched context. When Tracked is set the
// handle's exit coincides with the script's exit; otherwise it only
// reflects the launcher program (a terminal emulator that forks and returns).
type Process struct {
	Tracked bool
	cmd     *exec.Cmd
	done    chan struct{}
}

func start(cmd *exec.Cmd, tracked bool) (*Process, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &Process{Tracked: tracked, cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Exited reports whether the launched program has terminated.
func (p *Process) Exited() bool {
	if p == nil || p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Terminate kills the launched program and its process group. An external
// terminal window may stay open.
func (p *Process) Terminate() {
	if p == nil || p.Exited() {
		return
	}
	shell.Terminate(p.cmd)
}

// HeadlessLauncher runs the script as a detached shell process with no
// window. Output still goes only to the task's sink.
type HeadlessLauncher struct {
	Shell string // defaults to sh
}

func (l *HeadlessLauncher) Name() string      { return "headless" }
func (l *HeadlessLauncher) Interactive() bool { return false }

func (l *HeadlessLauncher) Launch(ctx context.Context, script string) (*Process, error) {
	sh := l.Shell
	if sh == "" {
		sh = "sh"
	}
	// Not bound to ctx: the task outlives the request that launched it.
	cmd := shell.Command(context.WithoutCancel(ctx), "", sh+" "+shell.Quote(script))
	return start(cmd, true)
}

// EmulatorLauncher opens a terminal window for the script.
type EmulatorLauncher struct {
	Emulators []string                          // linux search order
	LookPath  func(file string) (string, error) // defaults to exec.LookPath
	GOOS      string                            // defaults to runtime.GOOS
}

func (l *EmulatorLauncher) Name() string      { return "emulator" }
func (l *EmulatorLauncher) Interactive() bool { return true }

func (l *EmulatorLauncher) Launch(ctx context.Context, script string) (*Process, error) {
	argv, err := l.argv(script)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(context.WithoutCancel(ctx), argv[0], argv[1:]...)
	return start(cmd, false)
}

// argv returns the command line that opens script in a terminal.
func (l *EmulatorLauncher) argv(script string) ([]string, error) {
	goos := l.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	lookPath := l.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	switch goos {
	case "darwin":
		as := fmt.Sprintf(`tell application "Terminal" to do script "sh %s"`, strings.ReplaceAll(shell.Quote(script), `"`, `\"`))
		return []string{"osascript", "-e", as}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		emulators := l.Emulators
		if len(emulators) == 0 {
			emulators = DefaultEmulators
		}
		for _, name := range emulators {
			path, err := lookPath(name)
			if err != nil {
				continue
			}
			return emulatorArgs(name, path, script), nil
		}
		return nil, fmt.Errorf("%w (tried %s)", ErrNoEmulator, strings.Join(emulators, ", "))
	default:
		return nil, fmt.Errorf("%w on %s", ErrNoEmulator, goos)
	}
}

func emulatorArgs(name, path, script string) []string {
	switch name {
	case "gnome-terminal":
		return []string{path, "--", "sh", script}
	case "terminator":
		return []string{path, "-x", "sh", script}
	default:
		// xterm, konsole and most others
		return []string{path, "-e", "sh", script}
	}
}

// Launcher modes.
const (
	ModeAuto     = "auto"
	ModeEmulator = "emulator"
	ModeHeadless = "headless"
)

// NewLauncher picks a launcher for mode. Auto selects a terminal emulator
// when a display is available and headless execution otherwise.
func NewLauncher(mode string, emulators []string) (Launcher, error) {
	switch mode {
	case ModeHeadless:
		return &HeadlessLauncher{}, nil
	case ModeEmulator:
		return &EmulatorLauncher{Emulators: emulators}, nil
	case ModeAuto, "":
		if hasDisplay() {
			return &EmulatorLauncher{Emulators: emulators}, nil
		}
		return &HeadlessLauncher{}, nil
	default:
		return nil, fmt.Errorf("unknown terminal mode %q", mode)
	}
}

func hasDisplay() bool {
	if runtime.GOOS == "darwin" {
		return true
	}
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}
