// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Dispatch a single command"`
	Batch   BatchCmd   `cmd:"" help:"Run commands concurrently and analyze the results"`
	Check   CheckCmd   `cmd:"" help:"Show the security verdict for a command without running it"`
	Shell   ShellCmd   `cmd:"" help:"Read commands from stdin until exit"`
	Replay  ReplayCmd  `cmd:"" help:"Replay a session log for forensic review"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// Options are shared by every command that dispatches.
type Options struct {
	Config    string `help:"Config file path (default ./autopentest.toml)"`
	Target    string `help:"Target named in the session and report"`
	Mode      string `help:"Terminal mode: auto, emulator or headless (overrides config)"`
	NoSession bool   `help:"Do not record a session log"`
}

// MetaFlags describe the command being dispatched.
type MetaFlags struct {
	Phase    string `help:"Testing phase (e.g. recon, scanning)"`
	Category string `help:"Tool category"`
	Expected string `help:"Expected outcome"`
}

// RunCmd dispatches one command string.
type RunCmd struct {
	Options   `embed:""`
	MetaFlags `embed:""`

	Command  string `arg:"" help:"Command string (shell command or special form)"`
	Terminal bool   `short:"t" help:"Run in a separate terminal and wait for its sentinel"`
}

// BatchCmd runs commands through the parallel path.
type BatchCmd struct {
	Options   `embed:""`
	MetaFlags `embed:""`

	Commands []string `arg:"" help:"Commands to run concurrently"`
	JSON     bool     `help:"Print the raw JSON result"`
}

// CheckCmd runs only the security gate.
type CheckCmd struct {
	Command string `arg:"" help:"Command to validate"`
}

// ShellCmd runs a line-oriented dispatch loop.
type ShellCmd struct {
	Options `embed:""`

	Terminal bool `short:"t" help:"Send shell commands to the terminal path"`
}

// ReplayCmd replays recorded sessions.
type ReplayCmd struct {
	Sessions []string `arg:"" help:"Session file(s) to replay (supports glob patterns)"`
	Verbose  int      `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
