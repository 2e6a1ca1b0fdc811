package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vinayprograms/autopentest/internal/analysis"
	"github.com/vinayprograms/autopentest/internal/config"
	"github.com/vinayprograms/autopentest/internal/parallel"
	"github.com/vinayprograms/autopentest/internal/render"
	"github.com/vinayprograms/autopentest/internal/replay"
	"github.com/vinayprograms/autopentest/internal/router"
	"github.com/vinayprograms/autopentest/internal/task"
)

// exitError carries a non-zero return code out of a command.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("command finished with return code %d", e.code)
}

// status maps the return code onto a process exit status. Reserved negative
// codes become 1.
func (e exitError) status() int {
	if e.code > 0 && e.code < 256 {
		return e.code
	}
	return 1
}

func (m MetaFlags) meta() task.Meta {
	return task.Meta{Phase: m.Phase, Category: m.Category, ExpectedOutcome: m.Expected}
}

// withRuntime loads config, wires a runtime and runs fn with it. The session
// is marked failed only when fn fails for a reason other than a return code.
func withRuntime(opts Options, name string, fn func(rt *runtime) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, name, !opts.NoSession)
	if err != nil {
		return err
	}
	err = fn(rt)
	var exit exitError
	if errors.As(err, &exit) {
		rt.close(nil)
	} else {
		rt.close(err)
	}
	return err
}

// Run dispatches the command.
func (c *RunCmd) Run(ctx context.Context) error {
	return withRuntime(c.Options, "run", func(rt *runtime) error {
		return rt.runOnce(ctx, os.Stdout, c.Command, c.meta(), c.Terminal)
	})
}

// runOnce dispatches command and prints the result. Terminal launches are
// collected before returning since the registry does not outlive the process.
func (rt *runtime) runOnce(ctx context.Context, w io.Writer, command string, meta task.Meta, preferTerminal bool) error {
	res := rt.router.Dispatch(ctx, command, meta, preferTerminal)
	req := router.Parse(command)
	if preferTerminal && req.Kind == router.KindShell && res.ReturnCode == 0 && len(res.TaskIDs) == 1 {
		fmt.Fprintln(w, res.Output)
		id := res.TaskIDs[0]
		res = rt.router.Dispatch(ctx, router.PrefixCollect+id, meta, false)
		if res.ReturnCode == 0 {
			results := rt.tracker.Results([]string{id})
			if err := render.TaskSummary(w, results); err != nil {
				return err
			}
			for _, t := range results {
				if t.Output != "" {
					fmt.Fprint(w, t.Output)
				}
				if !t.Succeeded() {
					return exitError{code: t.Code(task.CodeExecError)}
				}
			}
			return nil
		}
	}
	if res.Output != "" {
		fmt.Fprintln(w, strings.TrimRight(res.Output, "\n"))
	}
	if res.ReturnCode != 0 {
		return exitError{code: res.ReturnCode}
	}
	return nil
}

// Run executes the batch.
func (c *BatchCmd) Run(ctx context.Context) error {
	return withRuntime(c.Options, "batch", func(rt *runtime) error {
		return rt.runBatch(ctx, os.Stdout, c.Commands, c.meta(), c.JSON)
	})
}

// batchOutput mirrors the JSON the router returns for parallel_execute.
type batchOutput struct {
	Batch    parallel.BatchResult `json:"parallel_execution"`
	Analysis analysis.Report      `json:"analysis"`
}

// runBatch sends commands down the parallel path as one request.
func (rt *runtime) runBatch(ctx context.Context, w io.Writer, commands []string, meta task.Meta, raw bool) error {
	req := router.Request{
		Kind:     router.KindParallel,
		Raw:      router.PrefixParallel + strings.Join(commands, ";"),
		Commands: commands,
		Meta:     meta,
	}
	res := rt.router.DispatchRequest(ctx, req)
	if res.ReturnCode != 0 || raw {
		fmt.Fprintln(w, res.Output)
		if res.ReturnCode != 0 {
			return exitError{code: res.ReturnCode}
		}
		return nil
	}

	var out batchOutput
	if err := json.Unmarshal([]byte(res.Output), &out); err != nil {
		return fmt.Errorf("decode batch result: %w", err)
	}
	if err := render.Batch(w, &out.Batch); err != nil {
		return err
	}
	if err := render.Analysis(w, out.Analysis); err != nil {
		return err
	}
	if out.Batch.FailedTasks > 0 {
		return exitError{code: 1}
	}
	return nil
}

// Run validates the command.
func (c *CheckCmd) Run() error {
	v := newGate(defaultConfig()).Validate(c.Command)
	if err := render.Verdict(os.Stdout, c.Command, v); err != nil {
		return err
	}
	if !v.Allowed {
		return exitError{code: task.CodeRejected}
	}
	return nil
}

// Run reads and dispatches commands until exit or end of input.
func (c *ShellCmd) Run(ctx context.Context) error {
	return withRuntime(c.Options, "shell", func(rt *runtime) error {
		return rt.interactive(ctx, os.Stdin, os.Stdout, c.Terminal)
	})
}

// interactive is the line-oriented dispatch loop. Return codes are printed,
// not returned; the loop only stops on exit, end of input or cancellation.
func (rt *runtime) interactive(ctx context.Context, in io.Reader, w io.Writer, preferTerminal bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(w, "autopentest> ")
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		res := rt.router.Dispatch(ctx, line, task.Meta{}, preferTerminal)
		if res.Exit {
			return nil
		}
		if res.Output != "" {
			fmt.Fprintln(w, strings.TrimRight(res.Output, "\n"))
		}
		fmt.Fprintf(w, "[return code %d]\n", res.ReturnCode)
	}
}

// defaultConfig loads ./autopentest.toml, falling back to the defaults.
func defaultConfig() *config.Config {
	cfg, err := config.LoadDefault()
	if err != nil {
		return config.New()
	}
	return cfg
}

// Run replays each session file in turn.
func (c *ReplayCmd) Run() error {
	paths, err := expandGlobs(c.Sessions)
	if err != nil {
		return err
	}
	r := replay.New(os.Stdout, c.Verbose)
	for _, path := range paths {
		if err := r.ReplayFile(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// expandGlobs resolves patterns, keeping literal paths that match nothing
// so the load reports the missing file.
func expandGlobs(patterns []string) ([]string, error) {
	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			paths = append(paths, p)
			continue
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

// Run prints version information.
func (c *VersionCmd) Run() error {
	fmt.Printf("autopentest version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
