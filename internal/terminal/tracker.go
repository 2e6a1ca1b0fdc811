// Package terminal runs single commands in a separate execution context and
// tracks them to completion through a sentinel appended to their sink.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/autopentest/internal/analysis"
	"github.com/vinayprograms/autopentest/internal/render"
	"github.com/vinayprograms/autopentest/internal/task"
)

// DefaultTimeout is the per-task bound measured from launch.
const DefaultTimeout = 120 * time.Second

// DefaultPollInterval is used by WaitFor when the caller passes zero.
const DefaultPollInterval = 2 * time.Second

// Tracker launches terminal tasks and polls them to a terminal status.
type Tracker struct {
	registry   *task.Registry
	resultsDir string
	workDir    string
	timeout    time.Duration
	launcher   Launcher
	analyzer   *analysis.Analyzer
	logger     *logging.Logger
	now        func() time.Time

	mu      sync.Mutex
	procs   map[string]*Process
	scripts map[string]string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTimeout sets the per-task timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

// WithLauncher sets how scripts are started.
func WithLauncher(l Launcher) Option {
	return func(t *Tracker) { t.launcher = l }
}

// WithAnalyzer sets the analyzer used by Analyze.
func WithAnalyzer(a *analysis.Analyzer) Option {
	return func(t *Tracker) { t.analyzer = a }
}

// WithWorkDir sets the directory scripts change into before running.
func WithWorkDir(dir string) Option {
	return func(t *Tracker) { t.workDir = dir }
}

// New creates a tracker writing sinks and scripts under resultsDir.
func New(registry *task.Registry, resultsDir string, opts ...Option) *Tracker {
	t := &Tracker{
		registry:   registry,
		resultsDir: resultsDir,
		timeout:    DefaultTimeout,
		launcher:   &HeadlessLauncher{},
		logger:     logging.New().WithComponent("terminal"),
		now:        time.Now,
		procs:      make(map[string]*Process),
		scripts:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.analyzer == nil {
		t.analyzer = analysis.New()
	}
	return t
}

// Registry returns the registry the tracker writes to.
func (t *Tracker) Registry() *task.Registry {
	return t.registry
}

// Launch registers a task for command and starts it. A launch failure is
// not an error: the task is recorded as failed and returned. An error is
// returned only when the task could not be registered.
func (t *Tracker) Launch(ctx context.Context, command string, meta task.Meta) (task.Task, error) {
	id := t.registry.NewID("terminal")
	start := t.now()

	sink, sinkErr := task.NewSink(t.resultsDir, id)
	if sinkErr != nil {
		sink = &task.Sink{}
	}
	if err := t.registry.Add(task.Task{
		ID:         id,
		Command:    command,
		Meta:       meta,
		Status:     task.StatusPending,
		StartTime:  start,
		OutputFile: sink.Path,
	}); err != nil {
		return task.Task{}, fmt.Errorf("register task: %w", err)
	}
	if sinkErr != nil {
		return t.fail(id, start, sinkErr), nil
	}

	script, err := writeScript(t.resultsDir, id, command, t.workDir, sink.Path, t.launcher.Interactive())
	if err != nil {
		return t.fail(id, start, err), nil
	}
	t.mu.Lock()
	t.scripts[id] = script
	t.mu.Unlock()

	proc, err := t.launcher.Launch(ctx, script)
	if err != nil {
		return t.fail(id, start, err), nil
	}
	t.mu.Lock()
	t.procs[id] = proc
	t.mu.Unlock()

	running, err := t.registry.Start(id)
	if err != nil {
		return task.Task{}, err
	}
	t.logger.Info("terminal task launched", map[string]interface{}{
		"task":     id,
		"launcher": t.launcher.Name(),
		"command":  command,
	})
	return running, nil
}

func (t *Tracker) fail(id string, start time.Time, cause error) task.Task {
	t.logger.Warn("terminal launch failed", map[string]interface{}{"task": id, "error": cause.Error()})
	done, err := t.registry.Finish(id, func(tk *task.Task) {
		tk.Status = task.StatusFailed
		tk.SetReturnCode(task.CodeSpawnFailed)
		tk.Output = fmt.Sprintf("Error: failed to launch terminal: %v", cause)
		tk.Error = cause.Error()
		tk.ExecutionTime = t.now().Sub(start)
	})
	if err != nil {
		got, _ := t.registry.Get(id)
		return got
	}
	return done
}

// CheckStatus polls one task. It performs at most one transition: completed
// when the sentinel is present, timed_out when the timeout has elapsed, or
// failed when a tracked process exited without writing the sentinel.
// Terminal tasks are returned unchanged. ok is false for unknown ids.
func (t *Tracker) CheckStatus(id string) (task.Task, bool) {
	cur, ok := t.registry.Get(id)
	if !ok {
		return task.Task{}, false
	}
	if cur.Status != task.StatusRunning {
		return cur, true
	}

	t.mu.Lock()
	proc := t.procs[id]
	t.mu.Unlock()
	// Observed before reading so a sentinel written before exit is seen.
	exited := proc != nil && proc.Tracked && proc.Exited()

	content, err := (&task.Sink{Path: cur.OutputFile}).Read()
	if err != nil {
		t.logger.Debug("sink not readable yet", map[string]interface{}{"task": id, "error": err.Error()})
		content = ""
	}
	elapsed := t.now().Sub(cur.StartTime)

	var update func(*task.Task)
	if output, code, found := ParseSentinel(content); found {
		update = func(tk *task.Task) {
			tk.Status = task.StatusCompleted
			tk.SetReturnCode(code)
			tk.Output = output
			tk.ExecutionTime = elapsed
		}
	} else if elapsed >= t.timeout {
		proc.Terminate()
		update = func(tk *task.Task) {
			tk.Status = task.StatusTimedOut
			tk.SetReturnCode(task.CodeTimeout)
			tk.Output = content
			tk.Error = fmt.Sprintf("no completion after %s", t.timeout)
			tk.ExecutionTime = elapsed
		}
	} else if exited {
		update = func(tk *task.Task) {
			tk.Status = task.StatusFailed
			tk.SetReturnCode(task.CodeExecError)
			tk.Output = content
			tk.Error = "process exited without completion marker"
			tk.ExecutionTime = elapsed
		}
	} else {
		return cur, true
	}

	done, err := t.registry.Finish(id, update)
	if err != nil {
		if errors.Is(err, task.ErrTerminal) {
			// Another poller got there first.
			got, _ := t.registry.Get(id)
			return got, true
		}
		t.logger.Warn("failed to record terminal status", map[string]interface{}{"task": id, "error": err.Error()})
		return cur, true
	}
	t.mu.Lock()
	delete(t.procs, id)
	t.mu.Unlock()
	t.logger.Info("terminal task finished", map[string]interface{}{
		"task":   id,
		"status": string(done.Status),
		"code":   done.Code(0),
	})
	return done, true
}

// WaitFor blocks until every known id in ids is terminal. Unknown ids are
// ignored. It returns immediately when nothing is pending. Between polls it
// sleeps for interval, waking early when the results directory changes.
// The per-task timeout is the intended bound; ctx only aborts the wait.
func (t *Tracker) WaitFor(ctx context.Context, ids []string, interval time.Duration) error {
	pending := t.pending(ids)
	if len(pending) == 0 {
		return nil
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var changed <-chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(t.resultsDir); err == nil {
			changed = watcher.Events
		} else {
			t.logger.Debug("results watch unavailable, polling only", map[string]interface{}{"error": err.Error()})
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		next := pending[:0]
		for _, id := range pending {
			if tk, ok := t.CheckStatus(id); ok && !tk.Status.Terminal() {
				next = append(next, id)
			}
		}
		pending = next
		if len(pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-changed:
			if !ok {
				changed = nil
			}
		}
	}
}

func (t *Tracker) pending(ids []string) []string {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if tk, ok := t.registry.Get(id); ok && !tk.Status.Terminal() {
			out = append(out, id)
		}
	}
	return out
}

// Results returns the terminal tasks among ids, in the order given. Ids
// that are unknown or still running have no entry.
func (t *Tracker) Results(ids []string) []task.Task {
	out := []task.Task{}
	for _, id := range ids {
		if tk, ok := t.registry.Get(id); ok && tk.Status.Terminal() {
			out = append(out, tk)
		}
	}
	return out
}

// Summary counts the terminal tasks among ids by status.
type Summary struct {
	Total     int           `json:"total_tasks"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	TimedOut  int           `json:"timed_out"`
	Duration  time.Duration `json:"total_execution_time"`
}

// Summary projects Results(ids) into counts.
func (t *Tracker) Summary(ids []string) Summary {
	var s Summary
	for _, tk := range t.Results(ids) {
		s.Total++
		s.Duration += tk.ExecutionTime
		switch tk.Status {
		case task.StatusCompleted:
			s.Completed++
		case task.StatusTimedOut:
			s.TimedOut++
		default:
			s.Failed++
		}
	}
	return s
}

// PrintSummary writes a console summary of the terminal tasks among ids.
func (t *Tracker) PrintSummary(w io.Writer, ids []string) error {
	return render.TaskSummary(w, t.Results(ids))
}

// Analyze runs the analyzer over the terminal tasks among ids.
func (t *Tracker) Analyze(ids []string) analysis.Report {
	return t.analyzer.Analyze(t.Results(ids))
}

// Cleanup evicts ids from the registry, terminating any process still
// running and deleting wrapper scripts. Sinks are kept. It returns the
// number of registry records removed.
func (t *Tracker) Cleanup(ids ...string) int {
	t.mu.Lock()
	var scripts []string
	for _, id := range ids {
		if p, ok := t.procs[id]; ok {
			p.Terminate()
			delete(t.procs, id)
		}
		if s, ok := t.scripts[id]; ok {
			scripts = append(scripts, s)
			delete(t.scripts, id)
		}
	}
	t.mu.Unlock()

	for _, s := range scripts {
		if err := os.Remove(s); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove script", map[string]interface{}{"path": s, "error": err.Error()})
		}
	}
	return t.registry.Remove(ids...)
}
