// Package parallel launches batches of shell commands as concurrent child
// processes and collects their results.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vinayprograms/autopentest/internal/shell"
	"github.com/vinayprograms/autopentest/internal/task"
)

// BatchResult aggregates one RunBatch call. Results follow launch order.
type BatchResult struct {
	BatchID            string        `json:"batch_id"`
	TotalTasks         int           `json:"total_tasks"`
	SuccessfulTasks    int           `json:"successful_tasks"`
	FailedTasks        int           `json:"failed_tasks"`
	TotalExecutionTime time.Duration `json:"total_execution_time"`
	Results            []task.Task   `json:"results"`
	TaskIDs            []string      `json:"task_ids"`
}

// Executor runs batches. Every task it creates is written to the registry
// before RunBatch returns.
type Executor struct {
	registry   *task.Registry
	resultsDir string
	workDir    string
	shell      string
	timeout    time.Duration
	logger     *logging.Logger
	now        func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkDir sets the working directory of launched commands.
func WithWorkDir(dir string) Option {
	return func(e *Executor) { e.workDir = dir }
}

// WithShell overrides the interpreter used for each command.
func WithShell(sh string) Option {
	return func(e *Executor) { e.shell = sh }
}

// WithBatchTimeout bounds a whole batch. Tasks still running when it
// elapses are killed and marked timed_out. Zero means no bound.
func WithBatchTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// New creates an executor whose sinks live under resultsDir.
func New(registry *task.Registry, resultsDir string, opts ...Option) *Executor {
	e := &Executor{
		registry:   registry,
		resultsDir: resultsDir,
		logger:     logging.New().WithComponent("parallel"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor writes to.
func (e *Executor) Registry() *task.Registry {
	return e.registry
}

// launched is a task whose process has started.
type launched struct {
	id     string
	cmd    *exec.Cmd
	sink   *task.Sink
	killed *atomic.Bool // set when ctx ended the process
}

// RunBatch launches every non-empty command, then waits for all of them.
// Launching never waits on an earlier task, and each task is reaped as soon
// as it exits so its return code and duration are its own. A command that cannot be
// spawned is recorded as failed and does not affect its siblings.
func (e *Executor) RunBatch(ctx context.Context, commands []string, meta task.Meta) (*BatchResult, error) {
	ctx, span := otel.Tracer("autopentest/parallel").Start(ctx, "parallel.batch")
	defer span.End()

	if err := os.MkdirAll(e.resultsDir, 0755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	batch := &BatchResult{BatchID: uuid.NewString()}
	start := e.now()

	var running []launched
	for _, raw := range commands {
		command := strings.TrimSpace(raw)
		if command == "" {
			continue
		}
		id := e.registry.NewID("task")
		batch.TaskIDs = append(batch.TaskIDs, id)

		sink, err := task.NewSink(e.resultsDir, id)
		if err != nil {
			// Still register the task so the batch accounts for it.
			sink = &task.Sink{Path: filepath.Join(e.resultsDir, id+"_output.txt")}
		}
		if addErr := e.registry.Add(task.Task{
			ID:         id,
			Command:    command,
			Meta:       meta,
			Status:     task.StatusPending,
			StartTime:  start,
			OutputFile: sink.Path,
		}); addErr != nil {
			return nil, fmt.Errorf("register task: %w", addErr)
		}
		if err != nil {
			e.spawnFailed(id, start, err)
			continue
		}

		cmd, killed, err := e.launch(runCtx, command, sink)
		if err != nil {
			e.spawnFailed(id, start, err)
			continue
		}
		if _, err := e.registry.Start(id); err != nil {
			e.logger.Warn("task start transition failed", map[string]interface{}{"task": id, "error": err.Error()})
		}
		e.logger.Debug("task launched", map[string]interface{}{"task": id, "command": command})
		running = append(running, launched{id: id, cmd: cmd, sink: sink, killed: killed})
	}

	var wg sync.WaitGroup
	for _, l := range running {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.finish(runCtx, l, l.cmd.Wait(), start)
		}()
	}
	wg.Wait()

	batch.TotalExecutionTime = e.now().Sub(start)
	for _, id := range batch.TaskIDs {
		t, ok := e.registry.Get(id)
		if !ok {
			continue
		}
		batch.Results = append(batch.Results, t)
		if t.Status == task.StatusCompleted {
			batch.SuccessfulTasks++
		} else {
			batch.FailedTasks++
		}
	}
	batch.TotalTasks = len(batch.Results)
	if batch.Results == nil {
		batch.Results = []task.Task{}
	}

	span.SetAttributes(
		attribute.String("batch.id", batch.BatchID),
		attribute.Int("batch.total", batch.TotalTasks),
		attribute.Int("batch.failed", batch.FailedTasks),
	)
	e.logger.Info("batch complete", map[string]interface{}{
		"batch":      batch.BatchID,
		"total":      batch.TotalTasks,
		"successful": batch.SuccessfulTasks,
		"failed":     batch.FailedTasks,
		"duration":   batch.TotalExecutionTime.String(),
	})
	return batch, nil
}

// launch starts command with stdout and stderr appended to sink. The
// returned flag reports whether ctx ended the process.
func (e *Executor) launch(ctx context.Context, command string, sink *task.Sink) (*exec.Cmd, *atomic.Bool, error) {
	f, err := sink.OpenAppend()
	if err != nil {
		return nil, nil, fmt.Errorf("open sink: %w", err)
	}
	// The child holds its own descriptor once started.
	defer f.Close()

	cmd := shell.Command(ctx, e.shell, command)
	cmd.Dir = e.workDir
	cmd.Stdout = f
	cmd.Stderr = f
	killed := new(atomic.Bool)
	terminate := cmd.Cancel
	cmd.Cancel = func() error {
		killed.Store(true)
		return terminate()
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return cmd, killed, nil
}

func (e *Executor) spawnFailed(id string, start time.Time, err error) {
	code := task.CodeSpawnFailed
	if errors.Is(err, exec.ErrNotFound) {
		code = task.CodeNotFound
	}
	msg := fmt.Sprintf("Error: failed to start command: %v", err)
	_, ferr := e.registry.Finish(id, func(t *task.Task) {
		t.Status = task.StatusFailed
		t.SetReturnCode(code)
		t.Output = msg
		t.Error = err.Error()
		t.ExecutionTime = e.now().Sub(start)
	})
	if ferr != nil {
		e.logger.Warn("failed to record spawn failure", map[string]interface{}{"task": id, "error": ferr.Error()})
	}
	e.logger.Warn("task spawn failed", map[string]interface{}{"task": id, "error": err.Error()})
}

func (e *Executor) finish(ctx context.Context, l launched, waitErr error, start time.Time) {
	output, readErr := l.sink.Read()
	if readErr != nil {
		output = fmt.Sprintf("Error reading output: %v", readErr)
	}
	timedOut := e.timeout > 0 && l.killed.Load() && errors.Is(ctx.Err(), context.DeadlineExceeded)
	rc := shell.ExitCode(waitErr)

	_, err := e.registry.Finish(l.id, func(t *task.Task) {
		t.Output = output
		t.ExecutionTime = e.now().Sub(start)
		switch {
		case timedOut:
			t.Status = task.StatusTimedOut
			t.SetReturnCode(task.CodeTimeout)
			t.Error = "batch timeout elapsed"
		case rc == 0:
			t.Status = task.StatusCompleted
			t.SetReturnCode(0)
		default:
			t.Status = task.StatusFailed
			t.SetReturnCode(rc)
		}
	})
	if err != nil {
		e.logger.Warn("failed to record task result", map[string]interface{}{"task": l.id, "error": err.Error()})
	}
}
