// Package router classifies command strings and dispatches them to the
// gate, the executors and the collaborators.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/autopentest/internal/analysis"
	"github.com/vinayprograms/autopentest/internal/functions"
	"github.com/vinayprograms/autopentest/internal/installer"
	"github.com/vinayprograms/autopentest/internal/parallel"
	"github.com/vinayprograms/autopentest/internal/report"
	"github.com/vinayprograms/autopentest/internal/security"
	"github.com/vinayprograms/autopentest/internal/session"
	"github.com/vinayprograms/autopentest/internal/shell"
	"github.com/vinayprograms/autopentest/internal/task"
	"github.com/vinayprograms/autopentest/internal/terminal"
)

// DefaultReportPath is where report_generation writes when unset.
const DefaultReportPath = "pentest_report.txt"

// Result is the outcome of one dispatch.
type Result struct {
	Output     string
	ReturnCode int
	TimedOut   bool
	Executed   bool     // false when nothing was run
	Exit       bool     // caller should stop issuing commands
	TaskIDs    []string // tasks created by this dispatch
}

// FunctionTable resolves custom functions.
type FunctionTable interface {
	Call(ctx context.Context, name string, params []string) (interface{}, error)
}

// Installer installs tools by name.
type Installer interface {
	Install(ctx context.Context, name string) (bool, string)
}

// ReportBuilder renders the assessment report.
type ReportBuilder interface {
	Build(in report.Input) (string, error)
}

// EventLogger records dispatch events. Its errors never reach the caller.
type EventLogger interface {
	LogEvent(kind, command string, details map[string]interface{}) error
}

// Runner executes a command synchronously.
type Runner interface {
	Run(ctx context.Context, command string) (string, int, bool)
}

// Router dispatches commands. It is safe for concurrent use.
type Router struct {
	gate         *security.Gate
	executor     *parallel.Executor
	tracker      *terminal.Tracker
	analyzer     *analysis.Analyzer
	functions    FunctionTable
	installer    Installer
	reports      ReportBuilder
	events       EventLogger
	runner       Runner
	reportPath   string
	target       string
	pollInterval time.Duration
	logger       *logging.Logger
	now          func() time.Time

	mu              sync.Mutex
	findings        []analysis.Finding
	recommendations []string
	seenRec         map[string]bool
}

// Option configures a Router.
type Option func(*Router)

// WithGate sets the security gate.
func WithGate(g *security.Gate) Option { return func(r *Router) { r.gate = g } }

// WithExecutor sets the parallel executor.
func WithExecutor(e *parallel.Executor) Option { return func(r *Router) { r.executor = e } }

// WithTracker sets the terminal tracker.
func WithTracker(t *terminal.Tracker) Option { return func(r *Router) { r.tracker = t } }

// WithAnalyzer sets the analyzer used for parallel and collected results.
func WithAnalyzer(a *analysis.Analyzer) Option { return func(r *Router) { r.analyzer = a } }

// WithFunctions sets the custom-function table.
func WithFunctions(f FunctionTable) Option { return func(r *Router) { r.functions = f } }

// WithInstaller sets the tool installer.
func WithInstaller(i Installer) Option { return func(r *Router) { r.installer = i } }

// WithReportBuilder sets the report builder.
func WithReportBuilder(b ReportBuilder) Option { return func(r *Router) { r.reports = b } }

// WithEventLogger sets the event logger. Nil disables event logging.
func WithEventLogger(l EventLogger) Option { return func(r *Router) { r.events = l } }

// WithRunner sets the synchronous runner.
func WithRunner(run Runner) Option { return func(r *Router) { r.runner = run } }

// WithReportPath sets the report output file.
func WithReportPath(path string) Option { return func(r *Router) { r.reportPath = path } }

// WithTarget sets the target named in reports.
func WithTarget(target string) Option { return func(r *Router) { r.target = target } }

// WithPollInterval sets the collect_results poll interval.
func WithPollInterval(d time.Duration) Option { return func(r *Router) { r.pollInterval = d } }

// New creates a router. Components not supplied through options are built
// with defaults over registry and resultsDir.
func New(registry *task.Registry, resultsDir string, opts ...Option) *Router {
	r := &Router{
		reportPath: DefaultReportPath,
		logger:     logging.New().WithComponent("router"),
		now:        time.Now,
		seenRec:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.gate == nil {
		r.gate = security.NewGate()
	}
	if r.analyzer == nil {
		r.analyzer = analysis.New()
	}
	if r.executor == nil {
		r.executor = parallel.New(registry, resultsDir)
	}
	if r.tracker == nil {
		r.tracker = terminal.New(registry, resultsDir, terminal.WithAnalyzer(r.analyzer))
	}
	if r.runner == nil {
		r.runner = &shell.Runner{}
	}
	if r.functions == nil {
		r.functions = functions.Default()
	}
	if r.installer == nil {
		r.installer = installer.New(r.runner)
	}
	if r.reports == nil {
		r.reports = report.New()
	}
	return r
}

// Tracker returns the terminal tracker.
func (r *Router) Tracker() *terminal.Tracker {
	return r.tracker
}

// Dispatch parses command and dispatches it.
func (r *Router) Dispatch(ctx context.Context, command string, meta task.Meta, preferTerminal bool) Result {
	req := Parse(command)
	req.Meta = meta
	req.PreferTerminal = preferTerminal
	return r.DispatchRequest(ctx, req)
}

// DispatchRequest runs req. Every path records its command and outcome to
// the event logger before returning.
func (r *Router) DispatchRequest(ctx context.Context, req Request) Result {
	ctx, span := otel.Tracer("autopentest/router").Start(ctx, "dispatch."+req.Kind.String(),
		trace.WithAttributes(
			attribute.String("kind", req.Kind.String()),
			attribute.String("phase", req.Meta.Phase),
			attribute.String("category", req.Meta.Category),
		))
	defer span.End()

	r.record(session.EventCommandExecution, req.Raw, metaDetails(req, nil))

	start := r.now()
	res := r.route(ctx, req)
	elapsed := r.now().Sub(start)

	span.SetAttributes(attribute.Int("return_code", res.ReturnCode))
	details := metaDetails(req, map[string]interface{}{
		"return_code": res.ReturnCode,
		"duration":    elapsed,
		"timed_out":   res.TimedOut,
		"executed":    res.Executed,
	})
	if len(res.TaskIDs) == 1 {
		details["task_id"] = res.TaskIDs[0]
	} else if len(res.TaskIDs) > 1 {
		details["task_ids"] = res.TaskIDs
	}
	if res.ReturnCode != 0 && !res.Executed {
		details["error"] = res.Output
	}
	r.record(session.EventCommandResult, req.Raw, details)

	r.logger.Debug("dispatch complete", map[string]interface{}{
		"kind":        req.Kind.String(),
		"return_code": res.ReturnCode,
		"duration_ms": elapsed.Milliseconds(),
	})
	return res
}

func (r *Router) route(ctx context.Context, req Request) Result {
	switch req.Kind {
	case KindEmpty:
		return invalid("Error: no command supplied")
	case KindExit:
		return Result{Output: "Exit requested", Exit: true}
	case KindCustomFunction:
		return r.customFunction(ctx, req)
	case KindInstallTool:
		return r.installTool(ctx, req)
	case KindReport:
		return r.generateReport()
	case KindParallel:
		return r.parallel(ctx, req)
	case KindCollect:
		return r.collect(ctx, req)
	}
	if req.PreferTerminal {
		return r.terminal(ctx, req)
	}
	return r.synchronous(ctx, req)
}

func invalid(msg string) Result {
	return Result{Output: msg, ReturnCode: task.CodeInvalid}
}

func execError(msg string) Result {
	return Result{Output: msg, ReturnCode: task.CodeExecError}
}

// validate runs the gate. A blocked command yields a rejection result and a
// security_block event.
func (r *Router) validate(command string) (Result, bool) {
	v := r.gate.Validate(command)
	if v.Allowed {
		if len(v.Warnings) > 0 {
			r.logger.Debug("command allowed with warnings", map[string]interface{}{
				"risk": v.Risk.String(), "warnings": v.Warnings,
			})
		}
		return Result{}, true
	}
	r.record(session.EventSecurityBlock, command, map[string]interface{}{
		"risk_level": v.Risk.String(),
		"warnings":   v.Warnings,
	})
	r.logger.Warn("command blocked", map[string]interface{}{"risk": v.Risk.String(), "warnings": v.Warnings})
	return Result{
		Output:     "Security validation failed: " + strings.Join(v.Warnings, "; "),
		ReturnCode: task.CodeRejected,
	}, false
}

func (r *Router) synchronous(ctx context.Context, req Request) Result {
	if res, ok := r.validate(req.Raw); !ok {
		return res
	}
	out, rc, timedOut := r.runner.Run(ctx, req.Raw)
	return Result{Output: out, ReturnCode: rc, TimedOut: timedOut, Executed: true}
}

func (r *Router) terminal(ctx context.Context, req Request) Result {
	if res, ok := r.validate(req.Raw); !ok {
		return res
	}
	t, err := r.tracker.Launch(ctx, req.Raw, req.Meta)
	if err != nil {
		return execError(fmt.Sprintf("Error launching terminal task: %v", err))
	}
	if t.Status == task.StatusFailed {
		msg := t.Error
		if msg == "" {
			msg = t.Output
		}
		return Result{
			Output:     fmt.Sprintf("Error launching terminal task %s: %s", t.ID, msg),
			ReturnCode: t.Code(task.CodeSpawnFailed),
			TaskIDs:    []string{t.ID},
		}
	}
	return Result{
		Output: fmt.Sprintf("Task %s launched in terminal. Use collect_results:%s to gather its output.",
			t.ID, t.ID),
		Executed: true,
		TaskIDs:  []string{t.ID},
	}
}

func (r *Router) parallel(ctx context.Context, req Request) Result {
	if len(req.Commands) == 0 {
		return invalid("Error: parallel_execute requires at least one command")
	}
	for _, c := range req.Commands {
		if res, ok := r.validate(c); !ok {
			res.Output = fmt.Sprintf("Batch rejected, %q: %s", c, res.Output)
			return res
		}
	}

	batch, err := r.executor.RunBatch(ctx, req.Commands, req.Meta)
	if err != nil {
		return execError(fmt.Sprintf("Error executing batch: %v", err))
	}
	rep := r.analyzer.Analyze(batch.Results)
	r.accumulate(rep)

	out, err := marshal(map[string]interface{}{
		"parallel_execution": batch,
		"summary":            rep.Summary,
		"analysis":           rep,
	})
	if err != nil {
		return execError(err.Error())
	}
	res := Result{Output: out, Executed: true, TaskIDs: batch.TaskIDs}
	for _, t := range batch.Results {
		if t.Status == task.StatusTimedOut {
			res.TimedOut = true
		}
	}
	return res
}

func (r *Router) collect(ctx context.Context, req Request) Result {
	if len(req.TaskIDs) == 0 {
		return invalid("Error: collect_results requires at least one task id")
	}
	if err := r.tracker.WaitFor(ctx, req.TaskIDs, r.pollInterval); err != nil {
		return execError(fmt.Sprintf("Error waiting for tasks: %v", err))
	}
	results := r.tracker.Results(req.TaskIDs)
	rep := r.analyzer.Analyze(results)
	r.accumulate(rep)

	out, err := marshal(map[string]interface{}{
		"results":  results,
		"analysis": rep,
	})
	if err != nil {
		return execError(err.Error())
	}
	res := Result{Output: out, Executed: true}
	for _, t := range results {
		res.TaskIDs = append(res.TaskIDs, t.ID)
		if t.Status == task.StatusTimedOut {
			res.TimedOut = true
		}
	}
	return res
}

func (r *Router) customFunction(ctx context.Context, req Request) (res Result) {
	if req.Name == "" {
		return invalid("Error: custom_function requires a function name")
	}
	defer func() {
		if p := recover(); p != nil {
			res = execError(fmt.Sprintf("Error in function %s: %v", req.Name, p))
		}
	}()

	value, err := r.functions.Call(ctx, req.Name, req.Params)
	if err != nil {
		if errors.Is(err, functions.ErrUnknownFunction) || errors.Is(err, functions.ErrInvalidParams) {
			return invalid("Error: " + err.Error())
		}
		return execError(fmt.Sprintf("Error in function %s: %v", req.Name, err))
	}
	out, err := marshal(value)
	if err != nil {
		return execError(err.Error())
	}
	return Result{Output: out, Executed: true}
}

func (r *Router) installTool(ctx context.Context, req Request) Result {
	if req.Name == "" {
		return invalid("Error: install_tool requires a tool name")
	}
	ok, msg := r.installer.Install(ctx, req.Name)
	if !ok {
		return Result{Output: msg, ReturnCode: task.CodeExecError, Executed: true}
	}
	return Result{Output: msg, Executed: true}
}

func (r *Router) generateReport() Result {
	findings, recs := r.Findings()
	text, err := r.reports.Build(report.Input{
		Target:           r.target,
		Date:             r.now(),
		ExecutiveSummary: executiveSummary(findings),
		Findings:         findings,
		Recommendations:  recs,
		ToolsUsed:        toolsUsed(findings),
	})
	if err != nil {
		return execError(fmt.Sprintf("Error generating report: %v", err))
	}
	if err := report.WriteFile(r.reportPath, text); err != nil {
		return execError(fmt.Sprintf("Error generating report: %v", err))
	}
	return Result{Output: "Report generated: " + r.reportPath, Executed: true}
}

// Findings returns copies of the findings and recommendations accumulated
// from every analysis so far.
func (r *Router) Findings() ([]analysis.Finding, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]analysis.Finding(nil), r.findings...), append([]string(nil), r.recommendations...)
}

func (r *Router) accumulate(rep analysis.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings = append(r.findings, rep.Findings...)
	for _, rec := range rep.Recommendations {
		if !r.seenRec[rec] {
			r.seenRec[rec] = true
			r.recommendations = append(r.recommendations, rec)
		}
	}
}

// record forwards an event to the logger. Errors and panics are swallowed.
func (r *Router) record(kind, command string, details map[string]interface{}) {
	if r.events == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("event logger panicked", map[string]interface{}{"kind": kind, "panic": fmt.Sprint(p)})
		}
	}()
	if err := r.events.LogEvent(kind, command, details); err != nil {
		r.logger.Debug("event logging failed", map[string]interface{}{"kind": kind, "error": err.Error()})
	}
}

func metaDetails(req Request, extra map[string]interface{}) map[string]interface{} {
	d := map[string]interface{}{"kind": req.Kind.String()}
	if req.Meta.Phase != "" {
		d["phase"] = req.Meta.Phase
	}
	if req.Meta.Category != "" {
		d["tool_category"] = req.Meta.Category
	}
	if req.Meta.ExpectedOutcome != "" {
		d["expected_outcome"] = req.Meta.ExpectedOutcome
	}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

func marshal(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

func executiveSummary(findings []analysis.Finding) string {
	if len(findings) == 0 {
		return ""
	}
	return fmt.Sprintf("Automated assessment recorded %d findings from %d tools.", len(findings), len(toolsUsed(findings)))
}

// toolsUsed lists the tools that produced findings in first-seen order.
func toolsUsed(findings []analysis.Finding) []string {
	seen := make(map[string]bool)
	var tools []string
	for _, f := range findings {
		if f.Tool == "" || seen[f.Tool] {
			continue
		}
		seen[f.Tool] = true
		tools = append(tools, f.Tool)
	}
	return tools
}
