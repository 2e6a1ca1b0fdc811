package main

import (
	"fmt"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/autopentest/internal/analysis"
	"github.com/vinayprograms/autopentest/internal/config"
	"github.com/vinayprograms/autopentest/internal/events"
	"github.com/vinayprograms/autopentest/internal/functions"
	"github.com/vinayprograms/autopentest/internal/installer"
	"github.com/vinayprograms/autopentest/internal/parallel"
	"github.com/vinayprograms/autopentest/internal/router"
	"github.com/vinayprograms/autopentest/internal/security"
	"github.com/vinayprograms/autopentest/internal/session"
	"github.com/vinayprograms/autopentest/internal/shell"
	"github.com/vinayprograms/autopentest/internal/task"
	"github.com/vinayprograms/autopentest/internal/terminal"
)

// runtime holds the components wired for one CLI invocation.
type runtime struct {
	cfg      *config.Config
	registry *task.Registry
	gate     *security.Gate
	tracker  *terminal.Tracker
	router   *router.Router
	recorder *session.Recorder
	logger   *logging.Logger

	// Cleanup
	closers []func()
}

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(opts Options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.Config != "" {
		cfg, err = config.LoadFile(opts.Config)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if opts.Mode != "" {
		cfg.Terminal.Mode = opts.Mode
	}
	if opts.Target != "" {
		cfg.Report.Target = opts.Target
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newGate builds the security gate from config.
func newGate(cfg *config.Config) *security.Gate {
	return security.NewGate(
		security.WithMaxLength(cfg.Security.MaxLength),
		security.WithMaxPipes(cfg.Security.MaxPipes),
	)
}

// newRuntime wires every component from cfg. name labels the session.
func newRuntime(cfg *config.Config, name string, recordSession bool) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		registry: task.NewRegistry(),
		gate:     newGate(cfg),
		logger:   logging.New().WithComponent("cli"),
	}

	analyzer := analysis.New()
	if cfg.Analysis.Rules != "" {
		a, err := analysis.LoadFile(cfg.Analysis.Rules)
		if err != nil {
			return nil, err
		}
		analyzer = a
	}

	launcher, err := terminal.NewLauncher(cfg.Terminal.Mode, cfg.Terminal.Emulators)
	if err != nil {
		return nil, err
	}
	rt.tracker = terminal.New(rt.registry, cfg.Executor.ResultsDir,
		terminal.WithTimeout(cfg.TerminalTimeout()),
		terminal.WithLauncher(launcher),
		terminal.WithAnalyzer(analyzer),
		terminal.WithWorkDir(cfg.Executor.WorkDir),
	)
	executor := parallel.New(rt.registry, cfg.Executor.ResultsDir,
		parallel.WithWorkDir(cfg.Executor.WorkDir),
		parallel.WithShell(cfg.Executor.Shell),
		parallel.WithBatchTimeout(cfg.BatchTimeout()),
	)
	runner := &shell.Runner{
		Shell:        cfg.Executor.Shell,
		Dir:          cfg.Executor.WorkDir,
		Timeout:      cfg.CommandTimeout(),
		SudoPassword: cfg.SudoPassword(),
	}

	var loggers events.Multi
	sessionID := ""
	if recordSession {
		store, err := session.NewFileStore(cfg.Session.Dir)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		rec, err := session.NewRecorder(store, name, cfg.Report.Target)
		if err != nil {
			return nil, err
		}
		rt.recorder = rec
		sessionID = rec.Session().ID
		loggers = append(loggers, rec)
	}
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.Subject, sessionID)
		if err != nil {
			rt.logger.Warn("event stream unavailable", map[string]interface{}{"url": cfg.Events.NATSURL, "error": err.Error()})
		} else {
			loggers = append(loggers, pub)
			rt.closers = append(rt.closers, pub.Close)
		}
	}

	opts := []router.Option{
		router.WithGate(rt.gate),
		router.WithExecutor(executor),
		router.WithTracker(rt.tracker),
		router.WithAnalyzer(analyzer),
		router.WithRunner(runner),
		router.WithFunctions(functions.Default()),
		router.WithInstaller(installer.New(runner)),
		router.WithReportPath(cfg.Report.Output),
		router.WithTarget(cfg.Report.Target),
		router.WithPollInterval(cfg.PollInterval()),
	}
	if len(loggers) > 0 {
		opts = append(opts, router.WithEventLogger(loggers))
	}
	rt.router = router.New(rt.registry, cfg.Executor.ResultsDir, opts...)
	return rt, nil
}

// close terminates tracked processes, removes wrapper scripts and closes
// the session with failure, if any.
func (rt *runtime) close(failure error) {
	var ids []string
	for _, t := range rt.registry.Active() {
		ids = append(ids, t.ID)
	}
	for _, t := range rt.registry.Completed() {
		ids = append(ids, t.ID)
	}
	rt.tracker.Cleanup(ids...)

	if rt.recorder != nil {
		if err := rt.recorder.Close(failure); err != nil {
			rt.logger.Warn("failed to close session", map[string]interface{}{"error": err.Error()})
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
