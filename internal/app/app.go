package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cmdexporter/internal/config"
	"cmdexporter/internal/exposition"
	"cmdexporter/internal/metrics"
	"cmdexporter/internal/runner"
	rtsup "cmdexporter/internal/runtime/supervisor"
	"cmdexporter/internal/target"
	"cmdexporter/internal/task/engine"
	"cmdexporter/internal/task/scheduler"
	"cmdexporter/pkg/sdnotify"
	logx "cmdexporter/pkg/logx"
)

// Options come from the command line.
type Options struct {
	// ConfigPath is the config file. Empty means discover it.
	ConfigPath string
	Overrides  config.Overrides
	// LogLevel overrides logging.level when set.
	LogLevel string
}

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	targets []*target.Target
	store   *metrics.Store
	engine  *engine.Service
	sched   *scheduler.Service
	server  *exposition.Server
	notify  *sdnotify.Notifier
}

func New(opts Options) (*App, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		p, err := config.Discover()
		if err != nil {
			return nil, fmt.Errorf("%w (looked in %s)", err, strings.Join(config.CandidatePaths(), ", "))
		}
		path = p
	}

	cfgm := config.NewConfigManager(path)
	cfgm.SetOverrides(opts.Overrides)
	cfgm.SetLogger(logx.NewConsole("warn").With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	logCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if lvl := strings.TrimSpace(opts.LogLevel); lvl != "" {
		logCfg.Level = lvl
	}
	logSvc, log := logx.New(logCfg)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	appLog := log.With(logx.String("comp", "app"))
	appLog.Info("config loaded", logx.String("path", path), logx.Int("targets", len(cfg.Targets)))

	targets, err := cfg.CompileTargets()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	timeouts, err := cfg.HTTP.Timeouts()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	store := metrics.NewStore(metrics.WithMaxSeries(cfg.Metrics.MaxSeries))
	engineSvc := engine.New(engine.Config{
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		HistorySize:    cfg.Engine.HistorySize,
	}, log.With(logx.String("comp", "taskengine")))

	run := runner.New(store, log.With(logx.String("comp", "runner")))
	jobs := make([]scheduler.Job, 0, len(targets))
	for _, t := range targets {
		jobs = append(jobs, scheduler.Job{Name: t.Name, Every: t.RunEvery, Run: run.Job(t)})
	}
	schedSvc, err := scheduler.New(jobs, engineSvc, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     appLog,
		logs:    logSvc,
		targets: targets,
		store:   store,
		engine:  engineSvc,
		sched:   schedSvc,
		notify:  sdnotify.New(cfg.Systemd.NotifyEnabled(), log.With(logx.String("comp", "systemd"))),
	}

	cfgm.OnChange(func(changed []string) {
		a.notify.Status("config changed on disk (" + strings.Join(changed, ", ") + "); restart required")
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		exposition.NewCollector(store),
	)
	self := exposition.NewSelfMetrics(reg, exposition.Gauges{
		InFlight: func() float64 { return float64(engineSvc.Snapshot().InFlight) },
		Series:   func() float64 { return float64(store.Len()) },
		Refused:  func() float64 { return float64(store.Refused()) },
		Dropped:  func() float64 { return float64(engineSvc.Snapshot().Dropped) },
	})
	engineSvc.OnFinish(self.ObserveRun)

	handler := exposition.NewRouter(exposition.Routes{
		Gatherer: reg,
		Debug:    a.debugSnapshot,
		Pprof:    cfg.HTTP.Pprof,
	}, log.With(logx.String("comp", "http")))
	a.server = exposition.NewServer(exposition.Config{
		Addr:         cfg.Addr(),
		ReadTimeout:  timeouts.Read,
		WriteTimeout: timeouts.Write,
		IdleTimeout:  timeouts.Idle,
	}, handler, log.With(logx.String("comp", "http")))

	return a, nil
}

// Addr returns the bound HTTP address once started.
func (a *App) Addr() string { return a.server.Addr() }

func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	// Bind first so a taken port fails startup instead of looping in the restart backoff.
	if err := a.server.Listen(); err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr(), err)
	}

	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	sctx := a.sup.Context()

	a.engine.Start(sctx)
	a.server.Start(sctx)
	a.sup.Go("scheduler", a.sched.Run)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", a.notify.RunWatchdog)

	a.notify.Ready()
	a.notify.Status(fmt.Sprintf("serving %d targets on %s", len(a.targets), a.server.Addr()))
	a.log.Info("started", logx.String("addr", a.server.Addr()), logx.Int("targets", len(a.targets)))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()

	// Cancel first so the scheduler stops dispatching immediately.
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("http", 2*time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	// In-flight runs are canceled with the engine context; their children are killed.
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// debugSnapshot is the /debug/runs body.
type debugSnapshot struct {
	Engine      engine.Snapshot                     `json:"engine"`
	Scheduler   scheduler.Snapshot                  `json:"scheduler"`
	Series      int                                 `json:"series"`
	Refused     uint64                              `json:"series_refused"`
	Supervisors map[string]rtsup.SupervisorSnapshot `json:"supervisors"`
}

func (a *App) debugSnapshot() any {
	sups := map[string]rtsup.SupervisorSnapshot{}
	if a.sup != nil {
		sups["app"] = a.sup.Snapshot()
	}
	if s := a.engine.Supervisor(); s != nil {
		sups["taskengine"] = s.Snapshot()
	}
	if s := a.server.Supervisor(); s != nil {
		sups["http"] = s.Snapshot()
	}
	return debugSnapshot{
		Engine:      a.engine.Snapshot(),
		Scheduler:   a.sched.Snapshot(),
		Series:      a.store.Len(),
		Refused:     a.store.Refused(),
		Supervisors: sups,
	}
}
