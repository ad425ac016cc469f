// Package runner executes one target: every sub-command is run, its output extracted, and
// the resulting observation recorded.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"cmdexporter/internal/executor"
	"cmdexporter/internal/extract"
	"cmdexporter/internal/metrics"
	"cmdexporter/internal/target"
	logx "cmdexporter/pkg/logx"
)

// Recorder receives observations. *metrics.Store implements it.
type Recorder interface {
	Record(labels metrics.LabelSet, value float64, duration time.Duration) error
}

const (
	defaultWarnEvery = 10 * time.Second
	defaultWarnBurst = 3
)

type Option func(*Runner)

// WithExecutor makes every target run through e, ignoring per-target timeouts.
func WithExecutor(e executor.Executor) Option {
	return func(r *Runner) {
		if e != nil {
			r.execFor = func(*target.Target) executor.Executor { return e }
		}
	}
}

// WithWarnRate sets how often failure warnings are emitted per target.
func WithWarnRate(every time.Duration, burst int) Option {
	return func(r *Runner) {
		if every > 0 {
			r.warnEvery = every
		}
		if burst > 0 {
			r.warnBurst = burst
		}
	}
}

type Runner struct {
	rec       Recorder
	log       logx.Logger
	execFor   func(*target.Target) executor.Executor
	warnEvery time.Duration
	warnBurst int

	mu       sync.Mutex
	throttle map[string]*warnGate
}

type warnGate struct {
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

func New(rec Recorder, log logx.Logger, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		rec: rec,
		log: log,
		execFor: func(t *target.Target) executor.Executor {
			return executor.Shell{Timeout: t.Timeout}
		},
		warnEvery: defaultWarnEvery,
		warnBurst: defaultWarnBurst,
		throttle:  map[string]*warnGate{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Job returns the unit of work the scheduler dispatches for t.
func (r *Runner) Job(t *target.Target) func(ctx context.Context) error {
	return func(ctx context.Context) error { return r.Run(ctx, t) }
}

// Run executes every sub-command of t in order. A failing sub-command does not stop its
// siblings; the joined error reports all failures.
func (r *Runner) Run(ctx context.Context, t *target.Target) error {
	ex := r.execFor(t)
	var errs []error
	for i, cmd := range t.Commands {
		if err := r.runOne(ctx, ex, t, i, cmd); err != nil {
			errs = append(errs, fmt.Errorf("commands[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) runOne(ctx context.Context, ex executor.Executor, t *target.Target, idx int, cmd target.SubCommand) error {
	res, err := ex.Run(ctx, cmd.Exec)
	if err != nil {
		r.warn(t.Name, "command failed",
			logx.String("target", t.Name),
			logx.Int("command", idx),
			logx.String("exec", cmd.Exec),
			logx.Duration("dur", res.Duration),
			logx.Err(err),
		)
		return err
	}

	if !t.IsSuccess(res.ExitCode) {
		r.log.Debug("command exited with unexpected code",
			logx.String("target", t.Name),
			logx.Int("command", idx),
			logx.Int("exit_code", res.ExitCode),
			logx.String("stderr", string(res.Stderr)),
		)
	}

	obs, err := extract.Extract(t, cmd, extract.Outcome{
		Stdout:   res.Stdout,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
	})
	if err != nil {
		r.warn(t.Name, "could not extract value",
			logx.String("target", t.Name),
			logx.Int("command", idx),
			logx.Int("exit_code", res.ExitCode),
			logx.String("stdout", string(res.Stdout)),
			logx.Err(err),
		)
		return err
	}

	if err := r.rec.Record(obs.Labels, obs.Value, obs.Duration); err != nil {
		r.warn(t.Name, "observation refused",
			logx.String("target", t.Name),
			logx.Int("command", idx),
			logx.Err(err),
		)
		return err
	}

	r.log.Trace("observation recorded",
		logx.String("target", t.Name),
		logx.Int("command", idx),
		logx.Float64("value", obs.Value),
		logx.Duration("dur", obs.Duration),
	)
	return nil
}

// warn logs at most warnBurst messages per warnEvery for one target. Suppressed messages
// are counted and reported with the next one that gets through.
func (r *Runner) warn(name, msg string, fields ...logx.Field) {
	g := r.gate(name)
	if !g.lim.Allow() {
		g.suppressed.Add(1)
		return
	}
	if n := g.suppressed.Swap(0); n > 0 {
		fields = append(fields, logx.Uint64("suppressed", n))
	}
	r.log.Warn(msg, fields...)
}

func (r *Runner) gate(name string) *warnGate {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.throttle[name]
	if g == nil {
		g = &warnGate{lim: rate.NewLimiter(rate.Every(r.warnEvery), r.warnBurst)}
		r.throttle[name] = g
	}
	return g
}
