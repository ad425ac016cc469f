package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	rtsup "cmdexporter/internal/runtime/supervisor"
	logx "cmdexporter/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is the default Dispatcher.
//
// Every dispatched task runs on its own supervised goroutine. With MaxConcurrency > 0
// a semaphore caps in-flight runs; a saturated engine drops new runs.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	sup     *rtsup.Supervisor
	permits *semaphore

	inFlight   atomic.Int64
	dispatched atomic.Uint64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
	panics     atomic.Uint64
	dropped    atomic.Uint64

	hmu     sync.Mutex
	history *queue.Queue // of HistoryItem, oldest first

	lastDropWarnAt atomic.Int64

	// onFinish is an optional hook called after every run. Used for self-metrics.
	onFinish func(name string, dur time.Duration, err error)
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.MaxConcurrency < 0 {
		cfg.MaxConcurrency = 0
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, history: queue.New()}
}

// OnFinish installs a hook called after every run completes.
// Must be called before Start.
func (s *Service) OnFinish(fn func(name string, dur time.Duration, err error)) {
	s.mu.Lock()
	s.onFinish = fn
	s.mu.Unlock()
}

// Supervisor returns the engine's supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// A failing run must never take the process down.
		rtsup.WithCancelOnError(false),
	)
	if s.cfg.MaxConcurrency > 0 {
		s.permits = newSemaphore(s.cfg.MaxConcurrency)
	}
	mode := "unbounded"
	if s.permits != nil {
		mode = "bounded"
	}
	s.log.Info("task engine started", logx.String("mode", mode), logx.Int("max_concurrency", s.cfg.MaxConcurrency))
}

// Stop cancels in-flight runs and waits for them until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop timed out", logx.Int64("in_flight", s.inFlight.Load()))
		return
	}
	s.log.Info("task engine stopped")
}

// Dispatch starts t asynchronously and returns immediately.
func (s *Service) Dispatch(t Task) error {
	if t.Run == nil {
		return ErrNoRun
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return ErrNoName
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return ErrStopped
	}

	release := func() {}
	if s.permits != nil {
		if !s.permits.tryAcquire() {
			s.onDropped(t)
			return ErrSaturated
		}
		release = s.permits.release
	}

	s.dispatched.Add(1)
	s.inFlight.Add(1)
	hook := s.onFinish
	// Hold mu while spawning so Stop cannot start waiting before the goroutine is tracked.
	s.sup.Go0(t.Name, func(ctx context.Context) {
		defer s.inFlight.Add(-1)
		defer release()
		s.execOne(ctx, t, hook)
	})
	return nil
}

func (s *Service) execOne(ctx context.Context, t Task, hook func(string, time.Duration, error)) {
	start := time.Now()
	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("id", t.ID))

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.panics.Add(1)
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = t.Run(ctx)
	}()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.failed.Add(1)
		s.log.Debug("task.failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur))
	} else {
		s.succeeded.Add(1)
		s.log.Debug("task.completed", logx.String("task", t.Name), logx.Duration("dur", dur))
	}
	if hook != nil {
		hook(t.Name, dur, err)
	}
	s.appendHistory(item)
}

func (s *Service) appendHistory(item HistoryItem) {
	s.hmu.Lock()
	s.history.Add(item)
	for s.history.Length() > s.cfg.HistorySize {
		s.history.Remove()
	}
	s.hmu.Unlock()
}

func (s *Service) onDropped(t Task) {
	s.dropped.Add(1)
	now := time.Now().UnixNano()
	prev := s.lastDropWarnAt.Load()
	if prev != 0 && now-prev < int64(warnThrottleEvery) {
		return
	}
	if s.lastDropWarnAt.CompareAndSwap(prev, now) {
		s.log.Warn("task dropped: engine saturated",
			logx.String("task", t.Name),
			logx.Int("max_concurrency", s.cfg.MaxConcurrency),
			logx.Uint64("dropped", s.dropped.Load()),
		)
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.sup != nil
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, 0, s.history.Length())
	for i := 0; i < s.history.Length(); i++ {
		h = append(h, s.history.Get(i).(HistoryItem))
	}
	s.hmu.Unlock()

	return Snapshot{
		Running:        running,
		MaxConcurrency: s.cfg.MaxConcurrency,
		InFlight:       s.inFlight.Load(),
		Dispatched:     s.dispatched.Load(),
		Succeeded:      s.succeeded.Load(),
		Failed:         s.failed.Load(),
		Panics:         s.panics.Load(),
		Dropped:        s.dropped.Load(),
		History:        h,
	}
}
