package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cmdexporter/internal/task/engine"
	logx "cmdexporter/pkg/logx"
)

// New validates jobs and returns a scheduler bound to disp. The job list is fixed for the
// lifetime of the Service.
func New(jobs []Job, disp engine.Dispatcher, log logx.Logger, opts ...Option) (*Service, error) {
	if disp == nil {
		return nil, fmt.Errorf("scheduler: dispatcher is nil")
	}
	for i, j := range jobs {
		if strings.TrimSpace(j.Name) == "" {
			return nil, fmt.Errorf("jobs[%d]: %w", i, ErrNoJobName)
		}
		if j.Every <= 0 {
			return nil, fmt.Errorf("jobs[%d] %q: %w", i, j.Name, ErrInvalidInterval)
		}
		if j.Run == nil {
			return nil, fmt.Errorf("jobs[%d] %q: %w", i, j.Name, ErrNoJobRun)
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		jobs:        append([]Job(nil), jobs...),
		disp:        disp,
		log:         log,
		clock:       wallClock{},
		state:       make([]jobState, len(jobs)),
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Run drives the loop until ctx is canceled. It returns nil on cancellation.
func (s *Service) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		s.log.Info("no jobs configured, scheduler idle")
		<-ctx.Done()
		return nil
	}

	remaining := make([]time.Duration, len(s.jobs))
	for i, j := range s.jobs {
		remaining[i] = j.Every
	}
	last := s.clock.Now()
	s.markDue(last, remaining)
	s.log.Info("scheduler started", logx.Int("jobs", len(s.jobs)))

	for {
		idx := nextDue(remaining)
		if err := s.clock.Sleep(ctx, remaining[idx]); err != nil {
			s.log.Info("scheduler stopped")
			return nil
		}

		s.fire(idx)

		now := s.clock.Now()
		elapsed := now.Sub(last)
		last = now
		for i := range remaining {
			if i == idx {
				continue
			}
			remaining[i] -= elapsed
			if remaining[i] < 0 {
				remaining[i] = 0
			}
		}
		remaining[idx] = s.jobs[idx].Every
		s.markDue(now, remaining)
	}
}

// nextDue returns the index with the smallest remaining duration; ties go to the lowest index.
func nextDue(remaining []time.Duration) int {
	idx := 0
	for i := 1; i < len(remaining); i++ {
		if remaining[i] < remaining[idx] {
			idx = i
		}
	}
	return idx
}

func (s *Service) fire(idx int) {
	j := s.jobs[idx]
	err := s.disp.Dispatch(engine.Task{Name: j.Name, Run: j.Run})

	s.mu.Lock()
	st := &s.state[idx]
	st.fires++
	st.lastFired = s.clock.Now()
	if err != nil {
		st.dispErrors++
	}
	s.mu.Unlock()

	if err != nil {
		s.reportDispatchError(j.Name, err)
	}
}

func (s *Service) markDue(now time.Time, remaining []time.Duration) {
	s.mu.Lock()
	for i, r := range remaining {
		s.state[i].nextDue = now.Add(r)
	}
	s.mu.Unlock()
}

const dispatchWarnThrottle = 5 * time.Second

func (s *Service) reportDispatchError(name string, err error) {
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < dispatchWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("job dispatch failed", logx.String("job", name), logx.Err(err))
}
