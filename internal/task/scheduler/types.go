package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"cmdexporter/internal/task/engine"
	logx "cmdexporter/pkg/logx"
)

var (
	ErrNoJobName       = errors.New("job name is required")
	ErrInvalidInterval = errors.New("interval must be > 0")
	ErrNoJobRun        = errors.New("job Run is nil")
)

// Job is one periodic unit of work.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Clock abstracts time for the loop. Sleep returns ctx.Err() when interrupted.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type Option func(*Service)

// WithClock replaces the wall clock. Tests use a fake.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

type Service struct {
	jobs  []Job
	disp  engine.Dispatcher
	log   logx.Logger
	clock Clock

	mu    sync.Mutex
	state []jobState

	// Dispatch error throttling, keyed by job name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type jobState struct {
	fires      uint64
	dispErrors uint64
	lastFired  time.Time
	nextDue    time.Time
}

// JobInfo is the debug view of one job.
type JobInfo struct {
	Name           string        `json:"name"`
	Every          time.Duration `json:"every"`
	Fires          uint64        `json:"fires"`
	DispatchErrors uint64        `json:"dispatch_errors"`
	LastFired      time.Time     `json:"last_fired,omitempty"`
	NextDue        time.Time     `json:"next_due,omitempty"`
}

type Snapshot struct {
	Jobs []JobInfo `json:"jobs"`
}
