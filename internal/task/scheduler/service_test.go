package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cmdexporter/internal/task/engine"
	logx "cmdexporter/pkg/logx"
)

// fakeClock advances virtual time by exactly the requested sleep plus overhead.
type fakeClock struct {
	mu       sync.Mutex
	now      time.Time
	overhead time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d + c.overhead)
	c.mu.Unlock()
	return nil
}

type fired struct {
	name string
	at   time.Duration
}

// recorder is a Dispatcher that records fire times and cancels after limit fires.
type recorder struct {
	clock  *fakeClock
	start  time.Time
	limit  int
	cancel context.CancelFunc
	err    error

	mu    sync.Mutex
	fires []fired
}

func (r *recorder) Dispatch(t engine.Task) error {
	r.mu.Lock()
	r.fires = append(r.fires, fired{name: t.Name, at: r.clock.Now().Sub(r.start)})
	n := len(r.fires)
	r.mu.Unlock()
	if n >= r.limit {
		r.cancel()
	}
	return r.err
}

func noop(context.Context) error { return nil }

func runUntil(t *testing.T, jobs []Job, limit int, overhead time.Duration, dispErr error) (*Service, []fired) {
	t.Helper()
	clock := newFakeClock()
	clock.overhead = overhead
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{clock: clock, start: clock.Now(), limit: limit, cancel: cancel, err: dispErr}
	s, err := New(jobs, rec, logx.Nop(), WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	return s, rec.fires
}

func TestFiringOrder(t *testing.T) {
	jobs := []Job{
		{Name: "a", Every: 2 * time.Second, Run: noop},
		{Name: "b", Every: 3 * time.Second, Run: noop},
	}
	_, got := runUntil(t, jobs, 6, 0, nil)

	want := []fired{
		{"a", 2 * time.Second},
		{"b", 3 * time.Second},
		{"a", 4 * time.Second},
		{"a", 6 * time.Second}, // tie at 6s: lower index first
		{"b", 6 * time.Second},
		{"a", 8 * time.Second},
	}
	if len(got) != len(want) {
		t.Fatalf("fires = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fire[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEveryJobFiresWithinItsInterval(t *testing.T) {
	jobs := []Job{
		{Name: "fast", Every: 2 * time.Second, Run: noop},
		{Name: "mid", Every: 3 * time.Second, Run: noop},
		{Name: "slow", Every: 7 * time.Second, Run: noop},
		{Name: "odd", Every: 1500 * time.Millisecond, Run: noop},
	}
	_, got := runUntil(t, jobs, 200, 0, nil)

	every := map[string]time.Duration{}
	for _, j := range jobs {
		every[j.Name] = j.Every
	}
	prev := map[string]time.Duration{}
	for _, f := range got {
		gap := f.at - prev[f.name]
		if gap > every[f.name] {
			t.Fatalf("%s fired %v after previous, interval %v", f.name, gap, every[f.name])
		}
		prev[f.name] = f.at
	}
	for _, j := range jobs {
		if _, ok := prev[j.Name]; !ok {
			t.Fatalf("job %s never fired", j.Name)
		}
	}
}

func TestElapsedTimeIsCreditedToOtherJobs(t *testing.T) {
	jobs := []Job{
		{Name: "a", Every: 2 * time.Second, Run: noop},
		{Name: "b", Every: 5 * time.Second, Run: noop},
	}
	// Every sleep overshoots by 100ms.
	_, got := runUntil(t, jobs, 3, 100*time.Millisecond, nil)

	want := []fired{
		{"a", 2100 * time.Millisecond},
		{"a", 4200 * time.Millisecond},
		{"b", 5100 * time.Millisecond},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fire[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDispatchErrorsDoNotStopLoop(t *testing.T) {
	jobs := []Job{{Name: "a", Every: time.Second, Run: noop}}
	s, got := runUntil(t, jobs, 5, 0, engine.ErrSaturated)
	if len(got) != 5 {
		t.Fatalf("fires = %d, want 5", len(got))
	}
	snap := s.Snapshot()
	if snap.Jobs[0].Fires != 5 || snap.Jobs[0].DispatchErrors != 5 {
		t.Fatalf("snapshot = %+v", snap.Jobs[0])
	}
}

func TestNoJobsIdlesUntilCanceled(t *testing.T) {
	s, err := New(nil, &recorder{}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-done:
		t.Fatal("Run returned before cancellation")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRejectsInvalidJobs(t *testing.T) {
	cases := []struct {
		name string
		job  Job
		want error
	}{
		{"no name", Job{Every: time.Second, Run: noop}, ErrNoJobName},
		{"zero interval", Job{Name: "a", Run: noop}, ErrInvalidInterval},
		{"negative interval", Job{Name: "a", Every: -time.Second, Run: noop}, ErrInvalidInterval},
		{"no run", Job{Name: "a", Every: time.Second}, ErrNoJobRun},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New([]Job{tc.job}, &recorder{}, logx.Nop())
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRunStopsOnCancelDuringSleep(t *testing.T) {
	jobs := []Job{{Name: "a", Every: time.Hour, Run: noop}}
	s, err := New(jobs, &recorder{limit: 1 << 30}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := s.Snapshot().Jobs[0].Fires; got != 0 {
		t.Fatalf("fires = %d, want 0", got)
	}
}
