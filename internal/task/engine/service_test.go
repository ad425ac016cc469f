package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "cmdexporter/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatchBeforeStart(t *testing.T) {
	s := New(Config{}, logx.Nop())
	err := s.Dispatch(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestDispatchValidation(t *testing.T) {
	s := startEngine(t, Config{})
	if err := s.Dispatch(Task{Name: "x"}); !errors.Is(err, ErrNoRun) {
		t.Fatalf("err = %v, want ErrNoRun", err)
	}
	if err := s.Dispatch(Task{Name: "  ", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrNoName) {
		t.Fatalf("err = %v, want ErrNoName", err)
	}
}

func TestUnboundedRunsOverlap(t *testing.T) {
	s := startEngine(t, Config{})

	// Both runs must be in flight at once for either to finish.
	var wg sync.WaitGroup
	wg.Add(2)
	gate := make(chan struct{})
	run := func(ctx context.Context) error {
		wg.Done()
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for i := 0; i < 2; i++ {
		if err := s.Dispatch(Task{Name: "slow", Run: run}); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	wg.Wait()
	close(gate)

	waitFor(t, func() bool { return s.Snapshot().Succeeded == 2 })
	if got := s.Snapshot().InFlight; got != 0 {
		t.Fatalf("in flight = %d, want 0", got)
	}
}

func TestBoundedDropsWhenSaturated(t *testing.T) {
	s := startEngine(t, Config{MaxConcurrency: 1})

	started := make(chan struct{})
	gate := make(chan struct{})
	err := s.Dispatch(Task{Name: "hold", Run: func(ctx context.Context) error {
		close(started)
		<-gate
		return nil
	}})
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	<-started

	err = s.Dispatch(Task{Name: "extra", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrSaturated) {
		t.Fatalf("err = %v, want ErrSaturated", err)
	}
	close(gate)

	waitFor(t, func() bool { return s.Snapshot().InFlight == 0 })
	if err := s.Dispatch(Task{Name: "after", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("dispatch after release: %v", err)
	}
	if got := s.Snapshot().Dropped; got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestPanicIsRecoveredAndRecorded(t *testing.T) {
	s := startEngine(t, Config{})

	var mu sync.Mutex
	var hookErr error
	s.OnFinish(func(name string, dur time.Duration, err error) {
		mu.Lock()
		hookErr = err
		mu.Unlock()
	})

	if err := s.Dispatch(Task{Name: "boom", Run: func(context.Context) error { panic("bad") }}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitFor(t, func() bool { return s.Snapshot().Failed == 1 })

	snap := s.Snapshot()
	if snap.Panics != 1 {
		t.Fatalf("panics = %d, want 1", snap.Panics)
	}
	if len(snap.History) != 1 || snap.History[0].Error == "" || snap.History[0].ID == "" {
		t.Fatalf("history = %+v", snap.History)
	}
	mu.Lock()
	defer mu.Unlock()
	if hookErr == nil {
		t.Fatal("hook did not receive the panic error")
	}
}

func TestHistoryIsTrimmed(t *testing.T) {
	s := startEngine(t, Config{HistorySize: 3})
	for i := 0; i < 5; i++ {
		if err := s.Dispatch(Task{Name: "quick", Run: func(context.Context) error { return nil }}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	waitFor(t, func() bool { return s.Snapshot().Succeeded == 5 })
	if got := len(s.Snapshot().History); got != 3 {
		t.Fatalf("history len = %d, want 3", got)
	}
}

func TestStopCancelsInFlight(t *testing.T) {
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())

	started := make(chan struct{})
	if err := s.Dispatch(Task{Name: "wait", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if got := s.Snapshot().InFlight; got != 0 {
		t.Fatalf("in flight = %d, want 0", got)
	}
	if s.Snapshot().Running {
		t.Fatal("engine still reports running")
	}
}
