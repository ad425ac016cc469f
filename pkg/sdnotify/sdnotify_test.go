package sdnotify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "cmdexporter/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func newTestNotifier(enabled bool, wd time.Duration, wdErr error) (*Notifier, *recorder) {
	rec := &recorder{}
	n := New(enabled, logx.Nop())
	n.notify = rec.notify
	n.watchdog = func() (time.Duration, error) { return wd, wdErr }
	return n, rec
}

func TestReadyAndStopping(t *testing.T) {
	n, rec := newTestNotifier(true, 0, nil)
	n.Ready()
	n.Status("serving")
	n.Stopping()
	if rec.count("READY=1") != 1 || rec.count("STOPPING=1") != 1 || rec.count("STATUS=serving") != 1 {
		t.Fatalf("states = %v", rec.states)
	}
}

func TestDisabledSendsNothing(t *testing.T) {
	n, rec := newTestNotifier(false, 10*time.Millisecond, nil)
	n.Ready()
	if err := n.RunWatchdog(context.Background()); err != nil {
		t.Fatalf("RunWatchdog: %v", err)
	}
	if len(rec.states) != 0 {
		t.Fatalf("states = %v, want none", rec.states)
	}
}

func TestWatchdogPings(t *testing.T) {
	n, rec := newTestNotifier(true, 20*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := n.RunWatchdog(ctx); err != nil {
		t.Fatalf("RunWatchdog: %v", err)
	}
	if got := rec.count("WATCHDOG=1"); got < 2 {
		t.Fatalf("watchdog pings = %d, want >= 2", got)
	}
}

func TestWatchdogNotConfiguredReturns(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{{"unset", nil}, {"error", errors.New("bad WATCHDOG_USEC")}} {
		t.Run(tc.name, func(t *testing.T) {
			n, _ := newTestNotifier(true, 0, tc.err)
			done := make(chan struct{})
			go func() {
				_ = n.RunWatchdog(context.Background())
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("RunWatchdog blocked without a watchdog")
			}
		})
	}
}
