package exposition

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cmdexporter/internal/metrics"
	logx "cmdexporter/pkg/logx"
)

func seededStore(t *testing.T) *metrics.Store {
	t.Helper()
	st := metrics.NewStore()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(st.Record(metrics.LabelSet{{Name: "name", Value: "disk_free"}, {Name: "exit_code", Value: "0"}}, 83.2, 12*time.Millisecond))
	must(st.Record(metrics.LabelSet{{Name: "name", Value: "temp"}, {Name: "exit_code", Value: "0"}, {Name: "zone", Value: "cpu"}}, 41, 3*time.Millisecond))
	return st
}

func newTestRouter(t *testing.T, rt Routes) http.Handler {
	t.Helper()
	if rt.Gatherer == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(NewCollector(seededStore(t)))
		rt.Gatherer = reg
	}
	return NewRouter(rt, logx.Nop())
}

func get(t *testing.T, h http.Handler, path string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	res := rec.Result()
	body, _ := io.ReadAll(res.Body)
	return res, string(body)
}

func TestMetricsRendersSamples(t *testing.T) {
	t.Parallel()
	res, body := get(t, newTestRouter(t, Routes{}), "/metrics")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	for _, want := range []string{
		"# TYPE last_result gauge",
		"# TYPE last_duration gauge",
		`last_result{exit_code="0",name="disk_free"} 83.2`,
		`last_duration{exit_code="0",name="disk_free"} 12`,
		`last_result{exit_code="0",name="temp",zone="cpu"} 41`,
		`last_duration{exit_code="0",name="temp",zone="cpu"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestMetricsEmptyStore(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(metrics.NewStore()))
	res, body := get(t, newTestRouter(t, Routes{Gatherer: reg}), "/metrics")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if strings.Contains(body, "last_result") {
		t.Fatalf("unexpected samples:\n%s", body)
	}
}

func TestSelfMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	sm := NewSelfMetrics(reg, Gauges{
		InFlight: func() float64 { return 2 },
		Series:   func() float64 { return 7 },
		Refused:  func() float64 { return 1 },
		Dropped:  func() float64 { return 0 },
	})
	sm.ObserveRun("disk_free", 20*time.Millisecond, nil)
	sm.ObserveRun("disk_free", 20*time.Millisecond, errors.New("boom"))
	sm.ObserveRun("disk_free", 20*time.Millisecond, nil)

	_, body := get(t, newTestRouter(t, Routes{Gatherer: reg}), "/metrics")
	for _, want := range []string{
		`cmdexporter_runs_total{outcome="success",target="disk_free"} 2`,
		`cmdexporter_runs_total{outcome="failure",target="disk_free"} 1`,
		`cmdexporter_run_duration_seconds_count{target="disk_free"} 3`,
		"cmdexporter_inflight_runs 2",
		"cmdexporter_series 7",
		"cmdexporter_series_refused_total 1",
		"cmdexporter_runs_dropped_total 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	res, body := get(t, newTestRouter(t, Routes{}), "/healthz")
	if res.StatusCode != http.StatusOK || body != "ok" {
		t.Fatalf("status = %d body = %q", res.StatusCode, body)
	}
}

func TestDebugRuns(t *testing.T) {
	t.Parallel()
	h := newTestRouter(t, Routes{Debug: func() any { return map[string]int{"in_flight": 3} }})
	res, body := get(t, h, "/debug/runs")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var got map[string]int
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, body)
	}
	if got["in_flight"] != 3 {
		t.Fatalf("got %v", got)
	}

	res, _ = get(t, newTestRouter(t, Routes{}), "/debug/runs")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("debug route without handler: status = %d", res.StatusCode)
	}
}

func TestPprofToggle(t *testing.T) {
	t.Parallel()
	res, _ := get(t, newTestRouter(t, Routes{Pprof: true}), "/debug/pprof/")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pprof enabled: status = %d", res.StatusCode)
	}
	res, _ = get(t, newTestRouter(t, Routes{}), "/debug/pprof/")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("pprof disabled: status = %d", res.StatusCode)
	}
}

func TestServerLifecycle(t *testing.T) {
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, newTestRouter(t, Routes{}), logx.Nop())
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("no bound address after Listen")
	}
	srv.Start(context.Background())

	var (
		res *http.Response
		err error
	)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Stop(ctx)
	if srv.Supervisor() != nil {
		t.Fatal("supervisor still set after Stop")
	}
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatal("server still answering after Stop")
	}
}

func TestListenReportsBindError(t *testing.T) {
	first := NewServer(Config{Addr: "127.0.0.1:0"}, http.NotFoundHandler(), logx.Nop())
	if err := first.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer first.Stop(context.Background())

	second := NewServer(Config{Addr: first.Addr()}, http.NotFoundHandler(), logx.Nop())
	if err := second.Listen(); err == nil {
		second.Stop(context.Background())
		t.Fatal("expected bind error on a used port")
	}
}
