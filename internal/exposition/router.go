package exposition

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "cmdexporter/pkg/logx"
)

// Routes are the handlers the router mounts.
type Routes struct {
	Gatherer prometheus.Gatherer
	// Debug returns the JSON body for /debug/runs. Nil disables the route.
	Debug func() any
	// Pprof mounts /debug/pprof.
	Pprof bool
}

func NewRouter(rt Routes, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(middleware.Compress(5, "text/html", "application/json"))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>cmdexporter</title></head><body>` +
			`<h1>cmdexporter</h1><p><a href="/metrics">Metrics</a></p></body></html>`))
	})

	// promhttp negotiates its own gzip encoding.
	r.Handle("/metrics", promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if rt.Debug != nil {
		r.Get("/debug/runs", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rt.Debug()); err != nil {
				log.Warn("debug encode failed", logx.Err(err))
			}
		})
	}

	if rt.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// requestLogger logs every request at debug level.
func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !log.Enabled(logx.LevelDebug) {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("http request",
					logx.String("method", r.Method),
					logx.String("path", r.URL.Path),
					logx.Int("status", ww.Status()),
					logx.Int("bytes", ww.BytesWritten()),
					logx.String("remote", r.RemoteAddr),
					logx.Duration("dur", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
