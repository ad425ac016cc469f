package engine

import (
	"context"
	"time"
)

// Config controls the dispatch engine.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrency: 0 (unbounded, one goroutine per dispatched run)
//   - history_size: 100
type Config struct {
	// MaxConcurrency bounds in-flight runs. 0 keeps the unbounded fire-and-forget model.
	// When bounded and saturated, Dispatch drops the run instead of blocking the caller.
	MaxConcurrency int
	HistorySize    int
}

// Task is a unit of work executed by the engine.
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher runs tasks asynchronously. Dispatch must never block on task execution.
type Dispatcher interface {
	Dispatch(t Task) error
}

type HistoryItem struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running        bool          `json:"running"`
	MaxConcurrency int           `json:"max_concurrency"`
	InFlight       int64         `json:"in_flight"`
	Dispatched     uint64        `json:"dispatched"`
	Succeeded      uint64        `json:"succeeded"`
	Failed         uint64        `json:"failed"`
	Panics         uint64        `json:"panics"`
	Dropped        uint64        `json:"dropped"`
	History        []HistoryItem `json:"history"`
}
