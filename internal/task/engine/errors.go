package engine

import "errors"

var (
	ErrStopped   = errors.New("task engine stopped")
	ErrSaturated = errors.New("task engine at max concurrency")
	ErrNoRun     = errors.New("task Run is nil")
	ErrNoName    = errors.New("task Name is required")
)
