// Package scheduler drives periodic targets on independent intervals.
//
// A single loop owns a table of remaining durations, sleeps until the nearest entry is
// due, hands the job to a Dispatcher and credits the elapsed time to every other entry.
// Execution itself happens in internal/task/engine.
package scheduler
