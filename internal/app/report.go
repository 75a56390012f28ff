package app

import (
	"time"
)

// TaskReport is the outcome of one maintenance task within a tick.
type TaskReport struct {
	Name     string
	Checked  int
	Changed  int // Closes, fills, updates, deliveries: whatever the task mutates
	Errors   int
	Err      error // Task-level failure; per-entity failures only count in Errors
	Duration time.Duration
}

// TickReport summarizes one maintenance tick.
type TickReport struct {
	StartedAt time.Time
	Skipped   bool // Previous tick still running
	Tasks     []TaskReport
}

// Notable reports whether the tick did something worth a summary line.
func (r TickReport) Notable() bool {
	for _, t := range r.Tasks {
		if t.Changed > 0 || t.Errors > 0 || t.Err != nil {
			return true
		}
	}
	return false
}

// Task returns the report of the named task.
func (r TickReport) Task(name string) (TaskReport, bool) {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskReport{}, false
}

// fields flattens the report for a log line.
func (r TickReport) fields() map[string]interface{} {
	f := map[string]interface{}{"op": "tick"}
	for _, t := range r.Tasks {
		f[t.Name+"_checked"] = t.Checked
		f[t.Name+"_changed"] = t.Changed
		if t.Errors > 0 {
			f[t.Name+"_errors"] = t.Errors
		}
	}
	return f
}

// ScanReport summarizes one signal scan across users.
type ScanReport struct {
	StartedAt time.Time
	Skipped   bool
	Users     int
	Symbols   int
	Signals   int
	Executed  int
	Skips     int // Business-rule skips at execution
	Deferred  int // Auto-mode signals left pending after a failed execution
	Errors    int
}
