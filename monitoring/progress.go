package monitoring

import (
	"sync/atomic"
	"time"
)

// A ProgressBar counts the connections of a build. It is safe for use by
// several workers at once.
type ProgressBar struct {
	id    string
	name  string
	start time.Time
	total uint64

	inProgress atomic.Uint64
	finished   atomic.Uint64
	failed     atomic.Uint64
}

// ProgressBarSnapshot is the state of a progress bar at one point in time.
type ProgressBarSnapshot struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
	Failed     uint64    `json:"failed"`
}

// ID returns the unique id of the bar.
func (b *ProgressBar) ID() string {
	return b.id
}

// Begin marks one connection as being made.
func (b *ProgressBar) Begin() {
	b.inProgress.Add(1)
}

// Finish marks a connection started with Begin as made.
func (b *ProgressBar) Finish() {
	b.inProgress.Add(^uint64(0))
	b.finished.Add(1)
}

// Fail marks a connection started with Begin as refused.
func (b *ProgressBar) Fail() {
	b.inProgress.Add(^uint64(0))
	b.failed.Add(1)
}

// Snapshot copies the counters.
func (b *ProgressBar) Snapshot() ProgressBarSnapshot {
	return ProgressBarSnapshot{
		ID:         b.id,
		Name:       b.name,
		StartTime:  b.start,
		ElapsedMS:  time.Since(b.start).Milliseconds(),
		Total:      b.total,
		Finished:   b.finished.Load(),
		InProgress: b.inProgress.Load(),
		Failed:     b.failed.Load(),
	}
}
