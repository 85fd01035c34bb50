// Package jobs runs long operations in the background and keeps their
// status and progress messages queryable by key.
package jobs

import (
	"context"
	"time"
)

// Job is a unit of background work.
type Job interface {
	// Type returns the job type identifier (e.g. "annotate_gloss").
	Type() string

	// Execute runs the job. It should respect context cancellation and
	// report progress with Report.
	Execute(ctx context.Context) error
}

// Func adapts a function to Job.
type Func struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Type implements Job.
func (f Func) Type() string { return f.Name }

// Execute implements Job.
func (f Func) Execute(ctx context.Context) error { return f.Fn(ctx) }

// Status represents the current state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Done reports whether the status is final.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Record is the observable state of one job.
type Record struct {
	ID          string     `json:"id"`
	JobType     string     `json:"job_type"`
	Key         string     `json:"key"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	// ErrorKind classifies Error (see clerr.Kind).
	ErrorKind string    `json:"error_kind,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
}

// Message is one progress report.
type Message struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

type reporterKey struct{}

// WithReporter returns a context whose Report calls go to fn.
func WithReporter(ctx context.Context, fn func(msg string)) context.Context {
	return context.WithValue(ctx, reporterKey{}, fn)
}

// Report sends a progress message to the job running under ctx. It does
// nothing outside a job.
func Report(ctx context.Context, msg string) {
	if fn, ok := ctx.Value(reporterKey{}).(func(string)); ok && fn != nil {
		fn(msg)
	}
}
