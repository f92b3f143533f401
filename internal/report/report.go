// Package report defines the run report: the artifact a downstream notifier
// or dashboard consumes after a pipeline run. It is deliberately free of any
// engine internals so that it can be serialized and served as-is.
package report

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal (or in-flight) state of a run or job instance.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// StepResult records the outcome of a single step. Written once by the step
// runner, read by downstream reporting.
type StepResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
	// Ignored marks a failure that was suppressed by ignore_failure.
	Ignored bool `json:"ignored,omitempty"`
}

// Instance is the archived record of one JobInstance.
type Instance struct {
	ID         string            `json:"id"`
	Job        string            `json:"job"`
	Matrix     map[string]string `json:"matrix,omitempty"`
	Status     Status            `json:"status"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
	Steps      []StepResult      `json:"steps,omitempty"`
	// Reason carries the first failing step's output, a gate failure
	// description, or the upstream job that caused a skip.
	Reason string `json:"reason,omitempty"`
}

// Run is the complete report for one pipeline run.
type Run struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Event      string     `json:"event"`
	Branch     string     `json:"branch,omitempty"`
	SHA        string     `json:"sha,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Instances  []Instance `json:"instances"`
}

// NewRun creates a run report shell with a fresh ID.
func NewRun(event, branch, sha string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		Event:     event,
		Branch:    branch,
		SHA:       sha,
		StartedAt: time.Now().UTC(),
	}
}

// Finalize computes the overall run status from the archived instances.
// Failure wins over success; cancellation supersedes both for reporting.
func (r *Run) Finalize() {
	r.FinishedAt = time.Now().UTC()
	status := StatusSuccess
	for _, inst := range r.Instances {
		if inst.Status == StatusFailure {
			status = StatusFailure
		}
	}
	for _, inst := range r.Instances {
		if inst.Status == StatusCancelled {
			status = StatusCancelled
			break
		}
	}
	r.Status = status
}

// JSON renders the report as indented JSON.
func (r *Run) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
