// Package job implements the orchestration core: the persistent job
// store with compare-and-set lifecycle transitions, and the worker pool
// that executes tool invocations.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states with no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job represents one tracked invocation of a registered tool.
//
// Tool and Parameters are immutable after creation. Status, timestamps,
// Result and Error mutate only through the store's compare-and-set
// Transition, and only the executor drives a job out of queued.
type Job struct {
	ID          string          `json:"job_id"`
	Tool        string          `json:"tool"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Status      Status          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   ErrorCode       `json:"error_code,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// New creates a queued job for the named tool. The id is a fresh UUID;
// ids are never reused for the lifetime of a store.
func New(tool string, parameters json.RawMessage) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		Tool:        tool,
		Parameters:  parameters,
		Status:      StatusQueued,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

// Summary is the listing projection of a job: everything except the
// potentially large result and parameter payloads.
type Summary struct {
	ID          string     `json:"job_id"`
	Tool        string     `json:"tool"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Summarize projects a job onto its listing form.
func (j *Job) Summarize() Summary {
	return Summary{
		ID:          j.ID,
		Tool:        j.Tool,
		Status:      j.Status,
		Error:       j.Error,
		SubmittedAt: j.SubmittedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
	}
}
