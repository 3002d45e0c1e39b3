package types

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the lifecycle status of a queued task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be executed
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning indicates the task is currently executing
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusCompleted indicates the task completed successfully
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the task failed
	TaskStatusFailed TaskStatus = "failed"
)

// IsTerminal returns true if the status is a terminal state
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// TaskDescription is the opaque unit of work submitted by the host.
// The core routes it; only workers interpret it.
type TaskDescription struct {
	// Question is the consultation text payload.
	Question string `json:"question"`

	// RequesterID identifies who submitted the task.
	RequesterID string `json:"requester_id,omitempty"`

	// Tier is the requester's service tier.
	Tier string `json:"tier,omitempty"`

	// Metadata carries free-form task metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Enrichment is a typed piece of output data attached to a successful
// execution result.
type Enrichment struct {
	Kind     string         `json:"kind"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExecutionResult is the outcome a worker produces for one task.
type ExecutionResult struct {
	// Success indicates the worker completed the task.
	Success bool `json:"success"`

	// Error carries the failure message when Success is false.
	Error string `json:"error,omitempty"`

	// Cost is the execution cost in an arbitrary unit (tokens or currency).
	Cost float64 `json:"cost,omitempty"`

	// Enrichments are the typed output records, in production order.
	Enrichments []Enrichment `json:"enrichments,omitempty"`
}

// Task wraps a TaskDescription with its background lifecycle state.
// Tasks executed synchronously never become a Task; only queued work does.
type Task struct {
	// ID is the unique identifier for the task
	ID string `json:"id"`

	// WorkerName is the worker this task is assigned to
	WorkerName string `json:"worker_name"`

	// Description is the unit of work
	Description *TaskDescription `json:"description"`

	// Status is the current task status
	Status TaskStatus `json:"status"`

	// Result contains the execution result (when terminal)
	Result *ExecutionResult `json:"result,omitempty"`

	// Error contains the last error message (when failed)
	Error string `json:"error,omitempty"`

	// RetryCount is the number of retry attempts so far
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed
	MaxRetries int `json:"max_retries"`

	// CreatedAt is when the task was created
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the task started executing
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the task reached a terminal state
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the task is in a terminal state
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// ShouldRetry returns true if the task has retry budget left
func (t *Task) ShouldRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Duration returns the task duration (or time since start if still running)
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	if t.CompletedAt != nil {
		return t.CompletedAt.Sub(*t.StartedAt)
	}
	return time.Since(*t.StartedAt)
}

// Clone returns a deep copy of the task. Stores hand out clones so callers
// never share mutable state with the queue loop.
func (t *Task) Clone() *Task {
	data, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	var cp Task
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil
	}
	return &cp
}
