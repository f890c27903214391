// Package queue provides the durable job queue backing the automation engine.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a queue job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for statuses that end a job's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job represents one unit of asynchronous work.
//
// The payload is opaque to the queue; its structure is owned by the handler
// registered for JobType. IdempotencyKey, when set, guarantees at most one
// non-terminal job per key (recurring schedules use it to prevent
// double-firing within the same minute).
type Job struct {
	ID             string          `json:"id"`
	JobType        string          `json:"job_type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         Status          `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	LockedAt       *time.Time      `json:"locked_at,omitempty"`
	WorkspaceID    string          `json:"workspace_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewJobID generates a unique queue job identifier.
func NewJobID() string {
	return "job_" + uuid.NewString()
}

// Stats summarizes queue depth by status for observability.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
