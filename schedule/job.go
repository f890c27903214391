// Package schedule provides recurring job definitions and next-run computation.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type selects how a scheduled job recurs
type Type string

const (
	TypeInterval Type = "interval" // Every IntervalMinutes
	TypeDaily    Type = "daily"    // Every day at RunAtTime
	TypeWeekly   Type = "weekly"   // Every week on RunOnDay (0=Sunday..6=Saturday) at RunAtTime
	TypeMonthly  Type = "monthly"  // Every month on RunOnDay (1-31, clamped) at RunAtTime
)

// IsValidType returns true if the schedule type string is recognized
func IsValidType(s string) bool {
	switch Type(s) {
	case TypeInterval, TypeDaily, TypeWeekly, TypeMonthly:
		return true
	default:
		return false
	}
}

// Spec is the recurrence definition of a scheduled job.
// It is a pure value: ComputeNextRun derives the next firing from a Spec and
// an injected "now" with no clock or store dependency.
type Spec struct {
	Type            Type
	IntervalMinutes int
	RunAtTime       string // "HH:MM:SS" time of day
	RunOnDay        int    // Weekday 0-6 for weekly, day of month 1-31 for monthly
}

// Job is a recurring definition that materializes one queue job per firing.
//
// NextRunAt is nil for a job that has never been scheduled; the dispatcher
// treats nil as due immediately. After each firing the dispatcher updates
// LastRunAt, NextRunAt and LastStatus atomically. Jobs are never deleted by
// the engine - operators deactivate them via IsActive.
type Job struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspace_id,omitempty"`
	Name            string          `json:"name"`
	JobType         string          `json:"job_type"`
	PayloadTemplate json.RawMessage `json:"payload_template,omitempty"`
	Spec            Spec            `json:"spec"`
	IsActive        bool            `json:"is_active"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	LastStatus      string          `json:"last_status,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Last-run status values recorded after each firing
const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// NewJobID generates a unique scheduled job identifier.
func NewJobID() string {
	return "sj_" + uuid.NewString()
}
