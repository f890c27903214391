package server

import (
	"encoding/json"
	"time"

	"github.com/ronittamrakar/Xordon-sub048/queue"
	"github.com/ronittamrakar/Xordon-sub048/schedule"
)

// =======================
// API Request/Response Types
// =======================

// CreateScheduleRequest represents the request to create a scheduled job
type CreateScheduleRequest struct {
	Name            string          `json:"name"`
	JobType         string          `json:"job_type"`
	WorkspaceID     string          `json:"workspace_id,omitempty"`
	PayloadTemplate json.RawMessage `json:"payload_template,omitempty"`
	ScheduleType    string          `json:"schedule_type"`              // interval, daily, weekly, monthly
	IntervalMinutes int             `json:"interval_minutes,omitempty"` // interval schedules
	RunAtTime       string          `json:"run_at_time,omitempty"`      // "HH:MM:SS" for daily/weekly/monthly
	RunOnDay        int             `json:"run_on_day,omitempty"`       // weekday 0-6 or day of month 1-31
	IsActive        *bool           `json:"is_active,omitempty"`        // defaults to true
}

// UpdateScheduleRequest represents a partial update to a scheduled job.
// Only non-nil fields are applied.
type UpdateScheduleRequest struct {
	Name            *string         `json:"name,omitempty"`
	JobType         *string         `json:"job_type,omitempty"`
	PayloadTemplate json.RawMessage `json:"payload_template,omitempty"`
	ScheduleType    *string         `json:"schedule_type,omitempty"`
	IntervalMinutes *int            `json:"interval_minutes,omitempty"`
	RunAtTime       *string         `json:"run_at_time,omitempty"`
	RunOnDay        *int            `json:"run_on_day,omitempty"`
	IsActive        *bool           `json:"is_active,omitempty"`
}

// ScheduledJobResponse represents a scheduled job in API responses
type ScheduledJobResponse struct {
	ID              string          `json:"id"`
	WorkspaceID     string          `json:"workspace_id,omitempty"`
	Name            string          `json:"name"`
	JobType         string          `json:"job_type"`
	PayloadTemplate json.RawMessage `json:"payload_template,omitempty"`
	ScheduleType    string          `json:"schedule_type"`
	IntervalMinutes int             `json:"interval_minutes,omitempty"`
	RunAtTime       string          `json:"run_at_time,omitempty"`
	RunOnDay        int             `json:"run_on_day,omitempty"`
	IsActive        bool            `json:"is_active"`
	LastRunAt       *string         `json:"last_run_at,omitempty"` // RFC3339 timestamp
	NextRunAt       *string         `json:"next_run_at,omitempty"` // RFC3339 timestamp
	LastStatus      string          `json:"last_status,omitempty"`
	CreatedAt       string          `json:"created_at"` // RFC3339 timestamp
	UpdatedAt       string          `json:"updated_at"` // RFC3339 timestamp
}

// ListSchedulesResponse represents the response for listing scheduled jobs
type ListSchedulesResponse struct {
	Jobs  []ScheduledJobResponse `json:"jobs"`
	Count int                    `json:"count"`
}

// ListQueueJobsResponse represents the response for listing queue jobs
type ListQueueJobsResponse struct {
	Jobs  []*queue.Job `json:"jobs"`
	Count int          `json:"count"`
}

// =======================
// Helper Functions
// =======================

// toScheduledJobResponse converts a schedule.Job to API response format
func toScheduledJobResponse(job *schedule.Job) ScheduledJobResponse {
	resp := ScheduledJobResponse{
		ID:              job.ID,
		WorkspaceID:     job.WorkspaceID,
		Name:            job.Name,
		JobType:         job.JobType,
		PayloadTemplate: job.PayloadTemplate,
		ScheduleType:    string(job.Spec.Type),
		IntervalMinutes: job.Spec.IntervalMinutes,
		RunAtTime:       job.Spec.RunAtTime,
		RunOnDay:        job.Spec.RunOnDay,
		IsActive:        job.IsActive,
		LastStatus:      job.LastStatus,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}

	if job.LastRunAt != nil {
		lastRun := job.LastRunAt.UTC().Format(time.RFC3339)
		resp.LastRunAt = &lastRun
	}
	if job.NextRunAt != nil {
		nextRun := job.NextRunAt.UTC().Format(time.RFC3339)
		resp.NextRunAt = &nextRun
	}

	return resp
}
