package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ronittamrakar/Xordon-sub048/schedule"
)

const defaultScheduleListLimit = 100

// HandleSchedules handles requests to /api/schedules
// GET: List all scheduled jobs
// POST: Create a new scheduled job
func (s *Server) HandleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSchedules(w, r)
	case http.MethodPost:
		s.handleCreateSchedule(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleSchedule handles requests to /api/schedules/{id}
// GET: Get schedule details
// PATCH: Update schedule (definition fields, activate/deactivate)
// DELETE: Remove schedule
func (s *Server) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/schedules/"), "/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusBadRequest, "Missing schedule ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetSchedule(w, r, jobID)
	case http.MethodPatch:
		s.handleUpdateSchedule(w, r, jobID)
	case http.MethodDelete:
		s.handleDeleteSchedule(w, r, jobID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.schedules.ListJobs(defaultScheduleListLimit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list scheduled jobs", http.StatusInternalServerError)
		return
	}

	response := ListSchedulesResponse{
		Jobs:  make([]ScheduledJobResponse, 0, len(jobs)),
		Count: len(jobs),
	}
	for _, job := range jobs {
		response.Jobs = append(response.Jobs, toScheduledJobResponse(job))
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	s.logger.Infow("Create schedule request",
		"name", req.Name,
		"job_type", req.JobType,
		"schedule_type", req.ScheduleType,
		"remote", r.RemoteAddr)

	// Configuration errors are caught at save time, not at first firing
	if req.JobType == "" {
		writeError(w, http.StatusBadRequest, "job_type is required")
		return
	}
	if s.registry != nil && !s.registry.Has(req.JobType) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("no handler registered for job type %q", req.JobType))
		return
	}
	if !schedule.IsValidType(req.ScheduleType) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown schedule type %q", req.ScheduleType))
		return
	}
	if req.ScheduleType == string(schedule.TypeInterval) && req.IntervalMinutes < 0 {
		writeError(w, http.StatusBadRequest, "interval_minutes cannot be negative")
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	job := &schedule.Job{
		WorkspaceID:     req.WorkspaceID,
		Name:            req.Name,
		JobType:         req.JobType,
		PayloadTemplate: req.PayloadTemplate,
		Spec: schedule.Spec{
			Type:            schedule.Type(req.ScheduleType),
			IntervalMinutes: req.IntervalMinutes,
			RunAtTime:       req.RunAtTime,
			RunOnDay:        req.RunOnDay,
		},
		IsActive: active,
	}

	if err := s.schedules.CreateJob(job); err != nil {
		writeWrappedError(w, s.logger, err, "failed to create scheduled job", http.StatusInternalServerError)
		return
	}

	s.logger.Infow("Scheduled job created", "job_id", job.ID, "job_type", job.JobType)
	writeJSON(w, http.StatusCreated, toScheduledJobResponse(job))
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.schedules.GetJob(jobID)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get scheduled job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toScheduledJobResponse(job))
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request, jobID string) {
	var req UpdateScheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	job, err := s.schedules.GetJob(jobID)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get scheduled job", http.StatusInternalServerError)
		return
	}

	if req.Name != nil {
		job.Name = *req.Name
	}
	if req.JobType != nil {
		if s.registry != nil && !s.registry.Has(*req.JobType) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("no handler registered for job type %q", *req.JobType))
			return
		}
		job.JobType = *req.JobType
	}
	if req.PayloadTemplate != nil {
		job.PayloadTemplate = req.PayloadTemplate
	}
	if req.ScheduleType != nil {
		if !schedule.IsValidType(*req.ScheduleType) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("unknown schedule type %q", *req.ScheduleType))
			return
		}
		job.Spec.Type = schedule.Type(*req.ScheduleType)
	}
	if req.IntervalMinutes != nil {
		job.Spec.IntervalMinutes = *req.IntervalMinutes
	}
	if req.RunAtTime != nil {
		job.Spec.RunAtTime = *req.RunAtTime
	}
	if req.RunOnDay != nil {
		job.Spec.RunOnDay = *req.RunOnDay
	}

	if err := s.schedules.UpdateJob(job); err != nil {
		writeWrappedError(w, s.logger, err, "failed to update scheduled job", http.StatusInternalServerError)
		return
	}

	if req.IsActive != nil && *req.IsActive != job.IsActive {
		if err := s.schedules.SetActive(jobID, *req.IsActive); err != nil {
			writeWrappedError(w, s.logger, err, "failed to update scheduled job state", http.StatusInternalServerError)
			return
		}
	}

	updated, err := s.schedules.GetJob(jobID)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to reload scheduled job", http.StatusInternalServerError)
		return
	}

	s.logger.Infow("Scheduled job updated", "job_id", jobID)
	writeJSON(w, http.StatusOK, toScheduledJobResponse(updated))
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.schedules.DeleteJob(jobID); err != nil {
		writeWrappedError(w, s.logger, err, "failed to delete scheduled job", http.StatusInternalServerError)
		return
	}

	s.logger.Infow("Scheduled job deleted", "job_id", jobID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": jobID})
}
