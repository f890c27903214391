package server

import (
	"net/http"
	"strconv"

	"github.com/ronittamrakar/Xordon-sub048/queue"
)

const defaultJobListLimit = 50

// HandleQueueStats handles GET /api/queue/stats
func (s *Server) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := s.queue.Stats()
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get queue stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// HandleQueueJobs handles GET /api/queue/jobs
//
// Optional query parameters: status (pending/processing/completed/failed)
// and limit (default 50).
func (s *Server) HandleQueueJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	var status *queue.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !queue.IsValidStatus(raw) {
			writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		st := queue.Status(raw)
		status = &st
	}

	limit := defaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	jobs, err := s.queue.ListJobs(status, limit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list queue jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}

	writeJSON(w, http.StatusOK, ListQueueJobsResponse{Jobs: jobs, Count: len(jobs)})
}
