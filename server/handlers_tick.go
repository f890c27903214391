package server

import (
	"fmt"
	"net/http"
	"time"
)

// HandleCronTick handles POST /api/cron/tick?secret=...
//
// It runs exactly one dispatch cycle and returns the tick summary. The
// endpoint is idempotent within a minute for recurring schedules, so an
// external cron hitting it more often than the tick interval is safe.
// A panic inside the dispatcher still produces a 500 JSON body.
func (s *Server) HandleCronTick(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if s.cfg.TickSecret != "" && r.URL.Query().Get("secret") != s.cfg.TickSecret {
		s.logger.Warnw("Cron tick rejected", "remote", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "invalid tick secret")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Errorw("Cron tick panicked", "panic", rec)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("tick panicked: %v", rec))
		}
	}()

	s.logger.Infow("Cron tick requested", "remote", r.RemoteAddr)

	result := s.dispatcher.Tick(r.Context(), time.Now())

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}
