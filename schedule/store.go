package schedule

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// Store handles persistence of scheduled job definitions.
//
// Timestamps are stored as RFC3339 UTC strings so SQL string comparison
// orders them correctly, matching the queue store.
type Store struct {
	db  *sql.DB
	now func() time.Time // Injectable for testing
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return NewStoreWithClock(db, time.Now)
}

// NewStoreWithClock creates a schedule store with an injectable clock (for testing)
func NewStoreWithClock(db *sql.DB, now func() time.Time) *Store {
	return &Store{db: db, now: now}
}

const jobColumns = `id, workspace_id, name, job_type, payload_template,
	schedule_type, interval_minutes, run_at_time, run_on_day, is_active,
	last_run_at, next_run_at, last_status, created_at, updated_at`

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// CreateJob persists a new scheduled job definition. If the job has no ID
// one is generated. A nil NextRunAt is stored as NULL and treated as due
// immediately by ListDue.
func (s *Store) CreateJob(job *Job) error {
	if job.Name == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "schedule name cannot be empty")
	}
	if job.JobType == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "schedule job type cannot be empty")
	}
	if !IsValidType(string(job.Spec.Type)) {
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown schedule type %q", job.Spec.Type)
	}

	if job.ID == "" {
		job.ID = NewJobID()
	}
	now := s.now()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.Exec(
		`INSERT INTO scheduled_jobs (
			id, workspace_id, name, job_type, payload_template,
			schedule_type, interval_minutes, run_at_time, run_on_day, is_active,
			last_run_at, next_run_at, last_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		nullString(job.WorkspaceID),
		job.Name,
		job.JobType,
		nullRaw(job.PayloadTemplate),
		string(job.Spec.Type),
		job.Spec.IntervalMinutes,
		nullString(job.Spec.RunAtTime),
		job.Spec.RunOnDay,
		boolToInt(job.IsActive),
		nullTime(job.LastRunAt),
		nullTime(job.NextRunAt),
		nullString(job.LastStatus),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create scheduled job")
		err = errors.WithDetailf(err, "Schedule name: %s", job.Name)
		return err
	}

	return nil
}

// GetJob retrieves a scheduled job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)

	job, err := scanScheduledJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "scheduled job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get scheduled job %s", id)
	}

	return job, nil
}

// ListDue returns active jobs whose next_run_at is at or before now, oldest
// first. Jobs that have never been scheduled (NULL next_run_at) are due
// immediately and sort first.
func (s *Store) ListDue(now time.Time, limit int) ([]*Job, error) {
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM scheduled_jobs
		 WHERE is_active = 1 AND (next_run_at IS NULL OR next_run_at <= ?)
		 ORDER BY next_run_at ASC
		 LIMIT ?`,
		formatTime(now),
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due scheduled jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListJobs returns all scheduled jobs, newest first.
func (s *Store) ListJobs(limit int) ([]*Job, error) {
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM scheduled_jobs ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// MarkFired records the outcome of a firing: the run that just happened,
// the precomputed next run, and the enqueue status. The dispatcher calls
// this in the same sweep that enqueues the queue job, so next_run_at only
// ever moves forward.
func (s *Store) MarkFired(id string, lastRun, nextRun time.Time, status string) error {
	res, err := s.db.Exec(
		`UPDATE scheduled_jobs
		 SET last_run_at = ?, next_run_at = ?, last_status = ?, updated_at = ?
		 WHERE id = ?`,
		formatTime(lastRun),
		formatTime(nextRun),
		status,
		formatTime(s.now()),
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record firing for scheduled job %s", id)
	}

	return requireRow(res, id)
}

// SetActive activates or deactivates a scheduled job. Deactivated jobs are
// skipped by ListDue but keep their definition and history.
func (s *Store) SetActive(id string, active bool) error {
	res, err := s.db.Exec(
		`UPDATE scheduled_jobs SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active),
		formatTime(s.now()),
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update scheduled job %s", id)
	}

	return requireRow(res, id)
}

// UpdateJob replaces the mutable definition fields of a scheduled job:
// name, job type, payload template and recurrence spec. Run bookkeeping
// (last_run_at, next_run_at, last_status) is owned by MarkFired.
func (s *Store) UpdateJob(job *Job) error {
	if !IsValidType(string(job.Spec.Type)) {
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown schedule type %q", job.Spec.Type)
	}

	res, err := s.db.Exec(
		`UPDATE scheduled_jobs
		 SET name = ?, job_type = ?, payload_template = ?,
		     schedule_type = ?, interval_minutes = ?, run_at_time = ?, run_on_day = ?,
		     updated_at = ?
		 WHERE id = ?`,
		job.Name,
		job.JobType,
		nullRaw(job.PayloadTemplate),
		string(job.Spec.Type),
		job.Spec.IntervalMinutes,
		nullString(job.Spec.RunAtTime),
		job.Spec.RunOnDay,
		formatTime(s.now()),
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update scheduled job %s", job.ID)
	}

	return requireRow(res, job.ID)
}

// DeleteJob removes a scheduled job definition. Queue jobs it already
// materialized are unaffected.
func (s *Store) DeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete scheduled job %s", id)
	}

	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "scheduled job %s", id)
	}
	return nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan scheduled job")
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Wrap(rows.Err(), "error iterating scheduled jobs")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanScheduledJob(sc scanner) (*Job, error) {
	var job Job
	var workspaceID, payloadTemplate, runAtTime, lastRunAt, nextRunAt, lastStatus sql.NullString
	var scheduleType, createdAt, updatedAt string
	var isActive int

	err := sc.Scan(
		&job.ID,
		&workspaceID,
		&job.Name,
		&job.JobType,
		&payloadTemplate,
		&scheduleType,
		&job.Spec.IntervalMinutes,
		&runAtTime,
		&job.Spec.RunOnDay,
		&isActive,
		&lastRunAt,
		&nextRunAt,
		&lastStatus,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Spec.Type = Type(scheduleType)
	job.IsActive = isActive != 0

	job.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for scheduled job %s", job.ID)
	}
	job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for scheduled job %s", job.ID)
	}
	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last_run_at for scheduled job %s", job.ID)
		}
		job.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t, err := time.Parse(time.RFC3339, nextRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse next_run_at for scheduled job %s", job.ID)
		}
		job.NextRunAt = &t
	}
	if workspaceID.Valid {
		job.WorkspaceID = workspaceID.String
	}
	if payloadTemplate.Valid {
		job.PayloadTemplate = json.RawMessage(payloadTemplate.String)
	}
	if runAtTime.Valid {
		job.Spec.RunAtTime = runAtTime.String
	}
	if lastStatus.Valid {
		job.LastStatus = lastStatus.String
	}

	return &job, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
