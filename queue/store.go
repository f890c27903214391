package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// Store handles persistence of queue jobs.
//
// All timestamps are stored as RFC3339 UTC strings so that SQL string
// comparison orders them correctly.
type Store struct {
	db  *sql.DB
	now func() time.Time // Injectable for testing
}

// NewStore creates a new queue store
func NewStore(db *sql.DB) *Store {
	return NewStoreWithClock(db, time.Now)
}

// NewStoreWithClock creates a queue store with an injectable clock (for testing)
func NewStoreWithClock(db *sql.DB, now func() time.Time) *Store {
	return &Store{db: db, now: now}
}

const jobColumns = `id, job_type, payload, status, attempt_count, scheduled_at,
	locked_at, workspace_id, idempotency_key, result, error_message,
	created_at, updated_at`

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Schedule enqueues a new job of the given type.
//
// runAt may be nil to run as soon as possible. If idempotencyKey is non-empty
// and an existing job with the same key is still pending or processing, no new
// row is created and the existing job's id is returned.
func (s *Store) Schedule(jobType string, payload json.RawMessage, runAt *time.Time, workspaceID, idempotencyKey string) (string, error) {
	if jobType == "" {
		return "", errors.New("job type cannot be empty")
	}

	now := s.now()
	scheduledAt := now
	if runAt != nil {
		scheduledAt = *runAt
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", errors.Wrap(err, "failed to begin enqueue transaction")
	}
	defer tx.Rollback()

	if idempotencyKey != "" {
		var existingID string
		err := tx.QueryRow(
			`SELECT id FROM queue_jobs
			 WHERE idempotency_key = ? AND status IN ('pending', 'processing')
			 LIMIT 1`,
			idempotencyKey,
		).Scan(&existingID)
		if err == nil {
			// Duplicate enqueue for the same firing window - no-op
			return existingID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", errors.Wrap(err, "failed to check idempotency key")
		}
	}

	id := NewJobID()

	var payloadArg interface{}
	if len(payload) > 0 {
		payloadArg = string(payload)
	}
	var keyArg interface{}
	if idempotencyKey != "" {
		keyArg = idempotencyKey
	}
	var workspaceArg interface{}
	if workspaceID != "" {
		workspaceArg = workspaceID
	}

	_, err = tx.Exec(
		`INSERT INTO queue_jobs (
			id, job_type, payload, status, attempt_count, scheduled_at,
			workspace_id, idempotency_key, created_at, updated_at
		) VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?, ?)`,
		id,
		jobType,
		payloadArg,
		formatTime(scheduledAt),
		workspaceArg,
		keyArg,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetailf(err, "Job type: %s", jobType)
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "failed to commit enqueue")
	}

	return id, nil
}

// FetchNext atomically claims the next due pending job and transitions it to
// processing, stamping locked_at and incrementing attempt_count.
//
// Jobs are claimed FIFO by (scheduled_at, id). The claim is a single UPDATE
// guarded on status='pending' so two concurrent dispatchers can never claim
// the same row. Returns nil when the queue is drained.
func (s *Store) FetchNext() (*Job, error) {
	now := s.now()

	row := s.db.QueryRow(
		`UPDATE queue_jobs
		 SET status = 'processing',
		     locked_at = ?,
		     attempt_count = attempt_count + 1,
		     updated_at = ?
		 WHERE id = (
		     SELECT id FROM queue_jobs
		     WHERE status = 'pending' AND scheduled_at <= ?
		     ORDER BY scheduled_at ASC, id ASC
		     LIMIT 1
		 ) AND status = 'pending'
		 RETURNING `+jobColumns,
		formatTime(now),
		formatTime(now),
		formatTime(now),
	)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Queue drained
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim next job")
	}

	return job, nil
}

// Complete marks a job as completed and stores its result.
// Completing an already-terminal job is a no-op.
func (s *Store) Complete(id string, result json.RawMessage) error {
	var resultArg interface{}
	if len(result) > 0 {
		resultArg = string(result)
	}

	res, err := s.db.Exec(
		`UPDATE queue_jobs
		 SET status = 'completed', result = ?, error_message = NULL, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing')`,
		resultArg,
		formatTime(s.now()),
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to complete job %s", id)
	}

	return s.checkTerminalTransition(res, id)
}

// Fail marks a job as failed and records the error message.
//
// The queue itself never retries a failed job: retry policy belongs to the
// caller (re-schedule or Reschedule), keeping the store policy-free.
func (s *Store) Fail(id string, errorMessage string) error {
	res, err := s.db.Exec(
		`UPDATE queue_jobs
		 SET status = 'failed', error_message = ?, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'processing')`,
		errorMessage,
		formatTime(s.now()),
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %s as failed", id)
	}

	return s.checkTerminalTransition(res, id)
}

// checkTerminalTransition verifies an update that should move a job to a
// terminal state. Zero rows affected means either the job does not exist or
// it is already terminal; the latter is a no-op.
func (s *Store) checkTerminalTransition(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRow(`SELECT status FROM queue_jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to inspect job %s", id)
	}

	// Already terminal - idempotent no-op
	return nil
}

// Reschedule returns a job to pending with a new scheduled_at, clearing its
// lock. The dispatcher calls it when a handler asks for another run later,
// such as the push handler waiting out its constant retry delay.
func (s *Store) Reschedule(id string, runAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE queue_jobs
		 SET status = 'pending', scheduled_at = ?, locked_at = NULL, updated_at = ?
		 WHERE id = ?`,
		formatTime(runAt),
		formatTime(s.now()),
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to reschedule job %s", id)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}

	return nil
}

// ReleaseStale resets jobs stuck in processing longer than the threshold back
// to pending, clearing locked_at. Returns how many jobs were released.
//
// This is the sole recovery path for crashed or hung workers; released jobs
// will be retried from the start, so handlers must tolerate at-least-once
// delivery.
func (s *Store) ReleaseStale(threshold time.Duration) (int, error) {
	cutoff := s.now().Add(-threshold)

	res, err := s.db.Exec(
		`UPDATE queue_jobs
		 SET status = 'pending', locked_at = NULL, updated_at = ?
		 WHERE status = 'processing' AND locked_at < ?`,
		formatTime(s.now()),
		formatTime(cutoff),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to release stale jobs")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM queue_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}

	return job, nil
}

// ListJobs returns jobs ordered newest first, optionally filtered by status.
func (s *Store) ListJobs(status *Status, limit int) ([]*Job, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = s.db.Query(
			`SELECT `+jobColumns+` FROM queue_jobs WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
			*status, limit)
	} else {
		rows, err = s.db.Query(
			`SELECT `+jobColumns+` FROM queue_jobs ORDER BY created_at DESC, id DESC LIMIT ?`,
			limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}

	return jobs, errors.Wrap(rows.Err(), "error iterating jobs")
}

// Stats returns queue depth by status.
func (s *Store) Stats() (*Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM queue_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}

	return stats, errors.Wrap(rows.Err(), "error iterating job counts")
}

// Cleanup removes terminal jobs older than the specified duration.
// Returns how many rows were deleted.
func (s *Store) Cleanup(olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)

	res, err := s.db.Exec(
		`DELETE FROM queue_jobs
		 WHERE status IN ('completed', 'failed') AND updated_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(sc scanner) (*Job, error) {
	var job Job
	var payload, lockedAt, workspaceID, idempotencyKey, result, errorMessage sql.NullString
	var scheduledAt, createdAt, updatedAt string

	err := sc.Scan(
		&job.ID,
		&job.JobType,
		&payload,
		&job.Status,
		&job.AttemptCount,
		&scheduledAt,
		&lockedAt,
		&workspaceID,
		&idempotencyKey,
		&result,
		&errorMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ScheduledAt, err = time.Parse(time.RFC3339, scheduledAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse scheduled_at for job %s", job.ID)
	}
	job.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}
	if lockedAt.Valid {
		t, err := time.Parse(time.RFC3339, lockedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse locked_at for job %s", job.ID)
		}
		job.LockedAt = &t
	}
	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}
	if workspaceID.Valid {
		job.WorkspaceID = workspaceID.String
	}
	if idempotencyKey.Valid {
		job.IdempotencyKey = idempotencyKey.String
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}

	return &job, nil
}
