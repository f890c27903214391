package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ronittamrakar/Xordon-sub048/errors"
	"github.com/ronittamrakar/Xordon-sub048/queue"
)

// JobTypePush is the queue job type served by PushHandler.
const JobTypePush = "push.send"

// Notification statuses
const (
	PushStatusQueued = "queued"
	PushStatusSent   = "sent"
	PushStatusFailed = "failed"
)

// Notification is one device push waiting for delivery.
type Notification struct {
	ID            string          `json:"id"`
	WorkspaceID   string          `json:"workspace_id,omitempty"`
	DeviceToken   string          `json:"device_token"`
	Title         string          `json:"title"`
	Body          string          `json:"body"`
	Data          json.RawMessage `json:"data,omitempty"`
	Status        string          `json:"status"`
	AttemptCount  int             `json:"attempt_count"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PushGateway delivers a single notification to the device platform.
// Implementations wrap FCM, APNs or a test double.
type PushGateway interface {
	Send(ctx context.Context, n *Notification) error
}

// PushStore persists notifications in the push_notifications table.
type PushStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPushStore creates a push notification store
func NewPushStore(db *sql.DB) *PushStore {
	return NewPushStoreWithClock(db, time.Now)
}

// NewPushStoreWithClock creates a push store with an injectable clock (for testing)
func NewPushStoreWithClock(db *sql.DB, now func() time.Time) *PushStore {
	return &PushStore{db: db, now: now}
}

const pushColumns = `id, workspace_id, device_token, title, body, data, status,
	attempt_count, next_attempt_at, last_error, created_at, updated_at`

// Enqueue stores a notification for delivery on the next push.send job.
func (s *PushStore) Enqueue(n *Notification) error {
	if n.DeviceToken == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "device token cannot be empty")
	}

	if n.ID == "" {
		n.ID = "pn_" + uuid.NewString()
	}
	now := s.now()
	n.Status = PushStatusQueued
	n.CreatedAt = now
	n.UpdatedAt = now

	var dataArg interface{}
	if len(n.Data) > 0 {
		dataArg = string(n.Data)
	}
	var workspaceArg interface{}
	if n.WorkspaceID != "" {
		workspaceArg = n.WorkspaceID
	}

	_, err := s.db.Exec(
		`INSERT INTO push_notifications (
			id, workspace_id, device_token, title, body, data, status,
			attempt_count, next_attempt_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		n.ID,
		workspaceArg,
		n.DeviceToken,
		n.Title,
		n.Body,
		dataArg,
		formatPushTime(now),
		formatPushTime(now),
		formatPushTime(now),
	)
	return errors.Wrap(err, "failed to enqueue push notification")
}

// ListDue returns queued notifications whose next attempt is at or before
// now, oldest attempt first.
func (s *PushStore) ListDue(now time.Time, limit int) ([]*Notification, error) {
	rows, err := s.db.Query(
		`SELECT `+pushColumns+` FROM push_notifications
		 WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY next_attempt_at ASC, id ASC
		 LIMIT ?`,
		formatPushTime(now),
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due push notifications")
	}
	defer rows.Close()

	var due []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan push notification")
		}
		due = append(due, n)
	}
	return due, errors.Wrap(rows.Err(), "error iterating push notifications")
}

// Get retrieves a notification by ID
func (s *PushStore) Get(id string) (*Notification, error) {
	row := s.db.QueryRow(`SELECT `+pushColumns+` FROM push_notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "push notification %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get push notification %s", id)
	}
	return n, nil
}

// MarkSent records successful delivery.
func (s *PushStore) MarkSent(id string) error {
	_, err := s.db.Exec(
		`UPDATE push_notifications
		 SET status = 'sent', last_error = NULL, updated_at = ?
		 WHERE id = ?`,
		formatPushTime(s.now()),
		id,
	)
	return errors.Wrapf(err, "failed to mark push notification %s sent", id)
}

// MarkRetry records a failed attempt that will be retried at nextAttempt.
func (s *PushStore) MarkRetry(id string, attemptCount int, nextAttempt time.Time, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE push_notifications
		 SET attempt_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		attemptCount,
		formatPushTime(nextAttempt),
		lastError,
		formatPushTime(s.now()),
		id,
	)
	return errors.Wrapf(err, "failed to schedule push notification %s retry", id)
}

// MarkFailed records permanent failure after the attempt budget is spent.
func (s *PushStore) MarkFailed(id string, attemptCount int, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE push_notifications
		 SET status = 'failed', attempt_count = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		attemptCount,
		lastError,
		formatPushTime(s.now()),
		id,
	)
	return errors.Wrapf(err, "failed to mark push notification %s failed", id)
}

func formatPushTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func scanNotification(sc interface{ Scan(...interface{}) error }) (*Notification, error) {
	var n Notification
	var workspaceID, data, nextAttemptAt, lastError sql.NullString
	var createdAt, updatedAt string

	err := sc.Scan(
		&n.ID,
		&workspaceID,
		&n.DeviceToken,
		&n.Title,
		&n.Body,
		&data,
		&n.Status,
		&n.AttemptCount,
		&nextAttemptAt,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for push notification %s", n.ID)
	}
	n.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for push notification %s", n.ID)
	}
	if nextAttemptAt.Valid {
		t, err := time.Parse(time.RFC3339, nextAttemptAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse next_attempt_at for push notification %s", n.ID)
		}
		n.NextAttemptAt = &t
	}
	if workspaceID.Valid {
		n.WorkspaceID = workspaceID.String
	}
	if data.Valid {
		n.Data = json.RawMessage(data.String)
	}
	if lastError.Valid {
		n.LastError = lastError.String
	}

	return &n, nil
}

// PushResult summarizes one push.send batch.
type PushResult struct {
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
}

// PushHandler delivers due push notifications through a gateway.
//
// Each push.send job processes one batch of due notifications. A delivery
// failure does not fail the job: the notification is marked for retry with
// the policy's delay until its attempt budget runs out, then marked failed
// with the last error. When any notifications were marked for retry, Execute
// returns a RescheduleError so the dispatcher returns the job to pending at
// the retry time instead of completing it. The rate limiter smooths bursts
// against the upstream platform.
type PushHandler struct {
	store      *PushStore
	gateway    PushGateway
	policy     RetryPolicy
	limiter    *rate.Limiter
	batchSize  int
	retryDelay time.Duration
	log        *zap.SugaredLogger
	now        func() time.Time
}

// PushHandlerOptions configures a PushHandler.
type PushHandlerOptions struct {
	BatchSize   int
	MaxAttempts int
	RetryDelay  time.Duration
	RatePerSec  float64
	Now         func() time.Time // Defaults to time.Now
}

// NewPushHandler creates the push.send handler.
func NewPushHandler(store *PushStore, gateway PushGateway, opts PushHandlerOptions, log *zap.SugaredLogger) *PushHandler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Minute
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &PushHandler{
		store:      store,
		gateway:    gateway,
		policy:     ConstantRetry(opts.MaxAttempts, opts.RetryDelay),
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		batchSize:  opts.BatchSize,
		retryDelay: opts.RetryDelay,
		log:        log,
		now:        opts.Now,
	}
}

func (h *PushHandler) Name() string { return JobTypePush }

// Execute sends one batch of due notifications and returns delivery counts.
func (h *PushHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	now := h.now()
	due, err := h.store.ListDue(now, h.batchSize)
	if err != nil {
		return nil, err
	}

	result := PushResult{}
	for _, n := range due {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "push batch cancelled")
		}

		sendErr := h.gateway.Send(ctx, n)
		if sendErr == nil {
			if err := h.store.MarkSent(n.ID); err != nil {
				return nil, err
			}
			result.Sent++
			continue
		}

		attempt := n.AttemptCount + 1
		delay, retryable := h.policy.NextDelay(attempt)
		if retryable {
			if err := h.store.MarkRetry(n.ID, attempt, now.Add(delay), sendErr.Error()); err != nil {
				return nil, err
			}
			result.Retried++
			h.log.Debugw("Push delivery failed, retry scheduled",
				"notification_id", n.ID,
				"attempt", attempt,
				"error", sendErr,
			)
		} else {
			if err := h.store.MarkFailed(n.ID, attempt, sendErr.Error()); err != nil {
				return nil, err
			}
			result.Failed++
			h.log.Warnw("Push delivery failed permanently",
				"notification_id", n.ID,
				"attempts", attempt,
				"error", sendErr,
			)
		}
	}

	if result.Retried > 0 {
		return nil, RescheduleAfter(h.retryDelay,
			errors.Newf("%d notifications awaiting retry", result.Retried))
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal push result")
	}
	return out, nil
}
