package handler

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ronittamrakar/Xordon-sub048/errors"
	"github.com/ronittamrakar/Xordon-sub048/queue"
)

// JobTypeReport is the queue job type served by ReportHandler.
const JobTypeReport = "report.generate"

// Export statuses
const (
	ReportStatusPending   = "pending"
	ReportStatusCompleted = "completed"
	ReportStatusFailed    = "failed"
)

// Export is one requested report export.
type Export struct {
	ID           string     `json:"id"`
	WorkspaceID  string     `json:"workspace_id,omitempty"`
	ReportType   string     `json:"report_type"`
	Format       string     `json:"format"`
	Status       string     `json:"status"`
	FilePath     string     `json:"file_path,omitempty"`
	FileSize     int64      `json:"file_size,omitempty"`
	RowCount     int        `json:"row_count,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Dataset produces the rows for a report type. The row count is capped by
// the handler, so implementations should respect limit in their queries.
type Dataset interface {
	// Rows returns the header and at most limit data rows for a report
	// type scoped to a workspace ("" means all workspaces).
	Rows(ctx context.Context, reportType, workspaceID string, limit int) (header []string, rows [][]string, err error)
}

// ReportStore persists export requests in the report_exports table.
type ReportStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewReportStore creates a report export store
func NewReportStore(db *sql.DB) *ReportStore {
	return NewReportStoreWithClock(db, time.Now)
}

// NewReportStoreWithClock creates a report store with an injectable clock (for testing)
func NewReportStoreWithClock(db *sql.DB, now func() time.Time) *ReportStore {
	return &ReportStore{db: db, now: now}
}

const reportColumns = `id, workspace_id, report_type, format, status, file_path,
	file_size, row_count, error_message, expires_at, created_at, updated_at`

// Create persists a new pending export request.
func (s *ReportStore) Create(e *Export) error {
	if e.ReportType == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "report type cannot be empty")
	}
	if e.ID == "" {
		e.ID = "re_" + uuid.NewString()
	}
	if e.Format == "" {
		e.Format = "csv"
	}
	now := s.now()
	e.Status = ReportStatusPending
	e.CreatedAt = now
	e.UpdatedAt = now

	var workspaceArg interface{}
	if e.WorkspaceID != "" {
		workspaceArg = e.WorkspaceID
	}

	_, err := s.db.Exec(
		`INSERT INTO report_exports (
			id, workspace_id, report_type, format, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
		e.ID,
		workspaceArg,
		e.ReportType,
		e.Format,
		formatPushTime(now),
		formatPushTime(now),
	)
	return errors.Wrap(err, "failed to create report export")
}

// Get retrieves an export by ID
func (s *ReportStore) Get(id string) (*Export, error) {
	row := s.db.QueryRow(`SELECT `+reportColumns+` FROM report_exports WHERE id = ?`, id)
	e, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "report export %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get report export %s", id)
	}
	return e, nil
}

// MarkCompleted records the finished file. An export only becomes
// completed after its file is fully written, never partially.
func (s *ReportStore) MarkCompleted(id, filePath string, fileSize int64, rowCount int, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE report_exports
		 SET status = 'completed', file_path = ?, file_size = ?, row_count = ?,
		     error_message = NULL, expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		filePath,
		fileSize,
		rowCount,
		formatPushTime(expiresAt),
		formatPushTime(s.now()),
		id,
	)
	return errors.Wrapf(err, "failed to complete report export %s", id)
}

// MarkFailed records a generation failure.
func (s *ReportStore) MarkFailed(id, errorMessage string) error {
	_, err := s.db.Exec(
		`UPDATE report_exports
		 SET status = 'failed', error_message = ?, updated_at = ?
		 WHERE id = ?`,
		errorMessage,
		formatPushTime(s.now()),
		id,
	)
	return errors.Wrapf(err, "failed to mark report export %s failed", id)
}

// DeleteExpired removes completed exports past their expiry and their
// files. Returns how many exports were purged.
func (s *ReportStore) DeleteExpired(now time.Time) (int, error) {
	rows, err := s.db.Query(
		`SELECT id, file_path FROM report_exports
		 WHERE status = 'completed' AND expires_at IS NOT NULL AND expires_at < ?`,
		formatPushTime(now),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list expired report exports")
	}
	defer rows.Close()

	type expired struct{ id, filePath string }
	var doomed []expired
	for rows.Next() {
		var e expired
		var filePath sql.NullString
		if err := rows.Scan(&e.id, &filePath); err != nil {
			return 0, errors.Wrap(err, "failed to scan expired report export")
		}
		e.filePath = filePath.String
		doomed = append(doomed, e)
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "error iterating expired report exports")
	}

	for _, e := range doomed {
		if e.filePath != "" {
			// Best effort: a missing file should not block the purge
			os.Remove(e.filePath)
		}
		if _, err := s.db.Exec(`DELETE FROM report_exports WHERE id = ?`, e.id); err != nil {
			return 0, errors.Wrapf(err, "failed to delete report export %s", e.id)
		}
	}

	return len(doomed), nil
}

func scanExport(sc interface{ Scan(...interface{}) error }) (*Export, error) {
	var e Export
	var workspaceID, filePath, errorMessage, expiresAt sql.NullString
	var fileSize sql.NullInt64
	var rowCount sql.NullInt64
	var createdAt, updatedAt string

	err := sc.Scan(
		&e.ID,
		&workspaceID,
		&e.ReportType,
		&e.Format,
		&e.Status,
		&filePath,
		&fileSize,
		&rowCount,
		&errorMessage,
		&expiresAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for report export %s", e.ID)
	}
	e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for report export %s", e.ID)
	}
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse expires_at for report export %s", e.ID)
		}
		e.ExpiresAt = &t
	}
	if workspaceID.Valid {
		e.WorkspaceID = workspaceID.String
	}
	if filePath.Valid {
		e.FilePath = filePath.String
	}
	if fileSize.Valid {
		e.FileSize = fileSize.Int64
	}
	if rowCount.Valid {
		e.RowCount = int(rowCount.Int64)
	}
	if errorMessage.Valid {
		e.ErrorMessage = errorMessage.String
	}

	return &e, nil
}

// reportPayload is the payload of a report.generate job.
type reportPayload struct {
	ExportID string `json:"export_id"`
}

// ReportHandler generates CSV exports for report.generate jobs.
//
// The file is written to a temp path and renamed into place before the
// export row is marked completed, so a completed export always refers to
// a fully written file.
type ReportHandler struct {
	store    *ReportStore
	dataset  Dataset
	rowLimit int
	expiry   time.Duration
	dir      string
	log      *zap.SugaredLogger
	now      func() time.Time
}

// ReportHandlerOptions configures a ReportHandler.
type ReportHandlerOptions struct {
	RowLimit  int
	Expiry    time.Duration
	ExportDir string
	Now       func() time.Time // Defaults to time.Now
}

// NewReportHandler creates the report.generate handler.
func NewReportHandler(store *ReportStore, dataset Dataset, opts ReportHandlerOptions, log *zap.SugaredLogger) *ReportHandler {
	if opts.RowLimit <= 0 {
		opts.RowLimit = 10000
	}
	if opts.Expiry <= 0 {
		opts.Expiry = 7 * 24 * time.Hour
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "exports"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ReportHandler{
		store:    store,
		dataset:  dataset,
		rowLimit: opts.RowLimit,
		expiry:   opts.Expiry,
		dir:      opts.ExportDir,
		log:      log,
		now:      opts.Now,
	}
}

func (h *ReportHandler) Name() string { return JobTypeReport }

// Execute generates the export named by the job payload.
func (h *ReportHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload reportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, errors.Wrap(err, "invalid report.generate payload")
	}
	if payload.ExportID == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "report.generate payload missing export_id")
	}

	export, err := h.store.Get(payload.ExportID)
	if err != nil {
		return nil, err
	}
	if export.Status != ReportStatusPending {
		// At-least-once delivery: a retried job may find the export done
		h.log.Debugw("Report export already processed", "export_id", export.ID, "status", export.Status)
		return json.Marshal(map[string]string{"export_id": export.ID, "status": export.Status})
	}

	filePath, rowCount, err := h.generate(ctx, export)
	if err != nil {
		if markErr := h.store.MarkFailed(export.ID, err.Error()); markErr != nil {
			return nil, markErr
		}
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat export file")
	}

	expiresAt := h.now().Add(h.expiry)
	if err := h.store.MarkCompleted(export.ID, filePath, info.Size(), rowCount, expiresAt); err != nil {
		return nil, err
	}

	h.log.Infow("Report export completed",
		"export_id", export.ID,
		"report_type", export.ReportType,
		"rows", rowCount,
		"file", filePath,
	)

	return json.Marshal(map[string]interface{}{
		"export_id": export.ID,
		"file_path": filePath,
		"row_count": rowCount,
	})
}

func (h *ReportHandler) generate(ctx context.Context, export *Export) (string, int, error) {
	header, rows, err := h.dataset.Rows(ctx, export.ReportType, export.WorkspaceID, h.rowLimit)
	if err != nil {
		return "", 0, errors.Wrapf(err, "failed to query report %s", export.ReportType)
	}
	if len(rows) > h.rowLimit {
		rows = rows[:h.rowLimit]
	}

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return "", 0, errors.Wrap(err, "failed to create export directory")
	}

	finalPath := filepath.Join(h.dir, export.ID+".csv")
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to create export file")
	}

	w := csv.NewWriter(f)
	writeErr := w.Write(header)
	for _, row := range rows {
		if writeErr != nil {
			break
		}
		writeErr = w.Write(row)
	}
	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpPath)
		return "", 0, errors.Wrap(writeErr, "failed to write export file")
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, errors.Wrap(err, "failed to finalize export file")
	}

	return finalPath, len(rows), nil
}
