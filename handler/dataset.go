package handler

import (
	"context"
	"database/sql"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// Built-in report types
const (
	ReportTypeQueueJobs     = "queue_jobs"
	ReportTypeScheduledJobs = "scheduled_jobs"
	ReportTypeWorkflowRuns  = "workflow_runs"
)

// SQLDataset serves the built-in operational reports from the engine's own
// tables. Extra report types can be layered on by wrapping this Dataset.
type SQLDataset struct {
	db *sql.DB
}

// NewSQLDataset creates a dataset over the engine database.
func NewSQLDataset(db *sql.DB) *SQLDataset {
	return &SQLDataset{db: db}
}

type reportQuery struct {
	header  []string
	sql     string
	orderBy string
}

var reportQueries = map[string]reportQuery{
	ReportTypeQueueJobs: {
		header: []string{"id", "job_type", "status", "attempt_count", "scheduled_at", "error_message", "created_at"},
		sql: `SELECT id, job_type, status, attempt_count, scheduled_at,
		             COALESCE(error_message, ''), created_at
		      FROM queue_jobs`,
		orderBy: "created_at",
	},
	ReportTypeScheduledJobs: {
		header: []string{"id", "name", "job_type", "schedule_type", "is_active", "last_run_at", "next_run_at", "last_status"},
		sql: `SELECT id, name, job_type, schedule_type, is_active,
		             COALESCE(last_run_at, ''), COALESCE(next_run_at, ''), COALESCE(last_status, '')
		      FROM scheduled_jobs`,
		orderBy: "created_at",
	},
	ReportTypeWorkflowRuns: {
		header: []string{"id", "workflow_id", "status", "current_node_id", "error_message", "started_at", "completed_at"},
		sql: `SELECT id, workflow_id, status, COALESCE(current_node_id, ''),
		             COALESCE(error_message, ''), started_at, COALESCE(completed_at, '')
		      FROM workflow_runs`,
		orderBy: "started_at",
	},
}

// Rows implements Dataset for the built-in report types.
func (d *SQLDataset) Rows(ctx context.Context, reportType, workspaceID string, limit int) ([]string, [][]string, error) {
	q, ok := reportQueries[reportType]
	if !ok {
		return nil, nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown report type %q", reportType)
	}

	query := q.sql
	args := []interface{}{}
	if workspaceID != "" {
		query += ` WHERE workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY ` + q.orderBy + ` DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to query %s report", reportType)
	}
	defer rows.Close()

	dest := make([]interface{}, len(q.header))
	var data [][]string
	for rows.Next() {
		record := make([]string, len(q.header))
		for i := range record {
			dest[i] = &record[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to scan %s report row", reportType)
		}
		data = append(data, record)
	}

	return q.header, data, errors.Wrapf(rows.Err(), "error iterating %s report", reportType)
}
