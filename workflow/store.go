package workflow

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// Workflow statuses
const (
	WorkflowStatusDraft    = "draft"
	WorkflowStatusActive   = "active"
	WorkflowStatusArchived = "archived"
)

// Workflow is a stored automation graph.
type Workflow struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Graph       Graph     `json:"graph"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists workflows, runs and global variables.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a workflow store
func NewStore(db *sql.DB) *Store {
	return NewStoreWithClock(db, time.Now)
}

// NewStoreWithClock creates a workflow store with an injectable clock (for testing)
func NewStoreWithClock(db *sql.DB, now func() time.Time) *Store {
	return &Store{db: db, now: now}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// CreateWorkflow persists a new workflow in draft status. The graph is
// validated eagerly so a broken graph never reaches storage.
func (s *Store) CreateWorkflow(w *Workflow) error {
	if w.Name == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "workflow name cannot be empty")
	}
	if err := ValidateGraph(&w.Graph); err != nil {
		return err
	}

	if w.ID == "" {
		w.ID = "wf_" + uuid.NewString()
	}
	if w.Status == "" {
		w.Status = WorkflowStatusDraft
	}
	now := s.now()
	w.CreatedAt = now
	w.UpdatedAt = now

	graphJSON, err := json.Marshal(w.Graph)
	if err != nil {
		return errors.Wrap(err, "failed to encode workflow graph")
	}

	var workspaceArg interface{}
	if w.WorkspaceID != "" {
		workspaceArg = w.WorkspaceID
	}

	_, err = s.db.Exec(
		`INSERT INTO workflows (id, workspace_id, name, status, graph, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID,
		workspaceArg,
		w.Name,
		w.Status,
		string(graphJSON),
		formatTime(now),
		formatTime(now),
	)
	return errors.Wrap(err, "failed to create workflow")
}

// GetWorkflow retrieves a workflow by ID
func (s *Store) GetWorkflow(id string) (*Workflow, error) {
	row := s.db.QueryRow(
		`SELECT id, workspace_id, name, status, graph, created_at, updated_at
		 FROM workflows WHERE id = ?`, id)

	var w Workflow
	var workspaceID sql.NullString
	var graphJSON, createdAt, updatedAt string

	err := row.Scan(&w.ID, &workspaceID, &w.Name, &w.Status, &graphJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "workflow %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get workflow %s", id)
	}

	if err := json.Unmarshal([]byte(graphJSON), &w.Graph); err != nil {
		return nil, errors.Wrapf(err, "failed to decode graph for workflow %s", id)
	}
	if workspaceID.Valid {
		w.WorkspaceID = workspaceID.String
	}
	if w.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for workflow %s", id)
	}
	if w.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for workflow %s", id)
	}

	return &w, nil
}

// SetWorkflowStatus transitions a workflow between draft, active and
// archived. Activation re-validates the stored graph.
func (s *Store) SetWorkflowStatus(id, status string) error {
	switch status {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusArchived:
	default:
		return errors.Wrapf(errors.ErrInvalidRequest, "unknown workflow status %q", status)
	}

	if status == WorkflowStatusActive {
		w, err := s.GetWorkflow(id)
		if err != nil {
			return err
		}
		if err := ValidateGraph(&w.Graph); err != nil {
			return err
		}
	}

	res, err := s.db.Exec(
		`UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(s.now()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update workflow %s", id)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "workflow %s", id)
	}
	return nil
}

const runColumns = `id, workflow_id, workspace_id, current_node_id, status,
	contact, variables, step_outputs, split_counters, wait_event_key,
	warnings, error_message, started_at, completed_at, updated_at`

// CreateRun persists a new run.
func (s *Store) CreateRun(run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	now := s.now()
	run.StartedAt = now
	run.UpdatedAt = now

	contact, variables, outputs, counters, warnings, err := encodeRunState(run)
	if err != nil {
		return err
	}

	var workspaceArg interface{}
	if run.WorkspaceID != "" {
		workspaceArg = run.WorkspaceID
	}

	_, err = s.db.Exec(
		`INSERT INTO workflow_runs (
			id, workflow_id, workspace_id, current_node_id, status,
			contact, variables, step_outputs, split_counters, wait_event_key,
			warnings, started_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.WorkflowID,
		workspaceArg,
		nullIfEmpty(run.CurrentNodeID),
		run.Status,
		contact,
		variables,
		outputs,
		counters,
		nullIfEmpty(run.WaitEventKey),
		warnings,
		formatTime(now),
		formatTime(now),
	)
	return errors.Wrap(err, "failed to create workflow run")
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "workflow run %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get workflow run %s", id)
	}
	return run, nil
}

// SaveRun persists the run's mutable execution state after a step.
func (s *Store) SaveRun(run *Run) error {
	now := s.now()
	run.UpdatedAt = now

	contact, variables, outputs, counters, warnings, err := encodeRunState(run)
	if err != nil {
		return err
	}

	var completedArg interface{}
	if run.CompletedAt != nil {
		completedArg = formatTime(*run.CompletedAt)
	}

	res, err := s.db.Exec(
		`UPDATE workflow_runs
		 SET current_node_id = ?, status = ?, contact = ?, variables = ?,
		     step_outputs = ?, split_counters = ?, wait_event_key = ?,
		     warnings = ?, error_message = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		nullIfEmpty(run.CurrentNodeID),
		run.Status,
		contact,
		variables,
		outputs,
		counters,
		nullIfEmpty(run.WaitEventKey),
		warnings,
		nullIfEmpty(run.ErrorMessage),
		completedArg,
		formatTime(now),
		run.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save workflow run %s", run.ID)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "workflow run %s", run.ID)
	}
	return nil
}

// FindWaitingRuns returns runs parked on the given event key.
func (s *Store) FindWaitingRuns(eventKey string) ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM workflow_runs
		 WHERE status = 'waiting' AND wait_event_key = ?
		 ORDER BY started_at ASC`,
		eventKey,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find waiting runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan workflow run")
		}
		runs = append(runs, run)
	}
	return runs, errors.Wrap(rows.Err(), "error iterating waiting runs")
}

// SetGlobal writes a global-scoped variable, shared last-writer-wins
// across all runs in the workspace.
func (s *Store) SetGlobal(workspaceID, name string, value interface{}) error {
	if name == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "global variable name cannot be empty")
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "failed to encode global variable %s", name)
	}

	_, err = s.db.Exec(
		`INSERT INTO workflow_globals (workspace_id, name, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (workspace_id, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		workspaceID,
		name,
		string(encoded),
		formatTime(s.now()),
	)
	return errors.Wrapf(err, "failed to set global variable %s", name)
}

// GetGlobal reads a global-scoped variable. The second return is false
// when the variable does not exist.
func (s *Store) GetGlobal(workspaceID, name string) (interface{}, bool, error) {
	var encoded sql.NullString
	err := s.db.QueryRow(
		`SELECT value FROM workflow_globals WHERE workspace_id = ? AND name = ?`,
		workspaceID, name,
	).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read global variable %s", name)
	}
	if !encoded.Valid {
		return nil, true, nil
	}

	var value interface{}
	if err := json.Unmarshal([]byte(encoded.String), &value); err != nil {
		return nil, false, errors.Wrapf(err, "failed to decode global variable %s", name)
	}
	return value, true, nil
}

func encodeRunState(run *Run) (contact, variables, outputs, counters, warnings interface{}, err error) {
	encode := func(v interface{}, empty bool) (interface{}, error) {
		if empty {
			return nil, nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode run state")
		}
		return string(raw), nil
	}

	if contact, err = encode(run.Contact, run.Contact == nil); err != nil {
		return
	}
	if variables, err = encode(run.Variables, len(run.Variables) == 0); err != nil {
		return
	}
	if outputs, err = encode(run.StepOutputs, len(run.StepOutputs) == 0); err != nil {
		return
	}
	if counters, err = encode(run.SplitCounters, len(run.SplitCounters) == 0); err != nil {
		return
	}
	warnings, err = encode(run.Warnings, len(run.Warnings) == 0)
	return
}

func scanRun(sc interface{ Scan(...interface{}) error }) (*Run, error) {
	var run Run
	var workspaceID, currentNodeID, contact, variables, outputs, counters sql.NullString
	var waitEventKey, warnings, errorMessage, completedAt sql.NullString
	var startedAt, updatedAt string

	err := sc.Scan(
		&run.ID,
		&run.WorkflowID,
		&workspaceID,
		&currentNodeID,
		&run.Status,
		&contact,
		&variables,
		&outputs,
		&counters,
		&waitEventKey,
		&warnings,
		&errorMessage,
		&startedAt,
		&completedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if run.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for run %s", run.ID)
	}
	if run.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for run %s", run.ID)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse completed_at for run %s", run.ID)
		}
		run.CompletedAt = &t
	}

	decode := func(ns sql.NullString, target interface{}) error {
		if !ns.Valid || ns.String == "" {
			return nil
		}
		return json.Unmarshal([]byte(ns.String), target)
	}
	if err := decode(contact, &run.Contact); err != nil {
		return nil, errors.Wrapf(err, "failed to decode contact for run %s", run.ID)
	}
	if err := decode(variables, &run.Variables); err != nil {
		return nil, errors.Wrapf(err, "failed to decode variables for run %s", run.ID)
	}
	if err := decode(outputs, &run.StepOutputs); err != nil {
		return nil, errors.Wrapf(err, "failed to decode step outputs for run %s", run.ID)
	}
	if err := decode(counters, &run.SplitCounters); err != nil {
		return nil, errors.Wrapf(err, "failed to decode split counters for run %s", run.ID)
	}
	if err := decode(warnings, &run.Warnings); err != nil {
		return nil, errors.Wrapf(err, "failed to decode warnings for run %s", run.ID)
	}

	if workspaceID.Valid {
		run.WorkspaceID = workspaceID.String
	}
	if currentNodeID.Valid {
		run.CurrentNodeID = currentNodeID.String
	}
	if waitEventKey.Valid {
		run.WaitEventKey = waitEventKey.String
	}
	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}

	return &run, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
