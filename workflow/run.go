package workflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusWaiting   = "waiting" // Parked on a wait_for_event node
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is the per-execution state threaded through a workflow: the
// RunContext. Each queue job executes exactly one node against it.
//
// Variables holds run-scoped values written by set_variable nodes;
// global-scoped variables live in the workflow_globals table and are
// shared last-writer-wins across runs. StepOutputs records each executed
// node's result, keyed by node id, for {{step_N.field}} references.
type Run struct {
	ID            string                     `json:"id"`
	WorkflowID    string                     `json:"workflow_id"`
	WorkspaceID   string                     `json:"workspace_id,omitempty"`
	CurrentNodeID string                     `json:"current_node_id,omitempty"`
	Status        string                     `json:"status"`
	Contact       map[string]interface{}     `json:"contact,omitempty"`
	Variables     map[string]interface{}     `json:"variables,omitempty"`
	StepOutputs   map[string]json.RawMessage `json:"step_outputs,omitempty"`
	SplitCounters map[string]int             `json:"split_counters,omitempty"`
	WaitEventKey  string                     `json:"wait_event_key,omitempty"`
	ErrorMessage  string                     `json:"error_message,omitempty"`
	Warnings      []string                   `json:"warnings,omitempty"`
	StartedAt     time.Time                  `json:"started_at"`
	CompletedAt   *time.Time                 `json:"completed_at,omitempty"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// NewRunID generates a unique run identifier.
func NewRunID() string {
	return "run_" + uuid.NewString()
}

// RecordStep stores a node's output for later template references.
func (r *Run) RecordStep(nodeID string, output json.RawMessage) {
	if r.StepOutputs == nil {
		r.StepOutputs = make(map[string]json.RawMessage)
	}
	r.StepOutputs[nodeID] = output
}

// SetVariable writes a run-scoped variable.
func (r *Run) SetVariable(name string, value interface{}) {
	if r.Variables == nil {
		r.Variables = make(map[string]interface{})
	}
	r.Variables[name] = value
}

// NextSplitIndex advances the round-robin counter for an even_split node
// and returns the branch index to take.
func (r *Run) NextSplitIndex(nodeID string, branches int) int {
	if branches <= 0 {
		return 0
	}
	if r.SplitCounters == nil {
		r.SplitCounters = make(map[string]int)
	}
	idx := r.SplitCounters[nodeID] % branches
	r.SplitCounters[nodeID]++
	return idx
}

// AddWarning attaches a non-fatal problem to the run, used when a node
// with continue_on_error set swallows a failure.
func (r *Run) AddWarning(warning string) {
	r.Warnings = append(r.Warnings, warning)
}

// Terminal reports whether the run has finished.
func (r *Run) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
