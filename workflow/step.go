package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ronittamrakar/Xordon-sub048/errors"
	"github.com/ronittamrakar/Xordon-sub048/queue"
)

// JobTypeStep is the queue job type that advances a workflow run by one node.
const JobTypeStep = "workflow.step"

// stepPayload is the payload of a workflow.step queue job.
type stepPayload struct {
	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
}

// StepHandler executes workflow nodes one queue job at a time.
//
// Suspension is deferred re-scheduling: timing nodes enqueue the next node
// with scheduled_at set to the resume time instead of blocking a worker.
// wait_for_event instead parks the run in waiting status until
// ResumeEvent is called with the matching correlation key.
type StepHandler struct {
	store   *Store
	queue   *queue.Store
	actions *ActionSet
	eval    *Evaluator
	log     *zap.SugaredLogger
	now     func() time.Time
}

// NewStepHandler creates the workflow.step handler.
func NewStepHandler(store *Store, q *queue.Store, actions *ActionSet, eval *Evaluator, log *zap.SugaredLogger) *StepHandler {
	return NewStepHandlerWithClock(store, q, actions, eval, log, time.Now)
}

// NewStepHandlerWithClock creates a step handler with an injectable clock (for testing)
func NewStepHandlerWithClock(store *Store, q *queue.Store, actions *ActionSet, eval *Evaluator, log *zap.SugaredLogger, now func() time.Time) *StepHandler {
	return &StepHandler{store: store, queue: q, actions: actions, eval: eval, log: log, now: now}
}

func (h *StepHandler) Name() string { return JobTypeStep }

// StartRun creates a run for a workflow and enqueues its first node. The
// trigger node itself is never executed; execution begins at the node its
// edge points to. Returns the created run.
func (h *StepHandler) StartRun(workflowID string, contact map[string]interface{}, variables map[string]interface{}) (*Run, error) {
	w, err := h.store.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}
	if w.Status != WorkflowStatusActive {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "workflow %s is not active", workflowID)
	}

	triggers := w.Graph.TriggerNodes()
	if len(triggers) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "workflow %s has no trigger node", workflowID)
	}
	edges := w.Graph.OutgoingEdges(triggers[0].ID)
	if len(edges) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "workflow %s trigger has no outgoing edge", workflowID)
	}

	run := &Run{
		WorkflowID:    workflowID,
		WorkspaceID:   w.WorkspaceID,
		CurrentNodeID: edges[0].To,
		Status:        RunStatusRunning,
		Contact:       contact,
		Variables:     variables,
	}
	if err := h.store.CreateRun(run); err != nil {
		return nil, err
	}

	if err := h.enqueueStep(run, edges[0].To, nil); err != nil {
		return nil, err
	}

	h.log.Infow("Workflow run started",
		"run_id", run.ID,
		"workflow_id", workflowID,
		"first_node", edges[0].To,
	)
	return run, nil
}

// ResumeEvent wakes runs parked on an event correlation key. The event
// data is recorded as the wait node's step output, then the node after
// the wait node is enqueued. Returns how many runs were resumed.
func (h *StepHandler) ResumeEvent(eventKey string, eventData map[string]interface{}) (int, error) {
	runs, err := h.store.FindWaitingRuns(eventKey)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, run := range runs {
		w, err := h.store.GetWorkflow(run.WorkflowID)
		if err != nil {
			return resumed, err
		}

		output, err := json.Marshal(eventData)
		if err != nil {
			return resumed, errors.Wrap(err, "failed to encode event data")
		}
		run.RecordStep(run.CurrentNodeID, output)

		edges := w.Graph.OutgoingEdges(run.CurrentNodeID)
		if len(edges) == 0 {
			h.completeRun(run)
		} else {
			run.Status = RunStatusRunning
			run.WaitEventKey = ""
			run.CurrentNodeID = edges[0].To
		}
		if err := h.store.SaveRun(run); err != nil {
			return resumed, err
		}
		if run.Status == RunStatusRunning {
			if err := h.enqueueStep(run, run.CurrentNodeID, nil); err != nil {
				return resumed, err
			}
		}
		resumed++
	}

	if resumed > 0 {
		h.log.Infow("Waiting runs resumed", "event_key", eventKey, "count", resumed)
	}
	return resumed, nil
}

// Execute runs one node of one workflow run.
func (h *StepHandler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	var payload stepPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, errors.Wrap(err, "invalid workflow.step payload")
	}
	if payload.RunID == "" || payload.NodeID == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "workflow.step payload missing run_id or node_id")
	}

	run, err := h.store.GetRun(payload.RunID)
	if err != nil {
		return nil, err
	}
	if run.Terminal() {
		// A stale-released duplicate may arrive after the run finished
		h.log.Debugw("Skipping step for terminal run", "run_id", run.ID, "status", run.Status)
		return json.Marshal(map[string]string{"run_id": run.ID, "status": run.Status})
	}

	w, err := h.store.GetWorkflow(run.WorkflowID)
	if err != nil {
		return nil, err
	}
	node := w.Graph.NodeByID(payload.NodeID)
	if node == nil {
		return h.failRun(run, errors.Wrapf(errors.ErrInvalidRequest,
			"run %s references unknown node %s", run.ID, payload.NodeID))
	}

	kind, known := NodeKind(node.SubType)
	if !known {
		return h.failRun(run, errors.Wrapf(errors.ErrInvalidRequest,
			"node %s has unknown sub type %q", node.ID, node.SubType))
	}

	run.CurrentNodeID = node.ID

	switch kind {
	case KindTrigger:
		return h.failRun(run, errors.Wrapf(errors.ErrInvalidRequest,
			"trigger node %s cannot be executed", node.ID))
	case KindAction:
		return h.executeAction(ctx, w, run, node)
	case KindCondition:
		return h.executeCondition(w, run, node)
	case KindTiming:
		return h.executeTiming(w, run, node)
	case KindFlow:
		return h.executeFlow(w, run, node)
	default:
		return h.failRun(run, errors.Newf("node %s has unhandled kind %q", node.ID, kind))
	}
}

func (h *StepHandler) resolver(run *Run) *Resolver {
	return NewResolver(run, func(name string) (interface{}, bool, error) {
		return h.store.GetGlobal(run.WorkspaceID, name)
	})
}

func (h *StepHandler) executeAction(ctx context.Context, w *Workflow, run *Run, node *Node) (json.RawMessage, error) {
	data, err := node.DataMap()
	if err != nil {
		return h.failRun(run, err)
	}

	resolved, err := h.resolver(run).ResolveData(data)
	if err == nil {
		var output json.RawMessage
		output, err = h.actions.Execute(ctx, run, node, resolved)
		if err == nil {
			run.RecordStep(node.ID, output)
			return h.advance(w, run, node, output)
		}
	}

	// Resolution or execution failed
	if node.ContinueOnError {
		warning := errors.Newf("node %s (%s) failed, continuing: %v", node.ID, node.SubType, err).Error()
		run.AddWarning(warning)
		run.RecordStep(node.ID, json.RawMessage(`null`))
		h.log.Warnw("Workflow node failed, continue_on_error set",
			"run_id", run.ID,
			"node_id", node.ID,
			"error", err,
		)
		return h.advance(w, run, node, json.RawMessage(`null`))
	}
	return h.failRun(run, err)
}

func (h *StepHandler) executeCondition(w *Workflow, run *Run, node *Node) (json.RawMessage, error) {
	data, err := node.DataMap()
	if err != nil {
		return h.failRun(run, err)
	}
	resolver := h.resolver(run)
	resolved, err := resolver.ResolveData(data)
	if err != nil {
		return h.failRun(run, err)
	}

	edge, err := h.eval.ChooseEdge(&w.Graph, node, resolved, run, resolver)
	if err != nil {
		return h.failRun(run, err)
	}

	output, _ := json.Marshal(map[string]string{"branch": branchName(edge)})
	run.RecordStep(node.ID, output)
	return h.goTo(run, edge.To, nil, output)
}

// executeTiming suspends the run without blocking: the node after the
// timing node is enqueued with scheduled_at set to the resume time.
// wait_for_event has no resume time; the run parks in waiting status.
func (h *StepHandler) executeTiming(w *Workflow, run *Run, node *Node) (json.RawMessage, error) {
	data, err := node.DataMap()
	if err != nil {
		return h.failRun(run, err)
	}
	resolved, err := h.resolver(run).ResolveData(data)
	if err != nil {
		return h.failRun(run, err)
	}

	if node.SubType == "wait_for_event" {
		eventKey, _ := resolved["event"].(string)
		if eventKey == "" {
			return h.failRun(run, errors.Wrapf(errors.ErrInvalidRequest,
				"wait_for_event node %s missing event key", node.ID))
		}
		run.Status = RunStatusWaiting
		run.WaitEventKey = eventKey
		if err := h.store.SaveRun(run); err != nil {
			return nil, err
		}
		h.log.Debugw("Run waiting for event", "run_id", run.ID, "event_key", eventKey)
		return json.Marshal(map[string]string{"status": RunStatusWaiting, "event": eventKey})
	}

	now := h.now()
	resumeAt, err := computeResumeTime(node.SubType, resolved, now)
	if err != nil {
		return h.failRun(run, err)
	}

	output, _ := json.Marshal(map[string]string{"resume_at": resumeAt.UTC().Format(time.RFC3339)})
	run.RecordStep(node.ID, output)

	edges := w.Graph.OutgoingEdges(node.ID)
	if len(edges) == 0 {
		return h.completeAndSave(run, output)
	}
	return h.goTo(run, edges[0].To, &resumeAt, output)
}

func (h *StepHandler) executeFlow(w *Workflow, run *Run, node *Node) (json.RawMessage, error) {
	data, err := node.DataMap()
	if err != nil {
		return h.failRun(run, err)
	}

	switch node.SubType {
	case "end_flow":
		output, _ := json.Marshal(map[string]string{"status": RunStatusCompleted})
		return h.completeAndSave(run, output)

	case "go_to_step":
		target := stringify(data["target_step"])
		if w.Graph.NodeByID(target) == nil {
			return h.failRun(run, errors.Wrapf(errors.ErrInvalidRequest,
				"go_to_step node %s targets unknown node %q", node.ID, target))
		}
		output, _ := json.Marshal(map[string]string{"jumped_to": target})
		// Backward jumps are allowed; loops are the point
		return h.goTo(run, target, nil, output)

	case "start_subflow":
		subflowID := stringify(data["workflow_id"])
		subRun, err := h.StartRun(subflowID, run.Contact, run.Variables)
		if err != nil {
			return h.failRun(run, errors.Wrapf(err, "failed to start subflow %s", subflowID))
		}
		output, _ := json.Marshal(map[string]string{"subflow_run_id": subRun.ID})
		run.RecordStep(node.ID, output)
		return h.advance(w, run, node, output)

	default:
		return h.failRun(run, errors.Wrapf(errors.ErrInvalidRequest,
			"node %s: %q is not a flow control sub type", node.ID, node.SubType))
	}
}

// advance follows the node's single outgoing edge, completing the run at
// a dead end.
func (h *StepHandler) advance(w *Workflow, run *Run, node *Node, output json.RawMessage) (json.RawMessage, error) {
	edges := w.Graph.OutgoingEdges(node.ID)
	if len(edges) == 0 {
		return h.completeAndSave(run, output)
	}
	return h.goTo(run, edges[0].To, nil, output)
}

// goTo moves the run to a node and enqueues its execution, optionally
// deferred to runAt.
func (h *StepHandler) goTo(run *Run, nodeID string, runAt *time.Time, output json.RawMessage) (json.RawMessage, error) {
	run.CurrentNodeID = nodeID
	if err := h.store.SaveRun(run); err != nil {
		return nil, err
	}
	if err := h.enqueueStep(run, nodeID, runAt); err != nil {
		return nil, err
	}
	return output, nil
}

func (h *StepHandler) enqueueStep(run *Run, nodeID string, runAt *time.Time) error {
	payload, err := json.Marshal(stepPayload{RunID: run.ID, NodeID: nodeID})
	if err != nil {
		return errors.Wrap(err, "failed to encode step payload")
	}
	_, err = h.queue.Schedule(JobTypeStep, payload, runAt, run.WorkspaceID, "")
	return err
}

func (h *StepHandler) completeRun(run *Run) {
	now := h.now()
	run.Status = RunStatusCompleted
	run.CompletedAt = &now
	run.WaitEventKey = ""
}

func (h *StepHandler) completeAndSave(run *Run, output json.RawMessage) (json.RawMessage, error) {
	h.completeRun(run)
	if err := h.store.SaveRun(run); err != nil {
		return nil, err
	}
	h.log.Infow("Workflow run completed", "run_id", run.ID, "workflow_id", run.WorkflowID)
	return output, nil
}

// failRun marks the run failed and propagates the error so the queue job
// is failed too.
func (h *StepHandler) failRun(run *Run, cause error) (json.RawMessage, error) {
	now := h.now()
	run.Status = RunStatusFailed
	run.ErrorMessage = cause.Error()
	run.CompletedAt = &now
	if saveErr := h.store.SaveRun(run); saveErr != nil {
		return nil, errors.Wrapf(saveErr, "failed to persist run failure (original: %v)", cause)
	}
	h.log.Warnw("Workflow run failed",
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"node_id", run.CurrentNodeID,
		"error", cause,
	)
	return nil, cause
}

func branchName(edge *Edge) string {
	if edge.Label != "" {
		return edge.Label
	}
	return edge.To
}

// computeResumeTime maps a timing node's config to the absolute resume
// instant.
func computeResumeTime(subType string, data map[string]interface{}, now time.Time) (time.Time, error) {
	switch subType {
	case "wait":
		duration := toFloat(data["duration"])
		unit, _ := data["unit"].(string)
		d, err := delayDuration(duration, unit)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d), nil

	case "wait_until":
		if raw := stringify(data["resume_at"]); raw != "" {
			at, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return time.Time{}, errors.Wrapf(errors.ErrInvalidRequest,
					"wait_until resume_at %q is not RFC3339", raw)
			}
			if !at.After(now) {
				return now, nil
			}
			return at, nil
		}
		if clock := stringify(data["time"]); clock != "" {
			return nextClockTime(now, clock)
		}
		return time.Time{}, errors.Wrap(errors.ErrInvalidRequest, "wait_until needs resume_at or time")

	case "smart_delay":
		// Defer to the start of the configured send window, next
		// occurrence if already past
		window := stringify(data["send_time"])
		if window == "" {
			window = "09:00"
		}
		return nextClockTime(now, window)

	case "business_hours":
		return nextBusinessHour(now, data)

	default:
		return time.Time{}, errors.Wrapf(errors.ErrInvalidRequest, "unknown timing sub type %q", subType)
	}
}

// delayDuration maps the wait node's duration/unit pair to a Duration.
func delayDuration(amount float64, unit string) (time.Duration, error) {
	if amount <= 0 {
		return 0, errors.Wrap(errors.ErrInvalidRequest, "wait duration must be positive")
	}
	unit = strings.TrimSuffix(strings.ToLower(unit), "s")
	switch unit {
	case "minute":
		return time.Duration(amount * float64(time.Minute)), nil
	case "hour":
		return time.Duration(amount * float64(time.Hour)), nil
	case "day", "":
		return time.Duration(amount * 24 * float64(time.Hour)), nil
	case "week":
		return time.Duration(amount * 7 * 24 * float64(time.Hour)), nil
	default:
		return 0, errors.Wrapf(errors.ErrInvalidRequest, "unknown wait unit %q", unit)
	}
}

// nextClockTime returns the next occurrence of HH:MM strictly after now.
func nextClockTime(now time.Time, clock string) (time.Time, error) {
	minutes, ok := parseClock(clock)
	if !ok {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidRequest, "invalid time of day %q", clock)
	}
	candidate := time.Date(now.Year(), now.Month(), now.Day(), minutes/60, minutes%60, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}

// nextBusinessHour returns now if already inside business hours, else the
// start of the next business day. Defaults: Monday-Friday 09:00-17:00.
func nextBusinessHour(now time.Time, data map[string]interface{}) (time.Time, error) {
	start := stringify(data["start"])
	if start == "" {
		start = "09:00"
	}
	end := stringify(data["end"])
	if end == "" {
		end = "17:00"
	}
	days := data["days"]
	if days == nil {
		days = []interface{}{float64(1), float64(2), float64(3), float64(4), float64(5)}
	}

	startMin, ok := parseClock(start)
	if !ok {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidRequest, "invalid business hours start %q", start)
	}

	if dayMatches(now, days) && withinTimeOfDay(now, start, end) {
		return now, nil
	}

	candidate := time.Date(now.Year(), now.Month(), now.Day(), startMin/60, startMin%60, 0, 0, now.Location())
	for i := 0; i < 8; i++ {
		if candidate.After(now) && dayMatches(candidate, days) {
			return candidate, nil
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Time{}, errors.Wrap(errors.ErrInvalidRequest, "business_hours config matches no weekday")
}
