package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ronittamrakar/Xordon-sub048/errors"
	xtest "github.com/ronittamrakar/Xordon-sub048/internal/testing"
	"github.com/ronittamrakar/Xordon-sub048/queue"
)

type recordingMailer struct {
	sent []string
	fail bool
}

func (m *recordingMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	if m.fail {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, to+": "+subject)
	return nil
}

type stepFixture struct {
	store   *Store
	queue   *queue.Store
	handler *StepHandler
	mailer  *recordingMailer
	now     time.Time
}

func newStepFixture(t *testing.T) *stepFixture {
	t.Helper()
	db := xtest.CreateTestDB(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := &stepFixture{
		store:  NewStoreWithClock(db, clock),
		queue:  queue.NewStoreWithClock(db, clock),
		mailer: &recordingMailer{},
		now:    now,
	}
	actions := NewActionSet(ActionDeps{
		Mailer:    f.mailer,
		SetGlobal: f.store.SetGlobal,
	}, zap.NewNop().Sugar())
	eval := NewEvaluatorWithSources(func() float64 { return 0 }, clock)
	f.handler = NewStepHandlerWithClock(f.store, f.queue, actions, eval, zap.NewNop().Sugar(), clock)
	return f
}

func (f *stepFixture) activeWorkflow(t *testing.T, g Graph) *Workflow {
	t.Helper()
	w := &Workflow{Name: "test flow", WorkspaceID: "ws_1", Graph: g}
	require.NoError(t, f.store.CreateWorkflow(w))
	require.NoError(t, f.store.SetWorkflowStatus(w.ID, WorkflowStatusActive))
	return w
}

// drain executes due workflow.step jobs until the queue is empty.
func (f *stepFixture) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 50; i++ {
		job, err := f.queue.FetchNext()
		require.NoError(t, err)
		if job == nil {
			return
		}
		result, err := f.handler.Execute(context.Background(), job)
		if err != nil {
			require.NoError(t, f.queue.Fail(job.ID, err.Error()))
		} else {
			require.NoError(t, f.queue.Complete(job.ID, result))
		}
	}
	t.Fatal("queue did not drain after 50 jobs, possible infinite loop")
}

func TestStartRunEnqueuesFirstNode(t *testing.T) {
	f := newStepFixture(t)
	w := f.activeWorkflow(t, validGraph())

	run, err := f.handler.StartRun(w.ID, map[string]interface{}{"email": "ada@example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Equal(t, "2", run.CurrentNodeID, "execution starts after the trigger")

	job, err := f.queue.FetchNext()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeStep, job.JobType)
}

func TestStartRunRejectsInactiveWorkflow(t *testing.T) {
	f := newStepFixture(t)
	w := &Workflow{Name: "draft flow", Graph: validGraph()}
	require.NoError(t, f.store.CreateWorkflow(w))

	_, err := f.handler.StartRun(w.ID, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestRunExecutesActionAndConditionToCompletion(t *testing.T) {
	f := newStepFixture(t)
	w := f.activeWorkflow(t, validGraph())

	run, err := f.handler.StartRun(w.ID, map[string]interface{}{
		"email":      "ada@example.com",
		"first_name": "Ada",
		"tags":       []interface{}{"vip"},
	}, nil)
	require.NoError(t, err)

	f.drain(t)

	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	// has_tag("vip") is true, so the run went through node 4
	assert.Equal(t, "4", got.CurrentNodeID)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "ada@example.com: Welcome", f.mailer.sent[0])

	// The email step recorded its output for later references
	assert.Contains(t, string(got.StepOutputs["2"]), `"sent":true`)
}

func TestWaitNodeDefersNextStep(t *testing.T) {
	f := newStepFixture(t)
	g := Graph{
		Nodes: []Node{
			{ID: "1", SubType: "manual"},
			{ID: "2", SubType: "wait", Data: json.RawMessage(`{"duration":3,"unit":"day"}`)},
			{ID: "3", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "1", To: "2"},
			{From: "2", To: "3"},
		},
	}
	w := f.activeWorkflow(t, g)

	run, err := f.handler.StartRun(w.ID, nil, nil)
	require.NoError(t, err)

	// Executes the wait node; node 3 gets scheduled 3 days out
	f.drain(t)

	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Equal(t, "3", got.CurrentNodeID)

	pending := queue.StatusPending
	jobs, err := f.queue.ListJobs(&pending, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].ScheduledAt.Equal(f.now.Add(72*time.Hour)),
		"next step scheduled at the resume time, not run by a sleeping worker")
}

func TestWaitForEventParksAndResumeWakes(t *testing.T) {
	f := newStepFixture(t)
	g := Graph{
		Nodes: []Node{
			{ID: "1", SubType: "manual"},
			{ID: "2", SubType: "wait_for_event", Data: json.RawMessage(`{"event":"order_paid_{{contact.id}}"}`)},
			{ID: "3", SubType: "send_email", Data: json.RawMessage(`{"subject":"Receipt {{step_2.order_id}}"}`)},
		},
		Edges: []Edge{
			{From: "1", To: "2"},
			{From: "2", To: "3"},
		},
	}
	w := f.activeWorkflow(t, g)

	run, err := f.handler.StartRun(w.ID, map[string]interface{}{
		"id":    "42",
		"email": "ada@example.com",
	}, nil)
	require.NoError(t, err)

	f.drain(t)

	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusWaiting, got.Status)
	assert.Equal(t, "order_paid_42", got.WaitEventKey)
	assert.Empty(t, f.mailer.sent)

	resumed, err := f.handler.ResumeEvent("order_paid_42", map[string]interface{}{"order_id": "ORD-7"})
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	f.drain(t)

	got, err = f.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "ada@example.com: Receipt ORD-7", f.mailer.sent[0],
		"event data is referenceable as the wait node's step output")
}

func TestContinueOnErrorAttachesWarning(t *testing.T) {
	f := newStepFixture(t)
	f.mailer.fail = true
	g := Graph{
		Nodes: []Node{
			{ID: "1", SubType: "manual"},
			{ID: "2", SubType: "send_email", Data: json.RawMessage(`{"subject":"x"}`), ContinueOnError: true},
			{ID: "3", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "1", To: "2"},
			{From: "2", To: "3"},
		},
	}
	w := f.activeWorkflow(t, g)

	run, err := f.handler.StartRun(w.ID, map[string]interface{}{"email": "a@b.c"}, nil)
	require.NoError(t, err)

	f.drain(t)

	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "smtp down")
	assert.Equal(t, "null", string(got.StepOutputs["2"]), "failed node substitutes a null output")
}

func TestActionFailureFailsRunWithoutContinueOnError(t *testing.T) {
	f := newStepFixture(t)
	f.mailer.fail = true
	g := Graph{
		Nodes: []Node{
			{ID: "1", SubType: "manual"},
			{ID: "2", SubType: "send_email", Data: json.RawMessage(`{"subject":"x"}`)},
			{ID: "3", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "1", To: "2"},
			{From: "2", To: "3"},
		},
	}
	w := f.activeWorkflow(t, g)

	run, err := f.handler.StartRun(w.ID, map[string]interface{}{"email": "a@b.c"}, nil)
	require.NoError(t, err)

	f.drain(t)

	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "smtp down")

	failed := queue.StatusFailed
	jobs, err := f.queue.ListJobs(&failed, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "the step job is failed alongside the run")
}

func TestForwardStepReferenceFailsRun(t *testing.T) {
	f := newStepFixture(t)
	g := Graph{
		Nodes: []Node{
			{ID: "1", SubType: "manual"},
			{ID: "2", SubType: "send_email", Data: json.RawMessage(`{"subject":"{{step_3.result}}"}`)},
			{ID: "3", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "1", To: "2"},
			{From: "2", To: "3"},
		},
	}
	w := f.activeWorkflow(t, g)

	run, err := f.handler.StartRun(w.ID, map[string]interface{}{"email": "a@b.c"}, nil)
	require.NoError(t, err)

	f.drain(t)

	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "has not executed")
}

func TestSetVariableGlobalScope(t *testing.T) {
	f := newStepFixture(t)
	g := Graph{
		Nodes: []Node{
			{ID: "1", SubType: "manual"},
			{ID: "2", SubType: "set_variable", Data: json.RawMessage(`{"name":"launch","value":"go","scope":"global"}`)},
			{ID: "3", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "1", To: "2"},
			{From: "2", To: "3"},
		},
	}
	w := f.activeWorkflow(t, g)

	_, err := f.handler.StartRun(w.ID, nil, nil)
	require.NoError(t, err)
	f.drain(t)

	value, ok, err := f.store.GetGlobal("ws_1", "launch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "go", value)
}

func TestGoToStepLoopsBackward(t *testing.T) {
	f := newStepFixture(t)
	// Loop: set counter, check it, jump back until it passes
	g := Graph{
		Nodes: []Node{
			{ID: "1", SubType: "manual"},
			{ID: "2", SubType: "even_split"},
			{ID: "3", SubType: "go_to_step", Data: json.RawMessage(`{"target_step":"2"}`)},
			{ID: "4", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "1", To: "2"},
			{From: "2", To: "3"},
			{From: "2", To: "4"},
		},
	}
	w := f.activeWorkflow(t, g)

	run, err := f.handler.StartRun(w.ID, nil, nil)
	require.NoError(t, err)

	f.drain(t)

	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	// First pass through the even split took branch one (the loop), the
	// second pass took branch two (end_flow)
	assert.Equal(t, 2, got.SplitCounters["2"])
}

func TestStepSkipsTerminalRun(t *testing.T) {
	f := newStepFixture(t)
	w := f.activeWorkflow(t, validGraph())

	run, err := f.handler.StartRun(w.ID, map[string]interface{}{
		"email": "a@b.c", "first_name": "A", "tags": []interface{}{},
	}, nil)
	require.NoError(t, err)
	f.drain(t)

	// A duplicate step job for a finished run is a harmless no-op
	payload, _ := json.Marshal(stepPayload{RunID: run.ID, NodeID: "2"})
	result, err := f.handler.Execute(context.Background(), &queue.Job{
		JobType: JobTypeStep,
		Payload: payload,
	})
	require.NoError(t, err)
	assert.Contains(t, string(result), RunStatusCompleted)
	assert.Len(t, f.mailer.sent, 1, "no second email")
}

func TestStartSubflow(t *testing.T) {
	f := newStepFixture(t)

	sub := f.activeWorkflow(t, Graph{
		Nodes: []Node{
			{ID: "1", SubType: "manual"},
			{ID: "2", SubType: "send_email", Data: json.RawMessage(`{"subject":"from subflow"}`)},
		},
		Edges: []Edge{{From: "1", To: "2"}},
	})

	parent := f.activeWorkflow(t, Graph{
		Nodes: []Node{
			{ID: "1", SubType: "manual"},
			{ID: "2", SubType: "start_subflow", Data: json.RawMessage(`{"workflow_id":"` + sub.ID + `"}`)},
			{ID: "3", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "1", To: "2"},
			{From: "2", To: "3"},
		},
	})

	run, err := f.handler.StartRun(parent.ID, map[string]interface{}{"email": "a@b.c"}, nil)
	require.NoError(t, err)

	f.drain(t)

	got, err := f.store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
	require.Len(t, f.mailer.sent, 1, "the nested run executed its own nodes")
	assert.Contains(t, string(got.StepOutputs["2"]), "subflow_run_id")
}
