package workflow

import (
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronittamrakar/Xordon-sub048/errors"
	xtest "github.com/ronittamrakar/Xordon-sub048/internal/testing"
)

func TestCreateAndGetWorkflow(t *testing.T) {
	db := xtest.CreateTestDB(t)
	store := NewStore(db)

	w := &Workflow{
		WorkspaceID: "ws_1",
		Name:        "Welcome flow",
		Graph:       validGraph(),
	}
	require.NoError(t, store.CreateWorkflow(w))
	require.NotEmpty(t, w.ID)
	assert.Equal(t, WorkflowStatusDraft, w.Status)

	got, err := store.GetWorkflow(w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome flow", got.Name)
	assert.Len(t, got.Graph.Nodes, 5)
	assert.Len(t, got.Graph.Edges, 4)
}

func TestCreateWorkflowRejectsInvalidGraph(t *testing.T) {
	db := xtest.CreateTestDB(t)
	store := NewStore(db)

	w := &Workflow{
		Name: "broken",
		Graph: Graph{
			Nodes: []Node{{ID: "1", SubType: "not_a_thing"}},
		},
	}
	err := store.CreateWorkflow(w)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSetWorkflowStatus(t *testing.T) {
	db := xtest.CreateTestDB(t)
	store := NewStore(db)

	w := &Workflow{Name: "flow", Graph: validGraph()}
	require.NoError(t, store.CreateWorkflow(w))

	require.NoError(t, store.SetWorkflowStatus(w.ID, WorkflowStatusActive))
	got, err := store.GetWorkflow(w.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowStatusActive, got.Status)

	err = store.SetWorkflowStatus(w.ID, "paused")
	require.Error(t, err)

	err = store.SetWorkflowStatus("wf_missing", WorkflowStatusArchived)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRunRoundTrip(t *testing.T) {
	db := xtest.CreateTestDB(t)
	store := NewStore(db)

	w := &Workflow{Name: "flow", Graph: validGraph()}
	require.NoError(t, store.CreateWorkflow(w))

	run := &Run{
		WorkflowID:    w.ID,
		WorkspaceID:   "ws_1",
		CurrentNodeID: "2",
		Contact:       map[string]interface{}{"email": "ada@example.com"},
	}
	require.NoError(t, store.CreateRun(run))
	require.NotEmpty(t, run.ID)

	run.SetVariable("greeting", "Hello")
	run.RecordStep("2", json.RawMessage(`{"sent":true}`))
	run.NextSplitIndex("3", 2)
	run.AddWarning("minor issue")
	run.CurrentNodeID = "3"
	require.NoError(t, store.SaveRun(run))

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Equal(t, "3", got.CurrentNodeID)
	assert.Equal(t, "Hello", got.Variables["greeting"])
	assert.JSONEq(t, `{"sent":true}`, string(got.StepOutputs["2"]))
	assert.Equal(t, 1, got.SplitCounters["3"])
	assert.Equal(t, []string{"minor issue"}, got.Warnings)
	assert.Equal(t, "ada@example.com", got.Contact["email"])
}

func TestFindWaitingRuns(t *testing.T) {
	db := xtest.CreateTestDB(t)
	store := NewStore(db)

	w := &Workflow{Name: "flow", Graph: validGraph()}
	require.NoError(t, store.CreateWorkflow(w))

	waiting := &Run{WorkflowID: w.ID, Status: RunStatusWaiting, WaitEventKey: "order_paid_42"}
	require.NoError(t, store.CreateRun(waiting))
	running := &Run{WorkflowID: w.ID}
	require.NoError(t, store.CreateRun(running))

	runs, err := store.FindWaitingRuns("order_paid_42")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, waiting.ID, runs[0].ID)

	runs, err = store.FindWaitingRuns("other_event")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGlobals(t *testing.T) {
	db := xtest.CreateTestDB(t)
	store := NewStore(db)

	_, ok, err := store.GetGlobal("ws_1", "quota")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetGlobal("ws_1", "quota", float64(100)))
	value, ok, err := store.GetGlobal("ws_1", "quota")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(100), value)

	// Last writer wins
	require.NoError(t, store.SetGlobal("ws_1", "quota", float64(200)))
	value, _, err = store.GetGlobal("ws_1", "quota")
	require.NoError(t, err)
	assert.Equal(t, float64(200), value)

	// Workspaces are isolated
	_, ok, err = store.GetGlobal("ws_2", "quota")
	require.NoError(t, err)
	assert.False(t, ok)
}
