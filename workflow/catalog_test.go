package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGraph() Graph {
	return Graph{
		Nodes: []Node{
			{ID: "1", SubType: "contact_added"},
			{ID: "2", SubType: "send_email", Data: json.RawMessage(`{"subject":"Welcome","body":"Hi {{contact.first_name}}"}`)},
			{ID: "3", SubType: "has_tag", Data: json.RawMessage(`{"tag":"vip"}`)},
			{ID: "4", SubType: "end_flow"},
			{ID: "5", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "1", To: "2"},
			{From: "2", To: "3"},
			{From: "3", To: "4", Label: EdgeTrue},
			{From: "3", To: "5", Label: EdgeFalse},
		},
	}
}

func TestValidateGraphAcceptsValidGraph(t *testing.T) {
	g := validGraph()
	require.NoError(t, ValidateGraph(&g))
}

func TestValidateGraphRejectsUnknownSubType(t *testing.T) {
	g := validGraph()
	g.Nodes[1].SubType = "teleport_contact"

	err := ValidateGraph(&g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport_contact")
}

func TestValidateGraphRejectsMissingRequiredField(t *testing.T) {
	g := validGraph()
	g.Nodes[1].Data = json.RawMessage(`{"body":"no subject"}`)

	err := ValidateGraph(&g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject")
}

func TestValidateGraphRejectsDanglingEdge(t *testing.T) {
	g := validGraph()
	g.Edges = append(g.Edges, Edge{From: "4", To: "99"})

	err := ValidateGraph(&g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "99")
}

func TestValidateGraphRequiresTrigger(t *testing.T) {
	g := Graph{
		Nodes: []Node{{ID: "1", SubType: "end_flow"}},
	}
	err := ValidateGraph(&g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trigger")
}

func TestValidateGraphRequiresConditionBranches(t *testing.T) {
	g := validGraph()
	// Remove the false branch of the condition
	g.Edges = g.Edges[:3]

	err := ValidateGraph(&g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outgoing edges")
}

func TestValidateGraphRejectsDuplicateNodeIDs(t *testing.T) {
	g := validGraph()
	g.Nodes[4].ID = "4"

	err := ValidateGraph(&g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestCatalogCoversEveryKind(t *testing.T) {
	kinds := map[Kind]bool{}
	for _, spec := range Catalog {
		kinds[spec.Kind] = true
	}
	for _, kind := range []Kind{KindTrigger, KindAction, KindCondition, KindTiming, KindFlow} {
		assert.True(t, kinds[kind], "catalog has no %s nodes", kind)
	}
}

func TestEdgeByLabelFallsBackToPosition(t *testing.T) {
	g := Graph{
		Nodes: []Node{
			{ID: "c", SubType: "has_tag"},
			{ID: "t", SubType: "end_flow"},
			{ID: "f", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "c", To: "t"},
			{From: "c", To: "f"},
		},
	}

	trueEdge := g.EdgeByLabel("c", EdgeTrue)
	require.NotNil(t, trueEdge)
	assert.Equal(t, "t", trueEdge.To)

	falseEdge := g.EdgeByLabel("c", EdgeFalse)
	require.NotNil(t, falseEdge)
	assert.Equal(t, "f", falseEdge.To)
}
