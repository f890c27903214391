package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conditionGraph(subType string) (*Graph, *Node) {
	g := &Graph{
		Nodes: []Node{
			{ID: "c", SubType: subType},
			{ID: "yes", SubType: "end_flow"},
			{ID: "no", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "c", To: "yes", Label: EdgeTrue},
			{From: "c", To: "no", Label: EdgeFalse},
		},
	}
	return g, g.NodeByID("c")
}

func contactRun(contact map[string]interface{}) *Run {
	return &Run{ID: "run_1", Contact: contact}
}

func fixedEval(roll float64, now time.Time) *Evaluator {
	return NewEvaluatorWithSources(func() float64 { return roll }, func() time.Time { return now })
}

func TestHasTagCondition(t *testing.T) {
	g, node := conditionGraph("has_tag")
	eval := NewEvaluator()
	run := contactRun(map[string]interface{}{
		"tags": []interface{}{"vip", "newsletter"},
	})

	edge, err := eval.ChooseEdge(g, node, map[string]interface{}{"tag": "vip"}, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", edge.To)

	edge, err = eval.ChooseEdge(g, node, map[string]interface{}{"tag": "churned"}, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "no", edge.To)
}

func TestFieldValueOperators(t *testing.T) {
	g, node := conditionGraph("field_value")
	eval := NewEvaluator()
	run := contactRun(map[string]interface{}{
		"plan":  "premium",
		"seats": float64(12),
	})

	cases := []struct {
		data map[string]interface{}
		want string
	}{
		{map[string]interface{}{"field": "plan", "operator": "equals", "value": "premium"}, "yes"},
		{map[string]interface{}{"field": "plan", "operator": "not_equals", "value": "free"}, "yes"},
		{map[string]interface{}{"field": "plan", "operator": "contains", "value": "prem"}, "yes"},
		{map[string]interface{}{"field": "plan", "operator": "not_contains", "value": "prem"}, "no"},
		{map[string]interface{}{"field": "seats", "operator": "greater_than", "value": "10"}, "yes"},
		{map[string]interface{}{"field": "seats", "operator": "less_than", "value": "10"}, "no"},
		{map[string]interface{}{"field": "missing", "operator": "is_empty"}, "yes"},
		{map[string]interface{}{"field": "plan", "operator": "is_not_empty"}, "yes"},
	}

	for _, tc := range cases {
		edge, err := eval.ChooseEdge(g, node, tc.data, run, nil)
		require.NoError(t, err, "case %+v", tc.data)
		assert.Equal(t, tc.want, edge.To, "case %+v", tc.data)
	}
}

func TestFieldValueUnknownOperator(t *testing.T) {
	g, node := conditionGraph("field_value")
	eval := NewEvaluator()
	run := contactRun(map[string]interface{}{"plan": "premium"})

	_, err := eval.ChooseEdge(g, node, map[string]interface{}{"field": "plan", "operator": "sounds_like", "value": "x"}, run, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sounds_like")
}

func TestLeadScoreCondition(t *testing.T) {
	g, node := conditionGraph("lead_score")
	eval := NewEvaluator()
	run := contactRun(map[string]interface{}{"lead_score": float64(75)})

	edge, err := eval.ChooseEdge(g, node, map[string]interface{}{"operator": "greater_than", "value": float64(50)}, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", edge.To)
}

func TestIfElseConditionList(t *testing.T) {
	g, node := conditionGraph("if_else")
	eval := NewEvaluator()
	run := contactRun(map[string]interface{}{
		"plan":  "premium",
		"seats": float64(12),
	})

	// AND logic: both must hold
	data := map[string]interface{}{
		"conditions": []interface{}{
			map[string]interface{}{"field": "plan", "operator": "equals", "value": "premium"},
			map[string]interface{}{"field": "seats", "operator": "greater_than", "value": "10"},
		},
	}
	edge, err := eval.ChooseEdge(g, node, data, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", edge.To)

	// OR logic: one hit is enough
	data = map[string]interface{}{
		"logic": "or",
		"conditions": []interface{}{
			map[string]interface{}{"field": "plan", "operator": "equals", "value": "free"},
			map[string]interface{}{"field": "seats", "operator": "greater_than", "value": "10"},
		},
	}
	edge, err = eval.ChooseEdge(g, node, data, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", edge.To)
}

func TestIfElseCustomExpression(t *testing.T) {
	g, node := conditionGraph("if_else")
	eval := NewEvaluator()
	run := contactRun(map[string]interface{}{
		"plan":  "premium",
		"seats": float64(12),
	})

	data := map[string]interface{}{
		"conditions": []interface{}{},
		"expression": `contact.plan == "premium" and contact.seats > 10`,
	}
	edge, err := eval.ChooseEdge(g, node, data, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", edge.To)

	data["expression"] = `contact.plan == "free"`
	edge, err = eval.ChooseEdge(g, node, data, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "no", edge.To)
}

func TestTimeOfDayCondition(t *testing.T) {
	g, node := conditionGraph("time_of_day")
	data := map[string]interface{}{"start": "09:00", "end": "17:00"}
	run := contactRun(nil)

	inside := fixedEval(0, time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC))
	edge, err := inside.ChooseEdge(g, node, data, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", edge.To)

	outside := fixedEval(0, time.Date(2026, 8, 31, 20, 0, 0, 0, time.UTC))
	edge, err = outside.ChooseEdge(g, node, data, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "no", edge.To)
}

func TestTimeOfDayCrossingMidnight(t *testing.T) {
	g, node := conditionGraph("time_of_day")
	data := map[string]interface{}{"start": "22:00", "end": "06:00"}
	run := contactRun(nil)

	night := fixedEval(0, time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC))
	edge, err := night.ChooseEdge(g, node, data, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", edge.To)

	morning := fixedEval(0, time.Date(2026, 8, 31, 7, 0, 0, 0, time.UTC))
	edge, err = morning.ChooseEdge(g, node, data, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "no", edge.To)
}

func TestDayOfWeekCondition(t *testing.T) {
	g, node := conditionGraph("day_of_week")
	run := contactRun(nil)
	// 2026-08-31 is a Monday
	monday := fixedEval(0, time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))

	edge, err := monday.ChooseEdge(g, node, map[string]interface{}{
		"days": []interface{}{float64(1), float64(3)},
	}, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", edge.To)

	edge, err = monday.ChooseEdge(g, node, map[string]interface{}{
		"days": []interface{}{"saturday", "sunday"},
	}, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "no", edge.To)
}

func TestRandomSplitUsesWeights(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			{ID: "s", SubType: "random_split"},
			{ID: "a", SubType: "end_flow"},
			{ID: "b", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "s", To: "a", Weight: 30},
			{From: "s", To: "b", Weight: 70},
		},
	}
	node := g.NodeByID("s")
	run := contactRun(nil)

	low := fixedEval(0.1, time.Now())
	edge, err := low.ChooseEdge(g, node, nil, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", edge.To)

	high := fixedEval(0.9, time.Now())
	edge, err = high.ChooseEdge(g, node, nil, run, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", edge.To)
}

func TestEvenSplitRoundRobins(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			{ID: "s", SubType: "even_split"},
			{ID: "a", SubType: "end_flow"},
			{ID: "b", SubType: "end_flow"},
		},
		Edges: []Edge{
			{From: "s", To: "a"},
			{From: "s", To: "b"},
		},
	}
	node := g.NodeByID("s")
	run := contactRun(nil)
	eval := NewEvaluator()

	var picks []string
	for i := 0; i < 4; i++ {
		edge, err := eval.ChooseEdge(g, node, nil, run, nil)
		require.NoError(t, err)
		picks = append(picks, edge.To)
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, picks)
}
