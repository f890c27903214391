package workflow

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// Evaluator picks the outgoing edge for condition nodes.
//
// The RNG and the run's round-robin counters are injectable so split
// behavior is deterministic under test: random_split consumes rng,
// even_split consumes the run's per-node counter.
type Evaluator struct {
	rng func() float64
	now func() time.Time
}

// NewEvaluator creates a condition evaluator with the default RNG and clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{rng: rand.Float64, now: time.Now}
}

// NewEvaluatorWithSources creates an evaluator with an injected RNG and
// clock (for testing).
func NewEvaluatorWithSources(rng func() float64, now func() time.Time) *Evaluator {
	return &Evaluator{rng: rng, now: now}
}

// ChooseEdge evaluates a condition node against the run context and
// returns the outgoing edge to follow. data is the node's config with
// templates already resolved.
func (e *Evaluator) ChooseEdge(g *Graph, node *Node, data map[string]interface{}, run *Run, resolver *Resolver) (*Edge, error) {
	edges := g.OutgoingEdges(node.ID)
	if len(edges) < 2 {
		return nil, errors.Wrapf(errors.ErrInvalidRequest,
			"condition node %s has %d outgoing edges, need at least 2", node.ID, len(edges))
	}

	switch node.SubType {
	case "random_split":
		return pickWeighted(edges, e.rng()), nil

	case "even_split", "split_test", "multivariate_test":
		idx := run.NextSplitIndex(node.ID, len(edges))
		return &edges[idx], nil

	default:
		verdict, err := e.evaluate(node, data, run, resolver)
		if err != nil {
			return nil, err
		}
		label := EdgeFalse
		if verdict {
			label = EdgeTrue
		}
		edge := g.EdgeByLabel(node.ID, label)
		if edge == nil {
			return nil, errors.Wrapf(errors.ErrInvalidRequest,
				"condition node %s has no %q branch", node.ID, label)
		}
		return edge, nil
	}
}

// evaluate computes the boolean verdict for a binary condition node.
func (e *Evaluator) evaluate(node *Node, data map[string]interface{}, run *Run, resolver *Resolver) (bool, error) {
	switch node.SubType {
	case "if_else":
		// Optional custom expression takes precedence over the
		// structured condition list
		if raw, ok := data["expression"].(string); ok && raw != "" {
			return e.evalExpression(raw, run)
		}
		return e.evalConditionList(data, run, resolver)

	case "has_tag":
		tag, _ := data["tag"].(string)
		return contactHasTag(run.Contact, tag), nil

	case "field_value":
		field, _ := data["field"].(string)
		operator, _ := data["operator"].(string)
		contactValue, _ := lookupPath(run.Contact, field)
		return compare(contactValue, operator, stringify(data["value"]))

	case "lead_score":
		operator, _ := data["operator"].(string)
		score, _ := lookupPath(run.Contact, "lead_score")
		return compare(score, operator, stringify(data["value"]))

	case "contact_age":
		operator, _ := data["operator"].(string)
		days := toFloat(data["days"])
		createdRaw, _ := lookupPath(run.Contact, "created_at")
		created, err := time.Parse(time.RFC3339, stringify(createdRaw))
		if err != nil {
			return false, errors.Wrapf(errors.ErrInvalidRequest,
				"contact has no parseable created_at for contact_age condition")
		}
		age := e.now().Sub(created).Hours() / 24
		return compare(age, operator, strconv.FormatFloat(days, 'f', -1, 64))

	case "list_membership":
		listID := stringify(data["list_id"])
		return contactListContains(run.Contact, "lists", listID), nil

	case "contact_owner":
		ownerID := stringify(data["owner_id"])
		owner, _ := lookupPath(run.Contact, "owner_id")
		return stringify(owner) == ownerID, nil

	case "in_campaign":
		campaignID := stringify(data["campaign_id"])
		return contactListContains(run.Contact, "campaigns", campaignID), nil

	case "email_activity":
		activity := stringify(data["activity"])
		return contactListContains(run.Contact, "email_activity", activity), nil

	case "purchase_history":
		operator, _ := data["operator"].(string)
		count, _ := lookupPath(run.Contact, "purchase_count")
		return compare(count, operator, stringify(data["value"]))

	case "time_of_day":
		start, _ := data["start"].(string)
		end, _ := data["end"].(string)
		return withinTimeOfDay(e.now(), start, end), nil

	case "day_of_week":
		return dayMatches(e.now(), data["days"]), nil

	default:
		return false, errors.Wrapf(errors.ErrInvalidRequest,
			"node %s: %q is not a condition sub type", node.ID, node.SubType)
	}
}

// evalExpression evaluates a custom predicate with expr-lang against the
// run context. The environment exposes contact, var and step maps.
func (e *Evaluator) evalExpression(source string, run *Run) (bool, error) {
	steps := make(map[string]interface{}, len(run.StepOutputs))
	for id, raw := range run.StepOutputs {
		var decoded interface{}
		if len(raw) > 0 {
			// Outputs are handler-produced JSON; skip any that fail to
			// decode rather than failing the whole expression
			if err := json.Unmarshal(raw, &decoded); err == nil {
				steps[id] = decoded
			}
		}
	}

	env := map[string]interface{}{
		"contact": run.Contact,
		"var":     run.Variables,
		"step":    steps,
	}

	program, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, errors.Wrapf(err, "invalid condition expression %q", source)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, errors.Wrapf(err, "condition expression %q failed", source)
	}
	verdict, ok := out.(bool)
	if !ok {
		return false, errors.Newf("condition expression %q did not produce a boolean", source)
	}
	return verdict, nil
}

// evalConditionList evaluates the structured condition list of an if_else
// node: [{field, operator, value}] combined with "and" (default) or "or".
func (e *Evaluator) evalConditionList(data map[string]interface{}, run *Run, resolver *Resolver) (bool, error) {
	rawList, ok := data["conditions"].([]interface{})
	if !ok || len(rawList) == 0 {
		return false, errors.Wrap(errors.ErrInvalidRequest, "if_else node has no conditions")
	}

	logic, _ := data["logic"].(string)
	anyMode := strings.EqualFold(logic, "or")

	for _, rawCond := range rawList {
		cond, ok := rawCond.(map[string]interface{})
		if !ok {
			return false, errors.Wrap(errors.ErrInvalidRequest, "malformed condition entry")
		}
		field, _ := cond["field"].(string)
		operator, _ := cond["operator"].(string)
		expected := stringify(cond["value"])

		var actual interface{}
		if resolver != nil && strings.Contains(field, ".") && !strings.HasPrefix(field, "contact.") {
			// Field may reference step outputs or variables
			looked, err := resolver.Lookup(field)
			if err != nil {
				return false, err
			}
			actual = looked
		} else {
			path := strings.TrimPrefix(field, "contact.")
			actual, _ = lookupPath(run.Contact, path)
		}

		verdict, err := compare(actual, operator, expected)
		if err != nil {
			return false, err
		}
		if anyMode && verdict {
			return true, nil
		}
		if !anyMode && !verdict {
			return false, nil
		}
	}
	return !anyMode, nil
}

// compare applies one of the structured condition operators.
func compare(actual interface{}, operator, expected string) (bool, error) {
	actualStr := stringify(actual)

	switch operator {
	case "equals":
		return actualStr == expected, nil
	case "not_equals":
		return actualStr != expected, nil
	case "contains":
		return strings.Contains(actualStr, expected), nil
	case "not_contains":
		return !strings.Contains(actualStr, expected), nil
	case "greater_than":
		a, b, err := bothNumbers(actualStr, expected)
		if err != nil {
			return false, err
		}
		return a > b, nil
	case "less_than":
		a, b, err := bothNumbers(actualStr, expected)
		if err != nil {
			return false, err
		}
		return a < b, nil
	case "is_empty":
		return actualStr == "", nil
	case "is_not_empty":
		return actualStr != "", nil
	default:
		return false, errors.Wrapf(errors.ErrInvalidRequest, "unknown condition operator %q", operator)
	}
}

func bothNumbers(a, b string) (float64, float64, error) {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA != nil || errB != nil {
		return 0, 0, errors.Wrapf(errors.ErrInvalidRequest,
			"numeric comparison needs numbers, got %q and %q", a, b)
	}
	return fa, fb, nil
}

// pickWeighted selects an edge by percentage weight. Unweighted edges
// share the remaining probability evenly; with no weights at all this is
// a uniform pick.
func pickWeighted(edges []Edge, roll float64) *Edge {
	total := 0
	for _, e := range edges {
		total += e.Weight
	}
	if total <= 0 {
		idx := int(roll * float64(len(edges)))
		if idx >= len(edges) {
			idx = len(edges) - 1
		}
		return &edges[idx]
	}

	target := roll * float64(total)
	acc := 0.0
	for i := range edges {
		acc += float64(edges[i].Weight)
		if target < acc {
			return &edges[i]
		}
	}
	return &edges[len(edges)-1]
}

func toFloat(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func contactHasTag(contact map[string]interface{}, tag string) bool {
	return contactListContains(contact, "tags", tag)
}

func contactListContains(contact map[string]interface{}, field, value string) bool {
	raw, ok := lookupPath(contact, field)
	if !ok {
		return false
	}
	list, ok := raw.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if stringify(item) == value {
			return true
		}
	}
	return false
}

// withinTimeOfDay reports whether now's clock time falls in [start, end),
// handling windows that cross midnight.
func withinTimeOfDay(now time.Time, start, end string) bool {
	startMin, okStart := parseClock(start)
	endMin, okEnd := parseClock(end)
	if !okStart || !okEnd {
		return false
	}
	nowMin := now.Hour()*60 + now.Minute()

	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	// Window crosses midnight
	return nowMin >= startMin || nowMin < endMin
}

func parseClock(value string) (int, bool) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 {
		return 0, false
	}
	h, errH := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// dayMatches accepts days as numbers (0=Sunday..6=Saturday) or weekday
// names, matching the schedule package's weekday convention.
func dayMatches(now time.Time, days interface{}) bool {
	list, ok := days.([]interface{})
	if !ok {
		return false
	}
	today := int(now.Weekday())
	todayName := strings.ToLower(now.Weekday().String())

	for _, d := range list {
		switch v := d.(type) {
		case float64:
			if int(v) == today {
				return true
			}
		case string:
			if strings.ToLower(v) == todayName || v == fmt.Sprintf("%d", today) {
				return true
			}
		}
	}
	return false
}
