// Package workflow implements the automation graph model: node catalog,
// graph validation, per-run execution context, template resolution,
// condition evaluation and the step handler that advances runs one queue
// job at a time.
package workflow

import (
	"encoding/json"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// Position is the node's placement in the visual builder. Carried through
// storage untouched.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one step in an automation graph.
//
// Data is the subType-specific configuration (URL and method for
// http_request, duration for wait, and so on). String values in Data may
// contain {{...}} template references resolved against the run context
// just before execution.
type Node struct {
	ID              string          `json:"id"`
	SubType         string          `json:"sub_type"`
	Label           string          `json:"label,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Position        Position        `json:"position"`
	ContinueOnError bool            `json:"continue_on_error,omitempty"`
}

// DataMap decodes the node's configuration into a generic map. Returns an
// empty map for nodes without configuration.
func (n *Node) DataMap() (map[string]interface{}, error) {
	if len(n.Data) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(n.Data, &m); err != nil {
		return nil, errors.Wrapf(err, "invalid config for node %s (%s)", n.ID, n.SubType)
	}
	return m, nil
}

// Edge labels used by condition branches
const (
	EdgeTrue  = "true"
	EdgeFalse = "false"
)

// Edge is a directed control-flow connection between two nodes.
// Label distinguishes branches of a condition node ("true"/"false" or a
// branch name); Weight is the percentage for random_split branches.
type Edge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Label  string `json:"label,omitempty"`
	Weight int    `json:"weight,omitempty"`
}

// Graph is a directed graph of workflow nodes rooted at trigger nodes.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// OutgoingEdges returns the edges leaving a node, in declaration order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// EdgeByLabel returns the outgoing edge with the given label, falling back
// to positional convention for unlabeled graphs: the first edge is the
// true branch, the second the false branch.
func (g *Graph) EdgeByLabel(nodeID, label string) *Edge {
	edges := g.OutgoingEdges(nodeID)
	for i := range edges {
		if edges[i].Label == label {
			return &edges[i]
		}
	}
	if len(edges) >= 2 {
		switch label {
		case EdgeTrue:
			return &edges[0]
		case EdgeFalse:
			return &edges[1]
		}
	}
	return nil
}

// TriggerNodes returns the graph's trigger nodes.
func (g *Graph) TriggerNodes() []*Node {
	var triggers []*Node
	for i := range g.Nodes {
		if spec, ok := Catalog[g.Nodes[i].SubType]; ok && spec.Kind == KindTrigger {
			triggers = append(triggers, &g.Nodes[i])
		}
	}
	return triggers
}
