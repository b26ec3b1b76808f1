// Package models defines the domain models shared by the execution runtime.
package models

// NodeTypeChatInput is the canonical input trigger. Its hop passes the
// triggering message through unchanged.
const NodeTypeChatInput = "chatInput"

// Handles that behave like an untagged edge during routing.
const (
	HandleDefault = "default"
	HandleOutput  = "output"
)

// WorkflowGraph is the immutable input of a run.
type WorkflowGraph struct {
	Nodes []NodeSpec `json:"nodes" validate:"required,min=1,dive"`
	Edges []Edge     `json:"edges" validate:"dive"`
}

// NodeSpec is a node instance inside a graph.
type NodeSpec struct {
	ID     string         `json:"id"     validate:"required"`
	Type   string         `json:"type"   validate:"required"`
	Label  string         `json:"label,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge connects two nodes, optionally through a named source handle.
type Edge struct {
	Source       string `json:"source"                 validate:"required"`
	Target       string `json:"target"                 validate:"required"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// Node returns the node with the given id.
func (g WorkflowGraph) Node(id string) (NodeSpec, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return NodeSpec{}, false
}

// OutgoingEdges returns the edges leaving nodeID in declaration order.
func (g WorkflowGraph) OutgoingEdges(nodeID string) []Edge {
	var edges []Edge

	for _, edge := range g.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// IncomingEdges returns the edges entering nodeID in declaration order.
func (g WorkflowGraph) IncomingEdges(nodeID string) []Edge {
	var edges []Edge

	for _, edge := range g.Edges {
		if edge.Target == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// EntryNode returns the canonical input node, or the first node when the
// graph has none.
func (g WorkflowGraph) EntryNode() (NodeSpec, bool) {
	for _, node := range g.Nodes {
		if node.Type == NodeTypeChatInput {
			return node, true
		}
	}

	if len(g.Nodes) == 0 {
		return NodeSpec{}, false
	}

	return g.Nodes[0], true
}

// DisplayName returns the label of the node or its id.
func (n NodeSpec) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}

	return n.ID
}

// ContinueOnFail reports whether an error result of this node should not halt the run.
func (n NodeSpec) ContinueOnFail() bool {
	v, _ := n.Config["continue_on_fail"].(bool)

	return v
}

// Breakpoint reports whether the node is marked as a debug breakpoint.
func (n NodeSpec) Breakpoint() bool {
	v, _ := n.Config["breakpoint"].(bool)

	return v
}
