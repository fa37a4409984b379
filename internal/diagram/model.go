// Package diagram renders workflow definitions as Mermaid flowcharts.
package diagram

// NodeKind classifies a diagram node by its workflow node type.
type NodeKind string

const (
	NodeKindTask        NodeKind = "task"
	NodeKindAgent       NodeKind = "agent"
	NodeKindInput       NodeKind = "input"
	NodeKindConditional NodeKind = "conditional"
	NodeKindLoop        NodeKind = "loop"
	NodeKindSubWorkflow NodeKind = "sub_workflow"
	NodeKindStart       NodeKind = "start"
	NodeKindEnd         NodeKind = "end"
)

// Model is the intermediate representation consumed by the renderer.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status string // runtime node status overlay, empty for definition-only diagrams
	Body   *SubGraph
}

// SubGraph holds a loop body.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// Edge connects two nodes, optionally labeled (branch condition, reject path).
type Edge struct {
	From  string
	To    string
	Label string
}
