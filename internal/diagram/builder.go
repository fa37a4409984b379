package diagram

import (
	"fmt"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// Build constructs a Model from a WorkflowDefinition. statuses, when
// non-nil, overlays runtime node state (keyed by node ID) onto the diagram.
func Build(def *schema.WorkflowDefinition, statuses map[string]schema.NodeStatus) (*Model, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: definition is nil")
	}

	model := &Model{Title: titleFromDef(def)}

	start := &Node{ID: "__start__", Label: "Start", Kind: NodeKindStart}
	model.Nodes = append(model.Nodes, start)
	model.Edges = append(model.Edges, Edge{From: "__start__", To: def.StartNode})

	for i := range def.Nodes {
		n := &def.Nodes[i]
		dn := &Node{
			ID:    n.ID,
			Label: nodeLabel(n),
			Kind:  kindFor(n.Type),
		}
		if statuses != nil {
			dn.Status = string(statuses[n.ID])
		}
		if n.Type == schema.NodeTypeLoop {
			dn.Body = buildLoopBody(n, statuses)
		}
		model.Nodes = append(model.Nodes, dn)
		model.Edges = append(model.Edges, nodeEdges(n)...)
	}

	end := &Node{ID: "__end__", Label: "End", Kind: NodeKindEnd}
	model.Nodes = append(model.Nodes, end)

	// Nodes without any successor flow to the end marker.
	hasOut := make(map[string]bool)
	for _, e := range model.Edges {
		hasOut[e.From] = true
	}
	for i := range def.Nodes {
		if !hasOut[def.Nodes[i].ID] {
			model.Edges = append(model.Edges, Edge{From: def.Nodes[i].ID, To: "__end__"})
		}
	}

	return model, nil
}

// nodeEdges collects the outgoing edges a node declares: next, on_reject,
// and conditional branch targets with their condition labels.
func nodeEdges(n *schema.WorkflowNode) []Edge {
	var edges []Edge
	if n.Next != "" {
		edges = append(edges, Edge{From: n.ID, To: n.Next})
	}
	if n.OnReject != "" {
		edges = append(edges, Edge{From: n.ID, To: n.OnReject, Label: "rejected"})
	}

	if n.Type == schema.NodeTypeConditional {
		var cfg schema.ConditionalConfig
		if n.DecodeConfig(&cfg) == nil {
			for _, b := range cfg.Branches {
				label := b.Label
				if label == "" {
					label = b.When
				}
				edges = append(edges, Edge{From: n.ID, To: b.Next, Label: label})
			}
			if cfg.Default != "" {
				edges = append(edges, Edge{From: n.ID, To: cfg.Default, Label: "default"})
			}
		}
	}
	return edges
}

// buildLoopBody creates the subgraph for a loop node's body. Body node IDs
// are qualified with the loop ID to keep them unique in the diagram.
func buildLoopBody(n *schema.WorkflowNode, statuses map[string]schema.NodeStatus) *SubGraph {
	var cfg schema.LoopConfig
	if n.DecodeConfig(&cfg) != nil || len(cfg.Body) == 0 {
		return nil
	}

	sg := &SubGraph{Label: "body"}
	qualify := func(id string) string { return n.ID + "." + id }

	for i := range cfg.Body {
		bn := &cfg.Body[i]
		sub := &Node{
			ID:    qualify(bn.ID),
			Label: nodeLabel(bn),
			Kind:  kindFor(bn.Type),
		}
		if statuses != nil {
			sub.Status = string(statuses[bn.ID])
		}
		sg.Nodes = append(sg.Nodes, sub)
	}

	for i := range cfg.Body {
		bn := &cfg.Body[i]
		if bn.Next != "" {
			sg.Edges = append(sg.Edges, Edge{From: qualify(bn.ID), To: qualify(bn.Next)})
		} else if i+1 < len(cfg.Body) {
			sg.Edges = append(sg.Edges, Edge{From: qualify(bn.ID), To: qualify(cfg.Body[i+1].ID)})
		}
	}
	return sg
}

func kindFor(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeAgent:
		return NodeKindAgent
	case schema.NodeTypeUserInput:
		return NodeKindInput
	case schema.NodeTypeConditional:
		return NodeKindConditional
	case schema.NodeTypeLoop:
		return NodeKindLoop
	case schema.NodeTypeSubWorkflow:
		return NodeKindSubWorkflow
	default:
		return NodeKindTask
	}
}

func nodeLabel(n *schema.WorkflowNode) string {
	if n.Name != "" {
		return fmt.Sprintf("%s\n(%s)", n.Name, n.Type)
	}
	return fmt.Sprintf("%s\n(%s)", n.ID, n.Type)
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	return def.ID
}
