package validation

import (
	"fmt"
	"sort"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// validateGraph performs successor-graph analysis on top-level nodes:
// reachability from the start node (BFS) and self-referencing successors.
// Backward jumps through conditional branches are legal (guarded retry
// patterns), so cycles are not errors here.
func validateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	successors := make(map[string][]string, len(def.Nodes))
	for i := range def.Nodes {
		n := &def.Nodes[i]
		var out []string
		if n.Next != "" {
			out = append(out, n.Next)
		}
		if n.OnReject != "" {
			out = append(out, n.OnReject)
		}
		if n.Type == schema.NodeTypeConditional {
			var cfg schema.ConditionalConfig
			if err := n.DecodeConfig(&cfg); err == nil {
				for _, b := range cfg.Branches {
					out = append(out, b.Next)
				}
				if cfg.Default != "" {
					out = append(out, cfg.Default)
				}
			}
		}
		successors[n.ID] = out

		if n.Next == n.ID {
			result.AddError(fmt.Sprintf("nodes[%d].next", i), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is its own successor", n.ID))
		}
	}

	// BFS from the start node.
	reachable := map[string]bool{def.StartNode: true}
	queue := []string{def.StartNode}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range successors[id] {
			if next != "" && !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	var dead []string
	for _, n := range def.Nodes {
		if !reachable[n.ID] {
			dead = append(dead, n.ID)
		}
	}
	sort.Strings(dead)
	for _, id := range dead {
		result.AddWarning(fmt.Sprintf("nodes[%s]", id), schema.ErrCodeValidation,
			fmt.Sprintf("node %q is unreachable from the start node", id))
	}

	return result
}
