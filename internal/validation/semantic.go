package validation

import (
	"fmt"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// validateSemantic performs reference analysis on the workflow definition.
// Checks: unique node IDs, start node exists, next/on_reject targets exist,
// branch targets exist, loop bodies validated recursively in their own scope.
func validateSemantic(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for i, n := range def.Nodes {
		if nodeIDs[n.ID] {
			result.AddError(fmt.Sprintf("nodes[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		nodeIDs[n.ID] = true
	}

	if !nodeIDs[def.StartNode] {
		result.AddError("start_node", schema.ErrCodeInvalidStartNode,
			fmt.Sprintf("start node %q does not exist", def.StartNode))
	}

	for i := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		validateNodeRefs(&def.Nodes[i], path, nodeIDs, result)
	}

	return result
}

// validateNodeRefs checks one node's successor references and type-specific
// targets against the given ID scope.
func validateNodeRefs(node *schema.WorkflowNode, path string, ids map[string]bool, result *schema.ValidationResult) {
	if node.Next != "" && !ids[node.Next] {
		result.AddError(path+".next", schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent node %q", node.Next))
	}
	if node.OnReject != "" && !ids[node.OnReject] {
		result.AddError(path+".on_reject", schema.ErrCodeValidation,
			fmt.Sprintf("references non-existent node %q", node.OnReject))
	}

	switch node.Type {
	case schema.NodeTypeConditional:
		var cfg schema.ConditionalConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation,
				"malformed conditional config: "+err.Error())
			return
		}
		if len(cfg.Branches) == 0 {
			result.AddError(path+".config.branches", schema.ErrCodeValidation,
				"conditional requires at least one branch")
		}
		for bi, branch := range cfg.Branches {
			bpath := fmt.Sprintf("%s.config.branches[%d]", path, bi)
			if branch.When == "" {
				result.AddError(bpath+".when", schema.ErrCodeValidation,
					"branch condition is empty")
			}
			if branch.Next == "" {
				result.AddError(bpath+".next", schema.ErrCodeValidation,
					"branch target is empty")
			} else if !ids[branch.Next] {
				result.AddError(bpath+".next", schema.ErrCodeValidation,
					fmt.Sprintf("references non-existent node %q", branch.Next))
			}
		}
		if cfg.Default != "" && !ids[cfg.Default] {
			result.AddError(path+".config.default", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", cfg.Default))
		}

	case schema.NodeTypeLoop:
		var cfg schema.LoopConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation,
				"malformed loop config: "+err.Error())
			return
		}
		if len(cfg.Body) == 0 {
			result.AddError(path+".config.body", schema.ErrCodeValidation,
				"loop body is empty")
			return
		}
		// Body nodes form their own jump scope. Successors must stay inside it.
		bodyIDs := make(map[string]bool, len(cfg.Body))
		for bi, bn := range cfg.Body {
			if bodyIDs[bn.ID] {
				result.AddError(fmt.Sprintf("%s.config.body[%d].id", path, bi),
					schema.ErrCodeValidation,
					fmt.Sprintf("duplicate node id %q in loop body", bn.ID))
			}
			bodyIDs[bn.ID] = true
		}
		for bi := range cfg.Body {
			subPath := fmt.Sprintf("%s.config.body[%d]", path, bi)
			validateNodeRefs(&cfg.Body[bi], subPath, bodyIDs, result)
		}
		if cfg.MaxIterations < 0 {
			result.AddError(path+".config.max_iterations", schema.ErrCodeValidation,
				"max_iterations must not be negative")
		}

	case schema.NodeTypeSubWorkflow:
		var cfg schema.SubWorkflowConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation,
				"malformed sub-workflow config: "+err.Error())
			return
		}
		if cfg.DefinitionID == "" {
			result.AddError(path+".config.definition_id", schema.ErrCodeValidation,
				"sub-workflow requires a definition_id")
		}
	}

	if node.Retry != nil && node.Retry.MaxRetries > 10 {
		result.AddWarning(path+".retry.max_retries", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", node.Retry.MaxRetries))
	}
}
