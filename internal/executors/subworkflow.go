package executors

import (
	"context"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// SubWorkflowExecutor validates sub_workflow nodes. The engine runs the
// child instance (it owns the registry, the depth counter, and instance
// lifecycle), so Execute only re-checks the reference and hands back.
type SubWorkflowExecutor struct{}

// NewSubWorkflowExecutor creates the sub_workflow executor.
func NewSubWorkflowExecutor() *SubWorkflowExecutor {
	return &SubWorkflowExecutor{}
}

func (e *SubWorkflowExecutor) Type() schema.NodeType { return schema.NodeTypeSubWorkflow }

func (e *SubWorkflowExecutor) Validate(node *schema.WorkflowNode) error {
	var cfg schema.SubWorkflowConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return err
	}
	if cfg.DefinitionID == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "sub_workflow node %q: definition_id is required", node.ID).WithNode(node.ID)
	}
	return nil
}

func (e *SubWorkflowExecutor) Execute(ctx context.Context, in ExecutionInput) (*ExecutionResult, error) {
	if err := e.Validate(in.Node); err != nil {
		return nil, err
	}
	return &ExecutionResult{Delegated: true}, nil
}

var _ NodeExecutor = (*SubWorkflowExecutor)(nil)
