package executors

import (
	"context"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// LoopExecutor validates loop nodes. Iteration itself is engine-driven:
// the engine owns the frame stack and the cursor, so Execute only
// re-checks the bounds and hands the node back.
type LoopExecutor struct{}

// NewLoopExecutor creates the loop executor.
func NewLoopExecutor() *LoopExecutor {
	return &LoopExecutor{}
}

func (e *LoopExecutor) Type() schema.NodeType { return schema.NodeTypeLoop }

func (e *LoopExecutor) Validate(node *schema.WorkflowNode) error {
	var cfg schema.LoopConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return err
	}
	switch cfg.Mode {
	case schema.LoopModeCount:
		if cfg.Count <= 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "loop node %q: count must be positive", node.ID).WithNode(node.ID)
		}
	case schema.LoopModeWhile:
		if cfg.Condition == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "loop node %q: while mode requires a condition", node.ID).WithNode(node.ID)
		}
	case schema.LoopModeForEach:
		if cfg.Collection == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "loop node %q: for_each mode requires a collection path", node.ID).WithNode(node.ID)
		}
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "loop node %q: unknown mode %q", node.ID, cfg.Mode).WithNode(node.ID)
	}
	if len(cfg.Body) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "loop node %q: body is empty", node.ID).WithNode(node.ID)
	}
	if cfg.MaxIterations < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "loop node %q: max_iterations must not be negative", node.ID).WithNode(node.ID)
	}
	return nil
}

func (e *LoopExecutor) Execute(ctx context.Context, in ExecutionInput) (*ExecutionResult, error) {
	if err := e.Validate(in.Node); err != nil {
		return nil, err
	}
	return &ExecutionResult{Delegated: true}, nil
}

var _ NodeExecutor = (*LoopExecutor)(nil)
