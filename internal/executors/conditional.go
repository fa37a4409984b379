package executors

import (
	"context"

	"github.com/tideflow-io/tideflow/internal/expressions"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// ConditionalExecutor routes the cursor. Branch predicates are evaluated
// in declared order against a read-only scope snapshot; the first true
// branch wins. The node's only output is which branch it took, so
// conditionals never mutate the context.
type ConditionalExecutor struct {
	cel *expressions.CELEngine
}

// NewConditionalExecutor creates the conditional executor.
func NewConditionalExecutor(cel *expressions.CELEngine) *ConditionalExecutor {
	return &ConditionalExecutor{cel: cel}
}

func (e *ConditionalExecutor) Type() schema.NodeType { return schema.NodeTypeConditional }

func (e *ConditionalExecutor) Validate(node *schema.WorkflowNode) error {
	var cfg schema.ConditionalConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return err
	}
	if len(cfg.Branches) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "conditional node %q: at least one branch is required", node.ID).WithNode(node.ID)
	}
	for i, b := range cfg.Branches {
		if b.When == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "conditional node %q: branch %d has no when expression", node.ID, i).WithNode(node.ID)
		}
		if b.Next == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "conditional node %q: branch %d has no next target", node.ID, i).WithNode(node.ID)
		}
	}
	return nil
}

func (e *ConditionalExecutor) Execute(ctx context.Context, in ExecutionInput) (*ExecutionResult, error) {
	var cfg schema.ConditionalConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return nil, err
	}

	scope := in.Scope()

	for _, b := range cfg.Branches {
		ok, err := e.cel.EvaluateBool(ctx, b.When, scope)
		if err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeExecutor).WithNode(in.Node.ID)
		}
		if !ok {
			continue
		}
		label := b.Label
		if label == "" {
			label = b.When
		}
		return &ExecutionResult{
			Output:       map[string]any{"branch": label, "next": b.Next},
			NextOverride: b.Next,
			BranchLabel:  label,
		}, nil
	}

	if cfg.Default != "" {
		return &ExecutionResult{
			Output:       map[string]any{"branch": "default", "next": cfg.Default},
			NextOverride: cfg.Default,
			BranchLabel:  "default",
		}, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeNoMatchingBranch,
		"no branch matched and no default declared").WithNode(in.Node.ID)
}

var _ NodeExecutor = (*ConditionalExecutor)(nil)
