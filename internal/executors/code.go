package executors

import (
	"context"

	"github.com/tideflow-io/tideflow/internal/expressions"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// CodeExecutor runs code node scripts through the Expr engine. The script
// sees the resolved params as top-level variables plus the context
// namespaces; programs are pure expressions, so nothing survives between
// invocations.
type CodeExecutor struct {
	expr *expressions.ExprEngine
}

// NewCodeExecutor creates the code executor.
func NewCodeExecutor(engine *expressions.ExprEngine) *CodeExecutor {
	return &CodeExecutor{expr: engine}
}

func (e *CodeExecutor) Type() schema.NodeType { return schema.NodeTypeCode }

func (e *CodeExecutor) Validate(node *schema.WorkflowNode) error {
	var cfg schema.CodeConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return err
	}
	if cfg.Script == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "code node %q: script is required", node.ID).WithNode(node.ID)
	}
	return nil
}

func (e *CodeExecutor) Execute(ctx context.Context, in ExecutionInput) (*ExecutionResult, error) {
	var cfg schema.CodeConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return nil, err
	}

	env := in.Scope()
	for k, v := range in.Params {
		env[k] = v
	}

	out, err := e.expr.Evaluate(ctx, cfg.Script, env)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeExecutor).WithNode(in.Node.ID)
	}

	return &ExecutionResult{Output: map[string]any{"result": out}}, nil
}

var _ NodeExecutor = (*CodeExecutor)(nil)
