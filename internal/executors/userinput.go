package executors

import (
	"context"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// UserInputExecutor parks the instance behind a prompt. The node completes
// when the host supplies a value, which lands both in the node output and
// in the configured context variable.
type UserInputExecutor struct{}

// NewUserInputExecutor creates the user_input executor.
func NewUserInputExecutor() *UserInputExecutor {
	return &UserInputExecutor{}
}

func (e *UserInputExecutor) Type() schema.NodeType { return schema.NodeTypeUserInput }

func (e *UserInputExecutor) Validate(node *schema.WorkflowNode) error {
	var cfg schema.UserInputConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return err
	}
	if cfg.Variable == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "user_input node %q: variable is required", node.ID).WithNode(node.ID)
	}
	return nil
}

func (e *UserInputExecutor) Execute(ctx context.Context, in ExecutionInput) (*ExecutionResult, error) {
	var cfg schema.UserInputConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return nil, err
	}

	prompt, err := in.RenderString(cfg.Prompt)
	if err != nil {
		return nil, err
	}

	return &ExecutionResult{
		AwaitInput: true,
		Prompt:     prompt,
		Variable:   cfg.Variable,
		Default:    cfg.Default,
	}, nil
}

var _ NodeExecutor = (*UserInputExecutor)(nil)
