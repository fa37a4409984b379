package executors

import (
	"context"

	"github.com/tideflow-io/tideflow/internal/expressions"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// AgentInvoker is the host-provided capability that runs a single
// agent/LLM call. The engine never talks to a model directly.
type AgentInvoker interface {
	Invoke(ctx context.Context, req AgentRequest) (*AgentReply, error)
}

// AgentRequest is one agent invocation.
type AgentRequest struct {
	Prompt     string         `json:"prompt"`
	Model      string         `json:"model,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
	InstanceID string         `json:"instance_id"`
	NodeID     string         `json:"node_id"`
}

// AgentReply is the invoker's response.
type AgentReply struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AgentExecutor runs agent nodes: render the prompt, invoke, then decide
// whether the output must pass an approval gate before the instance
// continues. Gating is either unconditional (require_approval) or driven
// by a CEL predicate over the output (false gates).
type AgentExecutor struct {
	invoker AgentInvoker
	cel     *expressions.CELEngine
}

// NewAgentExecutor creates the agent executor.
func NewAgentExecutor(invoker AgentInvoker, cel *expressions.CELEngine) *AgentExecutor {
	return &AgentExecutor{invoker: invoker, cel: cel}
}

func (e *AgentExecutor) Type() schema.NodeType { return schema.NodeTypeAgent }

func (e *AgentExecutor) Validate(node *schema.WorkflowNode) error {
	var cfg schema.AgentConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return err
	}
	if cfg.Prompt == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "agent node %q: prompt is required", node.ID).WithNode(node.ID)
	}
	return nil
}

func (e *AgentExecutor) Execute(ctx context.Context, in ExecutionInput) (*ExecutionResult, error) {
	if e.invoker == nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "no agent capability configured").
			WithDetails(map[string]any{"retryable": false}).WithNode(in.Node.ID)
	}

	var cfg schema.AgentConfig
	if err := in.Node.DecodeConfig(&cfg); err != nil {
		return nil, err
	}

	prompt, err := in.RenderString(cfg.Prompt)
	if err != nil {
		return nil, err
	}

	reply, err := e.invoker.Invoke(ctx, AgentRequest{
		Prompt:     prompt,
		Model:      cfg.Model,
		Options:    cfg.Options,
		InstanceID: in.Context.InstanceID,
		NodeID:     in.Node.ID,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "agent invocation failed: %v", err).
			WithCause(err).WithNode(in.Node.ID)
	}

	output := map[string]any{
		"text":     reply.Text,
		"metadata": reply.Metadata,
	}

	gated := cfg.RequireApproval
	if !gated && cfg.GatePredicate != "" {
		data := in.Scope()
		data["output"] = output
		ok, err := e.cel.EvaluateBool(ctx, cfg.GatePredicate, data)
		if err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeExecutor).WithNode(in.Node.ID)
		}
		gated = !ok
	}

	return &ExecutionResult{
		Output:        output,
		NeedsApproval: gated,
		Phase:         cfg.Phase,
	}, nil
}

var _ NodeExecutor = (*AgentExecutor)(nil)
