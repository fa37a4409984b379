package executors

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tideflow-io/tideflow/internal/execctx"
	"github.com/tideflow-io/tideflow/internal/expressions"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// NodeExecutor runs one node type. Implementations are stateless; all
// per-instance data arrives through ExecutionInput.
type NodeExecutor interface {
	Type() schema.NodeType
	Validate(node *schema.WorkflowNode) error
	Execute(ctx context.Context, in ExecutionInput) (*ExecutionResult, error)
}

// ExecutionInput is the data handed to an executor for one attempt.
type ExecutionInput struct {
	Node     *schema.WorkflowNode
	Params   map[string]any // resolved input mappings
	Context  *execctx.ExecutionContext
	Resolver *execctx.Resolver
}

// Scope returns the expression scope with the resolved params layered in.
func (in ExecutionInput) Scope() map[string]any {
	scope := in.Context.Scope()
	scope["params"] = in.Params
	return scope
}

// Render interpolates ${{ ... }} tokens in a config template string,
// exposing the resolved params alongside the context namespaces.
func (in ExecutionInput) Render(s string) (any, error) {
	return in.Resolver.InterpolateString(s, in.Context, map[string]any{"params": in.Params})
}

// RenderString is Render with the result coerced to a string.
func (in ExecutionInput) RenderString(s string) (string, error) {
	v, err := in.Render(s)
	if err != nil {
		return "", err
	}
	if str, ok := v.(string); ok {
		return str, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecutor, "cannot render template value: %v", err)
	}
	return string(b), nil
}

// ExecutionResult is what an executor produces. Exactly one of the signal
// fields is meaningful at a time: NeedsApproval parks the node behind an
// approval gate, AwaitInput parks it behind a user-input prompt,
// NextOverride redirects the cursor (conditional nodes), Delegated hands
// the node back to the engine (loop and sub-workflow bodies).
type ExecutionResult struct {
	Output map[string]any

	NeedsApproval bool
	Phase         string

	AwaitInput bool
	Prompt     string
	Variable   string
	Default    json.RawMessage

	NextOverride string
	BranchLabel  string

	Delegated bool
}

// Registry maps node types to executors. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	execs map[schema.NodeType]NodeExecutor
}

// NewRegistry builds a registry from the given executors. Duplicate types
// are a programming error.
func NewRegistry(execs ...NodeExecutor) (*Registry, error) {
	m := make(map[schema.NodeType]NodeExecutor, len(execs))
	for _, e := range execs {
		if _, dup := m[e.Type()]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "duplicate executor for node type %q", e.Type())
		}
		m[e.Type()] = e
	}
	return &Registry{execs: m}, nil
}

// Get returns the executor for a node type.
func (r *Registry) Get(t schema.NodeType) (NodeExecutor, error) {
	e, ok := r.execs[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "no executor registered for node type %q", t)
	}
	return e, nil
}

// Types lists the registered node types.
func (r *Registry) Types() []schema.NodeType {
	out := make([]schema.NodeType, 0, len(r.execs))
	for t := range r.execs {
		out = append(out, t)
	}
	return out
}

// Deps carries the host-injected capabilities executors run against.
type Deps struct {
	Agent         AgentInvoker
	HTTPClient    *http.Client
	WorkspaceRoot string
	CEL           *expressions.CELEngine
	Expr          *expressions.ExprEngine
}

// DefaultRegistry wires all eight node executors from the given deps.
func DefaultRegistry(deps Deps) (*Registry, error) {
	return NewRegistry(
		NewAgentExecutor(deps.Agent, deps.CEL),
		NewUserInputExecutor(),
		NewCodeExecutor(deps.Expr),
		NewHTTPRequestExecutor(deps.HTTPClient, HTTPOptions{}),
		NewFileOperationExecutor(deps.WorkspaceRoot),
		NewConditionalExecutor(deps.CEL),
		NewLoopExecutor(),
		NewSubWorkflowExecutor(),
	)
}

// --- Param helpers shared by executor files ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}
