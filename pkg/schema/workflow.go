package schema

import (
	"encoding/json"
	"fmt"
)

// WorkflowDefinition is the serializable workflow format. Hosts register
// definitions with the engine (or load them from a definition directory)
// and start instances against them by ID and version.
type WorkflowDefinition struct {
	ID        string         `json:"id" yaml:"id"`
	Version   string         `json:"version,omitempty" yaml:"version,omitempty"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	StartNode string         `json:"start_node,omitempty" yaml:"start_node,omitempty"` // default: first node
	Nodes     []WorkflowNode `json:"nodes" yaml:"nodes"`
	Variables map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"` // initial context variables
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Node returns the node with the given ID, or nil.
func (d *WorkflowDefinition) Node(id string) *WorkflowNode {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// Start returns the effective start node ID.
func (d *WorkflowDefinition) Start() string {
	if d.StartNode != "" {
		return d.StartNode
	}
	if len(d.Nodes) > 0 {
		return d.Nodes[0].ID
	}
	return ""
}

// WorkflowNode describes a single node in a workflow.
type WorkflowNode struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name,omitempty" yaml:"name,omitempty"`
	Type          NodeType        `json:"type" yaml:"type"`
	Config        json.RawMessage `json:"config,omitempty"`                             // type-specific config block; YAML loads go through a JSON round-trip
	Inputs        []InputMapping  `json:"inputs,omitempty" yaml:"inputs,omitempty"`     // resolved into executor params
	Outputs       []OutputMapping `json:"outputs,omitempty" yaml:"outputs,omitempty"`   // folded into context variables
	Retry         *RetryPolicy    `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout       string          `json:"timeout,omitempty" yaml:"timeout,omitempty"`   // per-attempt deadline (e.g. "30s")
	SkipCondition string          `json:"skip_condition,omitempty" yaml:"skip_condition,omitempty"` // CEL; true skips the node
	Next          string          `json:"next,omitempty" yaml:"next,omitempty"`         // successor; empty ends the instance
	OnReject      string          `json:"on_reject,omitempty" yaml:"on_reject,omitempty"` // successor on gate rejection
}

// NodeType enumerates the kinds of nodes in a workflow.
type NodeType string

const (
	NodeTypeAgent         NodeType = "agent"
	NodeTypeUserInput     NodeType = "user_input"
	NodeTypeCode          NodeType = "code"
	NodeTypeHTTPRequest   NodeType = "http_request"
	NodeTypeFileOperation NodeType = "file_operation"
	NodeTypeConditional   NodeType = "conditional"
	NodeTypeLoop          NodeType = "loop"
	NodeTypeSubWorkflow   NodeType = "sub_workflow"
)

// RetryPolicy configures retry behavior for a node. The delay before
// retry n (1-based) is BaseDelay * BackoffMultiplier^(n-1). A per-attempt
// timeout counts as a failed attempt.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries" yaml:"max_retries"`
	BaseDelay         string  `json:"base_delay,omitempty" yaml:"base_delay,omitempty"` // e.g. "500ms" (default: 1s)
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"` // default: 2.0
}

// InputMapping binds one executor parameter. Exactly one of From or Value
// should be set: From is a context path (variables.x, nodes.<id>.output.y,
// loop.item, refs.k, run.instance_id); Value is a literal, with ${{ ... }}
// interpolation applied to strings. Default applies only when From does not
// resolve. Transform is an optional jq program applied to the result.
type InputMapping struct {
	Key       string          `json:"key" yaml:"key"`
	From      string          `json:"from,omitempty" yaml:"from,omitempty"`
	Value     json.RawMessage `json:"value,omitempty" yaml:"value,omitempty"`
	Default   json.RawMessage `json:"default,omitempty" yaml:"default,omitempty"`
	Transform string          `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// OutputMapping folds part of a node's output into a context variable after
// the node completes. Empty Path exports the whole output object.
type OutputMapping struct {
	Variable string `json:"variable" yaml:"variable"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
}

// AgentConfig is the config block for agent nodes. The prompt may reference
// resolved input parameters with ${{ params.<key> }}.
type AgentConfig struct {
	Prompt          string         `json:"prompt" yaml:"prompt"`
	Model           string         `json:"model,omitempty" yaml:"model,omitempty"`
	Options         map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
	Phase           string         `json:"phase,omitempty" yaml:"phase,omitempty"` // label carried into approval requests
	RequireApproval bool           `json:"require_approval,omitempty" yaml:"require_approval,omitempty"`
	GatePredicate   string         `json:"gate_predicate,omitempty" yaml:"gate_predicate,omitempty"` // CEL over output; false gates
}

// UserInputConfig is the config block for user_input nodes.
type UserInputConfig struct {
	Prompt   string          `json:"prompt" yaml:"prompt"`
	Variable string          `json:"variable" yaml:"variable"` // context variable receiving the supplied value
	Default  json.RawMessage `json:"default,omitempty" yaml:"default,omitempty"`
}

// CodeConfig is the config block for code nodes. The script is an
// expression evaluated against the resolved input parameters; its result
// becomes the node output under "result".
type CodeConfig struct {
	Script string `json:"script" yaml:"script"`
}

// HTTPRequestConfig is the config block for http_request nodes.
type HTTPRequestConfig struct {
	Method       string            `json:"method" yaml:"method"`
	URL          string            `json:"url" yaml:"url"` // supports ${{ params.* }} interpolation
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Query        map[string]string `json:"query,omitempty" yaml:"query,omitempty"`
	Body         json.RawMessage   `json:"body,omitempty" yaml:"body,omitempty"`
	BodyEncoding string            `json:"body_encoding,omitempty" yaml:"body_encoding,omitempty"` // json | form | raw (default: json)
	Timeout      string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxBodyBytes int64             `json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty"`
}

// FileOperationConfig is the config block for file_operation nodes.
// All paths are relative to the engine's workspace root.
type FileOperationConfig struct {
	Op      string `json:"op" yaml:"op"` // read | write | append | delete | copy | move | list | stat
	Path    string `json:"path" yaml:"path"`
	Dest    string `json:"dest,omitempty" yaml:"dest,omitempty"`       // copy/move target
	Content string `json:"content,omitempty" yaml:"content,omitempty"` // write/append; ${{ params.* }} interpolated
}

// ConditionalConfig is the config block for conditional nodes. Branches are
// evaluated in order; the first whose When expression is true wins.
type ConditionalConfig struct {
	Branches []ConditionalBranch `json:"branches" yaml:"branches"`
	Default  string              `json:"default,omitempty" yaml:"default,omitempty"` // successor when no branch matches
}

// ConditionalBranch is one arm of a conditional node.
type ConditionalBranch struct {
	When  string `json:"when" yaml:"when"` // CEL expression
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Next  string `json:"next" yaml:"next"` // successor node ID
}

// LoopConfig is the config block for loop nodes.
type LoopConfig struct {
	Mode          string         `json:"mode" yaml:"mode"` // count | while | for_each
	Count         int            `json:"count,omitempty" yaml:"count,omitempty"`
	Condition     string         `json:"condition,omitempty" yaml:"condition,omitempty"` // CEL, while mode
	Collection    string         `json:"collection,omitempty" yaml:"collection,omitempty"` // context path, for_each mode
	MaxIterations int            `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"` // default: 1000
	Body          []WorkflowNode `json:"body" yaml:"body"` // executed sequentially each iteration
}

// Loop modes.
const (
	LoopModeCount   = "count"
	LoopModeWhile   = "while"
	LoopModeForEach = "for_each"
)

// DefaultMaxIterations caps loops that do not declare their own bound.
const DefaultMaxIterations = 1000

// SubWorkflowConfig is the config block for sub_workflow nodes.
type SubWorkflowConfig struct {
	DefinitionID     string   `json:"definition_id" yaml:"definition_id"`
	Version          string   `json:"version,omitempty" yaml:"version,omitempty"`
	Outputs          []string `json:"outputs,omitempty" yaml:"outputs,omitempty"` // child variables folded back into the parent
	InheritVariables bool     `json:"inherit_variables,omitempty" yaml:"inherit_variables,omitempty"`
}

// DecodeConfig unmarshals a node's config block into dst.
func (n *WorkflowNode) DecodeConfig(dst any) error {
	if len(n.Config) == 0 {
		return NewErrorf(ErrCodeValidation, "node %q (%s) has no config", n.ID, n.Type).WithNode(n.ID)
	}
	if err := json.Unmarshal(n.Config, dst); err != nil {
		return NewErrorf(ErrCodeValidation, "node %q: invalid %s config: %v", n.ID, n.Type, err).WithNode(n.ID)
	}
	return nil
}

// String implements fmt.Stringer for log output.
func (n *WorkflowNode) String() string {
	return fmt.Sprintf("%s(%s)", n.ID, n.Type)
}
