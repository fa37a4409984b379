package schema

import "time"

// ApprovalRequest is a pending gate raised by a node (agent gates and
// explicit require_approval). At most one exists per instance at a time.
type ApprovalRequest struct {
	InstanceID string         `json:"instance_id"`
	NodeID     string         `json:"node_id"`
	Phase      string         `json:"phase,omitempty"`
	Output     map[string]any `json:"output,omitempty"` // the gated node output, editable on approve
	CreatedAt  time.Time      `json:"created_at"`
}

// InputRequest is a pending user-input prompt raised by a user_input node.
type InputRequest struct {
	InstanceID string    `json:"instance_id"`
	NodeID     string    `json:"node_id"`
	Prompt     string    `json:"prompt"`
	Variable   string    `json:"variable"`
	CreatedAt  time.Time `json:"created_at"`
}
