package schema

// Event type constants for the per-instance event stream.
const (
	EventInstanceStarted   = "instance_started"
	EventInstanceCompleted = "instance_completed"
	EventInstanceFailed    = "instance_failed"
	EventInstancePaused    = "instance_paused"
	EventInstanceResumed   = "instance_resumed"
	EventInstanceCancelled = "instance_cancelled"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"
	EventNodeSkipped   = "node_skipped"
	EventNodeRetrying  = "node_retrying"

	EventApprovalRequired = "approval_required"
	EventApprovalResolved = "approval_resolved"
	EventInputRequired    = "input_required"
	EventInputSupplied    = "input_supplied"

	EventLoopIterationStarted   = "loop_iteration_started"
	EventLoopIterationCompleted = "loop_iteration_completed"
	EventBranchEvaluated        = "branch_evaluated"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceRunning   InstanceStatus = "running"
	InstancePaused    InstanceStatus = "paused"
	InstanceCompleted InstanceStatus = "completed"
	InstanceFailed    InstanceStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceCompleted || s == InstanceFailed
}

// NodeStatus represents the lifecycle state of a node within an instance.
type NodeStatus string

const (
	NodePending          NodeStatus = "pending"
	NodeRunning          NodeStatus = "running"
	NodeAwaitingApproval NodeStatus = "awaiting_approval"
	NodeAwaitingInput    NodeStatus = "awaiting_input"
	NodeCompleted        NodeStatus = "completed"
	NodeFailed           NodeStatus = "failed"
	NodeSkipped          NodeStatus = "skipped"
)
