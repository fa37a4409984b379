package engine

import (
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// ValidInstanceTransitions is the instance status transition table.
// Completed and failed are terminal.
var ValidInstanceTransitions = map[schema.InstanceStatus][]schema.InstanceStatus{
	schema.InstancePending: {schema.InstanceRunning, schema.InstanceFailed},
	schema.InstanceRunning: {schema.InstancePaused, schema.InstanceCompleted, schema.InstanceFailed},
	schema.InstancePaused:  {schema.InstanceRunning, schema.InstanceFailed},
	schema.InstanceCompleted: {},
	schema.InstanceFailed:    {},
}

// ValidNodeTransitions is the node status transition table.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodePending: {schema.NodeRunning, schema.NodeSkipped, schema.NodeFailed},
	schema.NodeRunning: {
		schema.NodeAwaitingApproval, schema.NodeAwaitingInput,
		schema.NodeCompleted, schema.NodeFailed,
		// loop body re-entry restarts a completed node
		schema.NodeRunning,
	},
	schema.NodeAwaitingApproval: {schema.NodeCompleted, schema.NodeFailed},
	schema.NodeAwaitingInput:    {schema.NodeCompleted, schema.NodeFailed},
	schema.NodeCompleted:        {schema.NodeRunning, schema.NodeSkipped},
	schema.NodeFailed:           {schema.NodeRunning},
	schema.NodeSkipped:          {schema.NodeRunning},
}

// canTransitionInstance reports whether from -> to is a legal instance transition.
func canTransitionInstance(from, to schema.InstanceStatus) bool {
	for _, allowed := range ValidInstanceTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// canTransitionNode reports whether from -> to is a legal node transition.
func canTransitionNode(from, to schema.NodeStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range ValidNodeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
