package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tideflow-io/tideflow/internal/executors"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// The gate manager enforces one pending request (approval or input) per
// instance. Suspension is a parked goroutine: the instance goroutine
// blocks on a buffered decision channel, holding no thread, while the
// instance is paused. Approve/Reject/SupplyUserInput clear the pending
// record under the run lock before handing off, which is what makes the
// resolution operations idempotent.

// awaitApproval parks the instance behind an approval gate. Called from
// the instance goroutine only.
func (e *Engine) awaitApproval(ctx context.Context, run *instanceRun, node *schema.WorkflowNode, res *executors.ExecutionResult) (gateDecision, error) {
	req := &schema.ApprovalRequest{
		InstanceID: run.id,
		NodeID:     node.ID,
		Phase:      res.Phase,
		Output:     res.Output,
		CreatedAt:  time.Now().UTC(),
	}

	run.mu.Lock()
	if run.pendingApproval != nil || run.pendingInput != nil {
		run.mu.Unlock()
		return gateDecision{}, schema.NewErrorf(schema.ErrCodeConflict,
			"instance %q already has a pending request", run.id).WithNode(node.ID)
	}
	run.gate = make(chan gateDecision, 1)
	run.pendingApproval = req
	e.transitionNodeLocked(run, node.ID, schema.NodeAwaitingApproval)
	e.transitionInstanceLocked(run, schema.InstancePaused)
	run.mu.Unlock()

	e.emit(run, node.ID, schema.EventApprovalRequired, map[string]any{
		"phase":  req.Phase,
		"output": req.Output,
	})
	e.emit(run, node.ID, schema.EventInstancePaused, nil)
	e.log.InfoContext(e.logCtx(run, node.ID), "awaiting approval", "phase", req.Phase)

	select {
	case decision := <-run.gate:
		run.mu.Lock()
		e.transitionInstanceLocked(run, schema.InstanceRunning)
		run.mu.Unlock()
		e.emit(run, node.ID, schema.EventApprovalResolved, map[string]any{
			"approved": decision.approved,
			"reason":   decision.reason,
		})
		e.emit(run, node.ID, schema.EventInstanceResumed, nil)
		return decision, nil

	case <-ctx.Done():
		run.mu.Lock()
		run.pendingApproval = nil
		run.gate = nil
		run.mu.Unlock()
		return gateDecision{}, schema.NewError(schema.ErrCodeCancelled,
			"cancelled while awaiting approval").WithNode(node.ID).WithCause(ctx.Err())
	}
}

// awaitInput parks the instance behind a user-input prompt. Called from
// the instance goroutine only.
func (e *Engine) awaitInput(ctx context.Context, run *instanceRun, node *schema.WorkflowNode, res *executors.ExecutionResult) (any, error) {
	req := &schema.InputRequest{
		InstanceID: run.id,
		NodeID:     node.ID,
		Prompt:     res.Prompt,
		Variable:   res.Variable,
		CreatedAt:  time.Now().UTC(),
	}

	run.mu.Lock()
	if run.pendingApproval != nil || run.pendingInput != nil {
		run.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"instance %q already has a pending request", run.id).WithNode(node.ID)
	}
	run.input = make(chan any, 1)
	run.pendingInput = req
	e.transitionNodeLocked(run, node.ID, schema.NodeAwaitingInput)
	e.transitionInstanceLocked(run, schema.InstancePaused)
	run.mu.Unlock()

	e.emit(run, node.ID, schema.EventInputRequired, map[string]any{
		"prompt":   req.Prompt,
		"variable": req.Variable,
	})
	e.emit(run, node.ID, schema.EventInstancePaused, nil)
	e.log.InfoContext(e.logCtx(run, node.ID), "awaiting user input", "variable", req.Variable)

	select {
	case value := <-run.input:
		run.mu.Lock()
		e.transitionInstanceLocked(run, schema.InstanceRunning)
		run.mu.Unlock()
		if value == nil && len(res.Default) > 0 {
			var v any
			if err := json.Unmarshal(res.Default, &v); err == nil {
				value = v
			}
		}
		e.emit(run, node.ID, schema.EventInputSupplied, map[string]any{"variable": req.Variable})
		e.emit(run, node.ID, schema.EventInstanceResumed, nil)
		return value, nil

	case <-ctx.Done():
		run.mu.Lock()
		run.pendingInput = nil
		run.input = nil
		run.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeCancelled,
			"cancelled while awaiting input").WithNode(node.ID).WithCause(ctx.Err())
	}
}

// ApprovePhase resolves a pending approval gate. editedOutput, when
// non-nil, replaces the gated node output before it is recorded. Returns
// false when no matching request is pending (already resolved, wrong node,
// or unknown instance) — calling it twice is safe.
func (e *Engine) ApprovePhase(instanceID, nodeID string, editedOutput map[string]any) bool {
	return e.resolveGate(instanceID, nodeID, gateDecision{approved: true, output: editedOutput})
}

// RejectPhase resolves a pending approval gate negatively. The node fails
// with reason REJECTED unless it declares an on_reject successor. Returns
// false when no matching request is pending.
func (e *Engine) RejectPhase(instanceID, nodeID, reason string) bool {
	return e.resolveGate(instanceID, nodeID, gateDecision{approved: false, reason: reason})
}

func (e *Engine) resolveGate(instanceID, nodeID string, decision gateDecision) bool {
	run, err := e.get(instanceID)
	if err != nil {
		return false
	}

	run.mu.Lock()
	if run.pendingApproval == nil || run.pendingApproval.NodeID != nodeID {
		run.mu.Unlock()
		return false
	}
	ch := run.gate
	run.pendingApproval = nil
	run.gate = nil
	run.mu.Unlock()

	// Buffered and cleared under the lock: exactly one sender.
	ch <- decision
	return true
}

// SupplyUserInput resolves a pending input prompt with the given value.
func (e *Engine) SupplyUserInput(instanceID, nodeID string, value any) error {
	run, err := e.get(instanceID)
	if err != nil {
		return err
	}

	run.mu.Lock()
	if run.pendingInput == nil || run.pendingInput.NodeID != nodeID {
		run.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict,
			"instance %q has no pending input for node %q", instanceID, nodeID)
	}
	ch := run.input
	run.pendingInput = nil
	run.input = nil
	run.mu.Unlock()

	ch <- value
	return nil
}

// PendingApprovals lists all pending approval requests across instances.
func (e *Engine) PendingApprovals() []*schema.ApprovalRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*schema.ApprovalRequest
	for _, run := range e.running {
		run.mu.Lock()
		if run.pendingApproval != nil {
			req := *run.pendingApproval
			out = append(out, &req)
		}
		run.mu.Unlock()
	}
	return out
}

// PendingInputs lists all pending input requests across instances.
func (e *Engine) PendingInputs() []*schema.InputRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*schema.InputRequest
	for _, run := range e.running {
		run.mu.Lock()
		if run.pendingInput != nil {
			req := *run.pendingInput
			out = append(out, &req)
		}
		run.mu.Unlock()
	}
	return out
}
