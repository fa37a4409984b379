package engine

import (
	"context"
	"time"

	"github.com/tideflow-io/tideflow/internal/executors"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// nodeLookup resolves a node ID within the current walk scope (top-level
// definition or a loop body).
type nodeLookup func(id string) *schema.WorkflowNode

// runInstance is the instance goroutine: a sequential cursor walk from the
// start node to a terminal state. All events for the instance are emitted
// from here (or while the goroutine is parked on a gate), which yields the
// per-instance total order.
func (e *Engine) runInstance(run *instanceRun, startID string) {
	defer e.wg.Done()
	defer close(run.done)

	log := e.log
	ctx := e.logCtx(run, "")

	e.transitionInstance(run, schema.InstanceRunning)
	e.emit(run, "", schema.EventInstanceStarted, map[string]any{
		"definition_id": run.def.ID,
		"version":       run.def.Version,
		"start_node":    startID,
	})
	log.InfoContext(ctx, "instance started", "definition_id", run.def.ID, "depth", run.depth)

	err := e.walk(run.ctx, run, startID, run.def.Node)

	run.mu.Lock()
	run.finishedAt = time.Now().UTC()
	run.currentNode = ""
	if err != nil {
		fe := schema.AsFlowError(err, schema.ErrCodeExecutor)
		run.err = fe
		run.status = schema.InstanceFailed
		run.mu.Unlock()

		if fe.Code == schema.ErrCodeCancelled {
			e.emit(run, "", schema.EventInstanceCancelled, map[string]any{"reason": fe.Message})
		}
		e.emit(run, fe.NodeID, schema.EventInstanceFailed, map[string]any{
			"code":    fe.Code,
			"message": fe.Message,
		})
		log.WarnContext(ctx, "instance failed", "code", fe.Code, "error", fe.Message)
	} else {
		run.status = schema.InstanceCompleted
		run.mu.Unlock()

		e.emit(run, "", schema.EventInstanceCompleted, nil)
		log.InfoContext(ctx, "instance completed")
	}

	e.recordInstance(run)
}

// walk advances the cursor until it runs off the graph or a node fails.
// The stop flag is checked between nodes; an in-flight attempt is never
// interrupted, it finishes first (or hits its own deadline).
func (e *Engine) walk(ctx context.Context, run *instanceRun, cur string, lookup nodeLookup) error {
	for cur != "" {
		if run.stopped() {
			return schema.NewError(schema.ErrCodeCancelled, "stop requested")
		}
		node := lookup(cur)
		if node == nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "successor %q does not exist", cur)
		}
		next, err := e.execNode(ctx, run, node, lookup)
		if err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// walkBody runs a loop body: declared order by default, with conditional
// jumps confined to the body. An empty successor advances to the next body
// node; the iteration ends after the last one.
func (e *Engine) walkBody(ctx context.Context, run *instanceRun, body []schema.WorkflowNode) error {
	index := make(map[string]int, len(body))
	for i := range body {
		index[body[i].ID] = i
	}
	lookup := func(id string) *schema.WorkflowNode {
		if j, ok := index[id]; ok {
			return &body[j]
		}
		return nil
	}

	i := 0
	for i < len(body) {
		if run.stopped() {
			return schema.NewError(schema.ErrCodeCancelled, "stop requested")
		}
		node := &body[i]
		next, err := e.execNode(ctx, run, node, lookup)
		if err != nil {
			return err
		}
		if next == "" {
			i++
			continue
		}
		j, ok := index[next]
		if !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"successor %q is outside the loop body", next).WithNode(node.ID)
		}
		i = j
	}
	return nil
}

// execNode runs one node to completion (through retries, gates, and
// delegated handling) and returns the successor cursor.
func (e *Engine) execNode(ctx context.Context, run *instanceRun, node *schema.WorkflowNode, lookup nodeLookup) (string, error) {
	run.mu.Lock()
	run.currentNode = node.ID
	run.mu.Unlock()

	logCtx := e.logCtx(run, node.ID)

	if node.SkipCondition != "" {
		skip, err := e.cel.EvaluateBool(ctx, node.SkipCondition, run.ec.Scope())
		if err != nil {
			return "", e.failNode(run, node, schema.AsFlowError(err, schema.ErrCodeExecutor))
		}
		if skip {
			e.transitionNode(run, node.ID, schema.NodeSkipped)
			e.emit(run, node.ID, schema.EventNodeSkipped, map[string]any{"condition": node.SkipCondition})
			e.log.DebugContext(logCtx, "node skipped")
			return node.Next, nil
		}
	}

	e.transitionNode(run, node.ID, schema.NodeRunning)
	e.emit(run, node.ID, schema.EventNodeStarted, map[string]any{"type": string(node.Type)})
	e.log.InfoContext(logCtx, "node started", "type", string(node.Type))

	params, err := e.resolver.ResolveInputs(ctx, node, run.ec)
	if err != nil {
		return "", e.failNode(run, node, schema.AsFlowError(err, schema.ErrCodeUnresolvedRef))
	}

	exec, err := e.execs.Get(node.Type)
	if err != nil {
		return "", e.failNode(run, node, schema.AsFlowError(err, schema.ErrCodeValidation))
	}

	res, err := e.runWithRetry(ctx, run, node, func(attemptCtx context.Context) (*executors.ExecutionResult, error) {
		// The executor call itself only sees the attempt deadline, never
		// the stop cancellation: an in-flight call runs to completion or
		// its own timeout. Delegated walks below stay on attemptCtx so
		// gates and backoff inside loop bodies still unpark on stop.
		execCtx, release := detachStop(attemptCtx)
		defer release()
		r, execErr := exec.Execute(execCtx, executors.ExecutionInput{
			Node:     node,
			Params:   params,
			Context:  run.ec,
			Resolver: e.resolver,
		})
		if execErr != nil {
			return nil, execErr
		}
		if r.Delegated {
			switch node.Type {
			case schema.NodeTypeLoop:
				return e.runLoop(attemptCtx, run, node)
			case schema.NodeTypeSubWorkflow:
				return e.runSubWorkflow(attemptCtx, run, node, params)
			}
		}
		return r, nil
	})
	if err != nil {
		return "", e.failNode(run, node, schema.AsFlowError(err, schema.ErrCodeExecutor))
	}

	if res.AwaitInput {
		value, ierr := e.awaitInput(ctx, run, node, res)
		if ierr != nil {
			return "", e.failNode(run, node, schema.AsFlowError(ierr, schema.ErrCodeExecutor))
		}
		run.ec.SetVariable(res.Variable, value)
		res.Output = map[string]any{"value": value, "variable": res.Variable}
	}

	if res.NeedsApproval {
		decision, aerr := e.awaitApproval(ctx, run, node, res)
		if aerr != nil {
			return "", e.failNode(run, node, schema.AsFlowError(aerr, schema.ErrCodeExecutor))
		}
		if !decision.approved {
			e.transitionNode(run, node.ID, schema.NodeFailed)
			e.emit(run, node.ID, schema.EventNodeFailed, map[string]any{
				"code":   schema.ErrCodeRejected,
				"reason": decision.reason,
			})
			if node.OnReject != "" {
				e.log.InfoContext(logCtx, "gate rejected, taking on_reject successor", "next", node.OnReject)
				return node.OnReject, nil
			}
			return "", schema.NewErrorf(schema.ErrCodeRejected,
				"approval rejected: %s", decision.reason).WithNode(node.ID)
		}
		if decision.output != nil {
			res.Output = decision.output
		}
	}

	if res.Output == nil {
		res.Output = map[string]any{}
	}
	run.ec.RecordOutput(node.ID, res.Output)
	if err := e.resolver.ExportOutputs(node, res.Output, run.ec); err != nil {
		return "", e.failNode(run, node, schema.AsFlowError(err, schema.ErrCodeUnresolvedRef))
	}

	e.transitionNode(run, node.ID, schema.NodeCompleted)
	e.emit(run, node.ID, schema.EventNodeCompleted, map[string]any{"type": string(node.Type)})
	e.log.InfoContext(logCtx, "node completed")

	if res.NextOverride != "" {
		e.emit(run, node.ID, schema.EventBranchEvaluated, map[string]any{
			"branch": res.BranchLabel,
			"next":   res.NextOverride,
		})
		return res.NextOverride, nil
	}
	return node.Next, nil
}

// failNode marks the node failed, emits the failure event, and returns the
// error for the walk to propagate.
func (e *Engine) failNode(run *instanceRun, node *schema.WorkflowNode, fe *schema.FlowError) error {
	if fe.NodeID == "" {
		fe = fe.WithNode(node.ID)
	}
	e.transitionNode(run, node.ID, schema.NodeFailed)
	e.emit(run, node.ID, schema.EventNodeFailed, map[string]any{
		"code":    fe.Code,
		"message": fe.Message,
	})
	e.log.WarnContext(e.logCtx(run, node.ID), "node failed", "code", fe.Code, "error", fe.Message)
	return fe
}

// runLoop drives one loop node: push a frame, run the body per iteration,
// pop on exit. The caller's retry wrapper covers the whole loop run.
func (e *Engine) runLoop(ctx context.Context, run *instanceRun, node *schema.WorkflowNode) (*executors.ExecutionResult, error) {
	var cfg schema.LoopConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, err
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = schema.DefaultMaxIterations
	}

	run.ec.PushFrame(node.ID, nil, 0)
	defer run.ec.PopFrame()

	iterations := 0
	iterate := func(item any, index int) error {
		if index >= maxIter {
			return schema.NewErrorf(schema.ErrCodeExecutor,
				"loop exceeded max_iterations (%d)", maxIter).
				WithNode(node.ID).WithDetails(map[string]any{"retryable": false})
		}
		if run.stopped() {
			return schema.NewError(schema.ErrCodeCancelled, "stop requested").WithNode(node.ID)
		}
		run.ec.SetFrame(item, index)
		e.emit(run, node.ID, schema.EventLoopIterationStarted, map[string]any{"iteration": index})
		if err := e.walkBody(ctx, run, cfg.Body); err != nil {
			return err
		}
		e.emit(run, node.ID, schema.EventLoopIterationCompleted, map[string]any{"iteration": index})
		iterations++
		return nil
	}

	switch cfg.Mode {
	case schema.LoopModeCount:
		for i := 0; i < cfg.Count; i++ {
			if err := iterate(i, i); err != nil {
				return nil, err
			}
		}

	case schema.LoopModeForEach:
		collected, err := e.resolver.Lookup(cfg.Collection, run.ec)
		if err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeUnresolvedRef).WithNode(node.ID)
		}
		items, err := toSlice(collected)
		if err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeValidation).WithNode(node.ID)
		}
		for i, item := range items {
			if err := iterate(item, i); err != nil {
				return nil, err
			}
		}

	case schema.LoopModeWhile:
		for i := 0; ; i++ {
			run.ec.SetFrame(nil, i)
			ok, err := e.cel.EvaluateBool(ctx, cfg.Condition, run.ec.Scope())
			if err != nil {
				return nil, schema.AsFlowError(err, schema.ErrCodeExecutor).WithNode(node.ID)
			}
			if !ok {
				break
			}
			if err := iterate(nil, i); err != nil {
				return nil, err
			}
		}

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown loop mode %q", cfg.Mode).WithNode(node.ID)
	}

	return &executors.ExecutionResult{Output: map[string]any{"iterations": iterations}}, nil
}

// runSubWorkflow starts the child as a full instance and parks until it
// reaches a terminal state. Declared child variables fold into the node
// output; a failed child propagates its error under this node.
func (e *Engine) runSubWorkflow(ctx context.Context, run *instanceRun, node *schema.WorkflowNode, params map[string]any) (*executors.ExecutionResult, error) {
	var cfg schema.SubWorkflowConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, err
	}

	childDepth := run.depth + 1
	if childDepth >= e.maxDepth {
		return nil, schema.NewErrorf(schema.ErrCodeRecursionLimit,
			"sub-workflow nesting exceeds limit (%d)", e.maxDepth).WithNode(node.ID)
	}

	vars := make(map[string]any)
	if cfg.InheritVariables {
		vars = run.ec.Variables()
	}
	for k, v := range params {
		vars[k] = v
	}

	childState, err := e.start(ctx, StartOptions{
		DefinitionID: cfg.DefinitionID,
		Version:      cfg.Version,
		Variables:    vars,
	}, childDepth, run.id)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeExecutor).WithNode(node.ID)
	}

	child, err := e.get(childState.InstanceID)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeExecutor).WithNode(node.ID)
	}

	select {
	case <-child.done:
	case <-ctx.Done():
		child.stop.Store(true)
		child.cancel()
		<-child.done
		return nil, schema.NewError(schema.ErrCodeCancelled, "cancelled while waiting for sub-workflow").
			WithNode(node.ID).WithCause(ctx.Err())
	}

	st := child.snapshot()
	if st.Status == schema.InstanceFailed {
		cause := st.Error
		if cause == nil {
			cause = schema.NewError(schema.ErrCodeExecutor, "sub-workflow failed")
		}
		return nil, schema.NewErrorf(cause.Code, "sub-workflow %q failed: %s", cfg.DefinitionID, cause.Message).
			WithNode(node.ID).WithCause(cause)
	}

	output := map[string]any{"instance_id": st.InstanceID}
	for _, name := range cfg.Outputs {
		v, ok := child.ec.Variable(name)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeUnresolvedRef,
				"sub-workflow output variable %q is not set", name).WithNode(node.ID)
		}
		output[name] = v
	}

	return &executors.ExecutionResult{Output: output}, nil
}

// transitionInstance applies an instance status change, enforcing the
// transition table. Violations indicate an engine bug and are logged.
func (e *Engine) transitionInstance(run *instanceRun, to schema.InstanceStatus) {
	run.mu.Lock()
	defer run.mu.Unlock()
	e.transitionInstanceLocked(run, to)
}

func (e *Engine) transitionInstanceLocked(run *instanceRun, to schema.InstanceStatus) {
	if run.status == to {
		return
	}
	if !canTransitionInstance(run.status, to) {
		e.log.Error("invalid instance transition",
			"instance_id", run.id, "from", string(run.status), "to", string(to))
		return
	}
	run.status = to
}

// transitionNode applies a node status change, enforcing the table.
func (e *Engine) transitionNode(run *instanceRun, nodeID string, to schema.NodeStatus) {
	run.mu.Lock()
	defer run.mu.Unlock()
	e.transitionNodeLocked(run, nodeID, to)
}

func (e *Engine) transitionNodeLocked(run *instanceRun, nodeID string, to schema.NodeStatus) {
	from, ok := run.nodeStatuses[nodeID]
	if !ok {
		from = schema.NodePending
	}
	if !canTransitionNode(from, to) {
		e.log.Error("invalid node transition",
			"instance_id", run.id, "node_id", nodeID, "from", string(from), "to", string(to))
		return
	}
	run.nodeStatuses[nodeID] = to
}

// toSlice coerces a resolved collection into []any.
func toSlice(v any) ([]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return val, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"for_each collection must be an array, got %T", v)
	}
}
