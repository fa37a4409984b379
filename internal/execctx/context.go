package execctx

import (
	"encoding/json"
	"sync"
	"time"
)

// NodeOutput is one recorded node result. Order of first insertion is
// preserved; loop body nodes overwrite in place (last iteration wins).
type NodeOutput struct {
	NodeID      string         `json:"node_id"`
	Output      map[string]any `json:"output"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Frame holds the loop variables for one active loop level.
type Frame struct {
	NodeID string `json:"node_id"`
	Item   any    `json:"item"`
	Index  int    `json:"index"`
}

// ExecutionContext is the per-instance context store: mutable variables,
// the ordered node output log, the loop frame stack, and read-only refs
// seeded at start. The running instance goroutine is the only writer;
// reads may come from any goroutine (state queries), hence the lock.
type ExecutionContext struct {
	InstanceID   string
	DefinitionID string
	Depth        int
	StartedAt    time.Time

	mu        sync.RWMutex
	variables map[string]any
	outputs   []NodeOutput
	outIndex  map[string]int
	refs      map[string]any
	frames    []Frame
}

// New creates an ExecutionContext seeded with initial variables and refs.
// Both maps are deep-copied.
func New(instanceID, definitionID string, variables, refs map[string]any, depth int) *ExecutionContext {
	ec := &ExecutionContext{
		InstanceID:   instanceID,
		DefinitionID: definitionID,
		Depth:        depth,
		StartedAt:    time.Now().UTC(),
		variables:    deepCopyMap(variables),
		outIndex:     make(map[string]int),
		refs:         deepCopyMap(refs),
	}
	if ec.variables == nil {
		ec.variables = make(map[string]any)
	}
	return ec
}

// SetVariable stores a variable. The value is deep-copied on write.
func (ec *ExecutionContext) SetVariable(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[key] = deepCopyAny(value)
}

// Variable returns a variable value and whether it exists.
func (ec *ExecutionContext) Variable(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.variables[key]
	return v, ok
}

// Variables returns a deep copy of all variables.
func (ec *ExecutionContext) Variables() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return deepCopyMap(ec.variables)
}

// RecordOutput registers a completed node's output. A repeat of the same
// node ID (loop body re-execution) overwrites the value in place, keeping
// the original position in the output order.
func (ec *ExecutionContext) RecordOutput(nodeID string, output map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	entry := NodeOutput{
		NodeID:      nodeID,
		Output:      deepCopyMap(output),
		CompletedAt: time.Now().UTC(),
	}
	if i, ok := ec.outIndex[nodeID]; ok {
		ec.outputs[i] = entry
		return
	}
	ec.outIndex[nodeID] = len(ec.outputs)
	ec.outputs = append(ec.outputs, entry)
}

// Output returns the recorded output for a node, or nil if absent.
func (ec *ExecutionContext) Output(nodeID string) (map[string]any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	i, ok := ec.outIndex[nodeID]
	if !ok {
		return nil, false
	}
	return deepCopyMap(ec.outputs[i].Output), true
}

// Outputs returns the ordered node output log.
func (ec *ExecutionContext) Outputs() []NodeOutput {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]NodeOutput, len(ec.outputs))
	for i, o := range ec.outputs {
		out[i] = NodeOutput{NodeID: o.NodeID, Output: deepCopyMap(o.Output), CompletedAt: o.CompletedAt}
	}
	return out
}

// PushFrame enters a loop level.
func (ec *ExecutionContext) PushFrame(nodeID string, item any, index int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.frames = append(ec.frames, Frame{NodeID: nodeID, Item: deepCopyAny(item), Index: index})
}

// SetFrame updates the innermost loop frame for the next iteration.
func (ec *ExecutionContext) SetFrame(item any, index int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if n := len(ec.frames); n > 0 {
		ec.frames[n-1].Item = deepCopyAny(item)
		ec.frames[n-1].Index = index
	}
}

// PopFrame leaves the innermost loop level.
func (ec *ExecutionContext) PopFrame() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if n := len(ec.frames); n > 0 {
		ec.frames = ec.frames[:n-1]
	}
}

// CurrentFrame returns the innermost loop frame, or nil outside a loop.
func (ec *ExecutionContext) CurrentFrame() *Frame {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if n := len(ec.frames); n > 0 {
		f := ec.frames[n-1]
		return &f
	}
	return nil
}

// Ref returns a read-only ref value.
func (ec *ExecutionContext) Ref(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.refs[key]
	return v, ok
}

// Scope materializes the context as namespace maps for expression
// evaluation: variables, nodes (id -> {output: ...}), loop, refs, run.
// All data is copied; the result is safe to hand to any evaluator.
func (ec *ExecutionContext) Scope() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	nodes := make(map[string]any, len(ec.outputs))
	for _, o := range ec.outputs {
		nodes[o.NodeID] = map[string]any{"output": deepCopyMap(o.Output)}
	}

	loop := map[string]any{}
	if n := len(ec.frames); n > 0 {
		f := ec.frames[n-1]
		loop["item"] = deepCopyAny(f.Item)
		loop["index"] = f.Index
	}

	return map[string]any{
		"variables": deepCopyMap(ec.variables),
		"nodes":     nodes,
		"loop":      loop,
		"refs":      deepCopyMap(ec.refs),
		"run": map[string]any{
			"instance_id":   ec.InstanceID,
			"definition_id": ec.DefinitionID,
			"depth":         ec.Depth,
			"started_at":    ec.StartedAt.Format(time.RFC3339),
		},
	}
}

// --- Deep copy utilities ---

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively copies maps and slices; primitives are value types.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
