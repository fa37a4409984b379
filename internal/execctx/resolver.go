package execctx

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/tideflow-io/tideflow/internal/expressions"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// Resolver turns input mappings into executor parameters and folds node
// outputs back into context variables. It is stateless and safe for
// concurrent use; all state lives in the ExecutionContext.
type Resolver struct {
	jq *expressions.GoJQEngine
}

// NewResolver creates a Resolver backed by the given jq engine for
// mapping transforms.
func NewResolver(jq *expressions.GoJQEngine) *Resolver {
	return &Resolver{jq: jq}
}

// ResolveInputs resolves a node's input mappings into a parameter map.
// Resolution order per mapping: From path (falling back to Default when the
// path is unresolvable and a Default is declared), else literal Value with
// string interpolation. A Transform, when present, is applied last.
func (r *Resolver) ResolveInputs(ctx context.Context, node *schema.WorkflowNode, ec *ExecutionContext) (map[string]any, error) {
	params := make(map[string]any, len(node.Inputs))

	for _, m := range node.Inputs {
		if m.Key == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"node %q: input mapping without key", node.ID).WithNode(node.ID)
		}

		val, err := r.resolveMapping(ctx, m, ec)
		if err != nil {
			if fe, ok := err.(*schema.FlowError); ok {
				return nil, fe.WithNode(node.ID)
			}
			return nil, err
		}

		if m.Transform != "" {
			val, err = r.jq.Transform(ctx, m.Transform, val)
			if err != nil {
				return nil, schema.AsFlowError(err, schema.ErrCodeExecutor).WithNode(node.ID)
			}
		}

		params[m.Key] = val
	}

	return params, nil
}

func (r *Resolver) resolveMapping(ctx context.Context, m schema.InputMapping, ec *ExecutionContext) (any, error) {
	if m.From != "" {
		val, err := r.Lookup(m.From, ec)
		if err == nil {
			return val, nil
		}
		if len(m.Default) > 0 {
			return unmarshalRaw(m.Default)
		}
		return nil, err
	}

	if len(m.Value) > 0 {
		parsed, err := unmarshalRaw(m.Value)
		if err != nil {
			return nil, err
		}
		return r.interpolateAny(parsed, ec, nil)
	}

	if len(m.Default) > 0 {
		return unmarshalRaw(m.Default)
	}

	return nil, schema.NewErrorf(schema.ErrCodeValidation,
		"input mapping %q has neither from nor value", m.Key)
}

// Lookup resolves a context path: variables.<name>, nodes.<id>.output,
// loop.item / loop.index, refs.<name>, run.<field>. Nested fields use dot
// segments; numeric segments index into arrays. Unresolvable paths return
// UNRESOLVED_REFERENCE naming the full path.
func (r *Resolver) Lookup(path string, ec *ExecutionContext) (any, error) {
	parts := strings.SplitN(path, ".", 2)
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	switch parts[0] {
	case "variables":
		if rest == "" {
			return ec.Variables(), nil
		}
		head, tail := splitHead(rest)
		v, ok := ec.Variable(head)
		if !ok {
			return nil, unresolved(path, "variable %q is not set", head)
		}
		if tail == "" {
			return deepCopyAny(v), nil
		}
		return traversePath(v, tail, path)

	case "nodes":
		if rest == "" {
			return nil, unresolved(path, "expected nodes.<id>.output")
		}
		head, tail := splitHead(rest)
		out, ok := ec.Output(head)
		if !ok {
			return nil, unresolved(path, "node %q has not produced output", head)
		}
		if tail != "output" && !strings.HasPrefix(tail, "output.") {
			return nil, unresolved(path, "only the output property of node %q is addressable", head)
		}
		if tail == "output" {
			return out, nil
		}
		return traversePath(out, strings.TrimPrefix(tail, "output."), path)

	case "loop":
		frame := ec.CurrentFrame()
		if frame == nil {
			return nil, unresolved(path, "loop reference outside of a loop")
		}
		switch {
		case rest == "item":
			return deepCopyAny(frame.Item), nil
		case rest == "index":
			return frame.Index, nil
		case strings.HasPrefix(rest, "item."):
			return traversePath(frame.Item, strings.TrimPrefix(rest, "item."), path)
		default:
			return nil, unresolved(path, "unknown loop field %q; available: item, index", rest)
		}

	case "refs":
		if rest == "" {
			return nil, unresolved(path, "expected refs.<name>")
		}
		head, tail := splitHead(rest)
		v, ok := ec.Ref(head)
		if !ok {
			return nil, unresolved(path, "ref %q is not defined", head)
		}
		if tail == "" {
			return deepCopyAny(v), nil
		}
		return traversePath(v, tail, path)

	case "run":
		run := ec.Scope()["run"].(map[string]any)
		if rest == "" {
			return run, nil
		}
		v, ok := run[rest]
		if !ok {
			return nil, unresolved(path, "unknown run field %q", rest)
		}
		return v, nil

	default:
		return nil, unresolved(path,
			"unknown namespace %q; available: variables, nodes, loop, refs, run", parts[0])
	}
}

// ExportOutputs folds a completed node's output into context variables per
// its output mappings. An empty Path exports the whole output object.
func (r *Resolver) ExportOutputs(node *schema.WorkflowNode, output map[string]any, ec *ExecutionContext) error {
	for _, m := range node.Outputs {
		if m.Variable == "" {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"node %q: output mapping without variable", node.ID).WithNode(node.ID)
		}
		if m.Path == "" {
			ec.SetVariable(m.Variable, output)
			continue
		}
		val, err := traversePath(output, m.Path, "nodes."+node.ID+".output."+m.Path)
		if err != nil {
			return schema.AsFlowError(err, schema.ErrCodeUnresolvedRef).WithNode(node.ID)
		}
		ec.SetVariable(m.Variable, val)
	}
	return nil
}

// InterpolateBody walks a parsed JSON value, applying ${{ ... }}
// interpolation to every string. extra (may be nil) adds namespaces on top
// of the context scope, e.g. "params" for executor templates.
func (r *Resolver) InterpolateBody(v any, ec *ExecutionContext, extra map[string]any) (any, error) {
	return r.interpolateAny(v, ec, extra)
}

func (r *Resolver) interpolateAny(v any, ec *ExecutionContext, extra map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return r.InterpolateString(val, ec, extra)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			res, err := r.interpolateAny(item, ec, extra)
			if err != nil {
				return nil, err
			}
			out[k] = res
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			res, err := r.interpolateAny(item, ec, extra)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	default:
		return v, nil
	}
}

func unmarshalRaw(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid mapping literal: %v", err)
	}
	return v, nil
}

func unresolved(path, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeUnresolvedRef, format, args...).
		WithDetails(map[string]any{"path": path})
}

func splitHead(s string) (head, tail string) {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// traversePath navigates nested maps and slices using a dot-delimited path.
// Numeric segments index into slices.
func traversePath(root any, path, full string) (any, error) {
	current := root
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, unresolved(full, "empty segment in path %q", full)
		}
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, unresolved(full, "field %q not found in %q; available: [%s]",
					seg, full, strings.Join(mapKeys(v), ", "))
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, unresolved(full, "index %q out of range in %q (len %d)", seg, full, len(v))
			}
			current = v[idx]
		default:
			return nil, unresolved(full, "cannot traverse into %T at %q in %q", current, seg, full)
		}
	}
	return deepCopyAny(current), nil
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
