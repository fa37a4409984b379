package execctx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

// InterpolateString resolves ${{ ... }} tokens in s against the context
// (and any extra namespaces, e.g. "params" inside executor templates).
// A string that is exactly one token preserves the resolved value's native
// type; otherwise resolved values are stringified in place.
func (r *Resolver) InterpolateString(s string, ec *ExecutionContext, extra map[string]any) (any, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}

	// Whole-token fast path: "${{ expr }}" keeps the native type.
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[3 : len(trimmed)-2])
		if inner != "" && !strings.Contains(inner, "${{") && !strings.Contains(inner, "}}") {
			return r.resolveToken(inner, ec, extra)
		}
	}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}

		result.WriteString(s[i : i+idx])
		start := i + idx + 3

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeUnresolvedRef, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(s[start:end])
		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeUnresolvedRef, "empty reference: ${{ }}")
		}
		if strings.Contains(expr, "${{") {
			return nil, schema.NewError(schema.ErrCodeUnresolvedRef,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		val, err := r.resolveToken(expr, ec, extra)
		if err != nil {
			return nil, err
		}
		result.WriteString(stringify(val))

		i = end + 2
	}

	return result.String(), nil
}

// resolveToken resolves one token path, preferring extra namespaces over
// the context store.
func (r *Resolver) resolveToken(expr string, ec *ExecutionContext, extra map[string]any) (any, error) {
	head, tail := splitHead(expr)
	if extra != nil {
		if ns, ok := extra[head]; ok {
			if tail == "" {
				return deepCopyAny(ns), nil
			}
			return traversePath(ns, tail, expr)
		}
	}
	return r.Lookup(expr, ec)
}

// stringify embeds a resolved value inside a larger string.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
