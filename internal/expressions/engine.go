package expressions

import "context"

// Engine evaluates expressions within workflow nodes.
// Three implementations: CEL (conditions and branch predicates),
// GoJQ (input-mapping transforms), Expr (code node scripts).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
