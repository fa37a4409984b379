package executors

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tideflow-io/tideflow/internal/execctx"
	"github.com/tideflow-io/tideflow/internal/expressions"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

func codeInput(t *testing.T, script string, params, vars map[string]any) ExecutionInput {
	t.Helper()
	raw, err := json.Marshal(schema.CodeConfig{Script: script})
	require.NoError(t, err)
	return ExecutionInput{
		Node:     &schema.WorkflowNode{ID: "calc", Type: schema.NodeTypeCode, Config: raw},
		Params:   params,
		Context:  execctx.New("inst", "def", vars, nil, 0),
		Resolver: execctx.NewResolver(expressions.NewGoJQEngine()),
	}
}

func TestCodeParamsAreTopLevel(t *testing.T) {
	exec := NewCodeExecutor(expressions.NewExprEngine())

	res, err := exec.Execute(context.Background(), codeInput(t,
		`a + b`, map[string]any{"a": 2, "b": 3}, nil))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Output["result"])
}

func TestCodeSeesContextNamespaces(t *testing.T) {
	exec := NewCodeExecutor(expressions.NewExprEngine())

	in := codeInput(t, `variables.threshold * 2`, nil, map[string]any{"threshold": 10})
	res, err := exec.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Output["result"])
}

func TestCodeArrayOperations(t *testing.T) {
	exec := NewCodeExecutor(expressions.NewExprEngine())

	in := codeInput(t, `len(filter(items, # > 2))`,
		map[string]any{"items": []any{1, 2, 3, 4}}, nil)
	res, err := exec.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Output["result"])
}

func TestCodeStringSplit(t *testing.T) {
	exec := NewCodeExecutor(expressions.NewExprEngine())

	in := codeInput(t, `len(split(text, " "))`,
		map[string]any{"text": "one two three"}, nil)
	res, err := exec.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Output["result"])
}

func TestCodeRuntimeError(t *testing.T) {
	exec := NewCodeExecutor(expressions.NewExprEngine())

	in := codeInput(t, `1 / n`, map[string]any{"n": 0}, nil)
	_, err := exec.Execute(context.Background(), in)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeExecutor, fe.Code)
	assert.Equal(t, "calc", fe.NodeID)
}

func TestCodeValidateRequiresScript(t *testing.T) {
	exec := NewCodeExecutor(expressions.NewExprEngine())

	require.Error(t, exec.Validate(&schema.WorkflowNode{
		ID: "n", Config: json.RawMessage(`{"script": ""}`),
	}))
	require.NoError(t, exec.Validate(&schema.WorkflowNode{
		ID: "n", Config: json.RawMessage(`{"script": "1 + 1"}`),
	}))
}
