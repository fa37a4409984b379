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

func conditionalInput(t *testing.T, cfg schema.ConditionalConfig, vars map[string]any) ExecutionInput {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return ExecutionInput{
		Node:     &schema.WorkflowNode{ID: "route", Type: schema.NodeTypeConditional, Config: raw},
		Context:  execctx.New("inst", "def", vars, nil, 0),
		Resolver: execctx.NewResolver(expressions.NewGoJQEngine()),
	}
}

func newConditionalExecutor(t *testing.T) *ConditionalExecutor {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return NewConditionalExecutor(cel)
}

func TestConditionalFirstMatchWins(t *testing.T) {
	exec := newConditionalExecutor(t)

	cfg := schema.ConditionalConfig{
		Branches: []schema.ConditionalBranch{
			{When: `variables.n > 10`, Label: "big", Next: "big"},
			{When: `variables.n > 5`, Label: "medium", Next: "medium"},
			{When: `variables.n > 0`, Label: "small", Next: "small"},
		},
	}

	res, err := exec.Execute(context.Background(), conditionalInput(t, cfg, map[string]any{"n": 7}))
	require.NoError(t, err)
	assert.Equal(t, "medium", res.NextOverride)
	assert.Equal(t, "medium", res.BranchLabel)
	assert.Equal(t, "medium", res.Output["branch"])
}

func TestConditionalDefaultWhenNoMatch(t *testing.T) {
	exec := newConditionalExecutor(t)

	cfg := schema.ConditionalConfig{
		Branches: []schema.ConditionalBranch{
			{When: `variables.n > 10`, Next: "big"},
		},
		Default: "fallback",
	}

	res, err := exec.Execute(context.Background(), conditionalInput(t, cfg, map[string]any{"n": 1}))
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.NextOverride)
	assert.Equal(t, "default", res.BranchLabel)
}

func TestConditionalNoMatchNoDefault(t *testing.T) {
	exec := newConditionalExecutor(t)

	cfg := schema.ConditionalConfig{
		Branches: []schema.ConditionalBranch{
			{When: `variables.n > 10`, Next: "big"},
		},
	}

	_, err := exec.Execute(context.Background(), conditionalInput(t, cfg, map[string]any{"n": 1}))
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeNoMatchingBranch, fe.Code)
}

func TestConditionalLabelDefaultsToExpression(t *testing.T) {
	exec := newConditionalExecutor(t)

	cfg := schema.ConditionalConfig{
		Branches: []schema.ConditionalBranch{
			{When: `true`, Next: "somewhere"},
		},
	}

	res, err := exec.Execute(context.Background(), conditionalInput(t, cfg, nil))
	require.NoError(t, err)
	assert.Equal(t, "true", res.BranchLabel)
}

func TestConditionalBadExpression(t *testing.T) {
	exec := newConditionalExecutor(t)

	cfg := schema.ConditionalConfig{
		Branches: []schema.ConditionalBranch{
			{When: `this is not CEL (((`, Next: "x"},
		},
	}

	_, err := exec.Execute(context.Background(), conditionalInput(t, cfg, nil))
	require.Error(t, err)
}

func TestConditionalValidate(t *testing.T) {
	exec := newConditionalExecutor(t)

	require.Error(t, exec.Validate(&schema.WorkflowNode{
		ID: "n", Config: json.RawMessage(`{"branches": []}`),
	}))
	require.Error(t, exec.Validate(&schema.WorkflowNode{
		ID: "n", Config: json.RawMessage(`{"branches": [{"next": "x"}]}`),
	}))
	require.Error(t, exec.Validate(&schema.WorkflowNode{
		ID: "n", Config: json.RawMessage(`{"branches": [{"when": "true"}]}`),
	}))
	require.NoError(t, exec.Validate(&schema.WorkflowNode{
		ID: "n", Config: json.RawMessage(`{"branches": [{"when": "true", "next": "x"}]}`),
	}))
}
