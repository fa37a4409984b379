package execctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariablesAreDeepCopied(t *testing.T) {
	seed := map[string]any{"list": []any{1, 2}}
	ec := New("i", "d", seed, nil, 0)

	// Mutating the seed after construction must not leak in.
	seed["list"].([]any)[0] = 99
	v, ok := ec.Variable("list")
	require.True(t, ok)
	assert.Equal(t, []any{1, 2}, v)

	// Mutating a read-out copy must not leak back.
	out := ec.Variables()
	out["list"].([]any)[1] = 99
	v, _ = ec.Variable("list")
	assert.Equal(t, []any{1, 2}, v)
}

func TestSetVariableCopiesValue(t *testing.T) {
	ec := New("i", "d", nil, nil, 0)

	val := map[string]any{"k": "v"}
	ec.SetVariable("m", val)
	val["k"] = "changed"

	got, ok := ec.Variable("m")
	require.True(t, ok)
	assert.Equal(t, "v", got.(map[string]any)["k"])
}

func TestRecordOutputOverwritesInPlace(t *testing.T) {
	ec := New("i", "d", nil, nil, 0)

	ec.RecordOutput("a", map[string]any{"n": 1})
	ec.RecordOutput("b", map[string]any{"n": 2})
	ec.RecordOutput("a", map[string]any{"n": 3})

	outs := ec.Outputs()
	require.Len(t, outs, 2)
	assert.Equal(t, "a", outs[0].NodeID)
	assert.Equal(t, 3, outs[0].Output["n"])
	assert.Equal(t, "b", outs[1].NodeID)
}

func TestOutputLookup(t *testing.T) {
	ec := New("i", "d", nil, nil, 0)
	ec.RecordOutput("a", map[string]any{"n": 1})

	out, ok := ec.Output("a")
	require.True(t, ok)
	assert.Equal(t, 1, out["n"])

	_, ok = ec.Output("missing")
	assert.False(t, ok)
}

func TestFrameStack(t *testing.T) {
	ec := New("i", "d", nil, nil, 0)
	assert.Nil(t, ec.CurrentFrame())

	ec.PushFrame("outer", "x", 0)
	ec.PushFrame("inner", "y", 4)

	f := ec.CurrentFrame()
	require.NotNil(t, f)
	assert.Equal(t, "inner", f.NodeID)
	assert.Equal(t, "y", f.Item)
	assert.Equal(t, 4, f.Index)

	ec.SetFrame("z", 5)
	f = ec.CurrentFrame()
	assert.Equal(t, "z", f.Item)
	assert.Equal(t, 5, f.Index)

	ec.PopFrame()
	f = ec.CurrentFrame()
	require.NotNil(t, f)
	assert.Equal(t, "outer", f.NodeID)

	ec.PopFrame()
	assert.Nil(t, ec.CurrentFrame())
}

func TestScopeNamespaces(t *testing.T) {
	ec := New("inst", "def", map[string]any{"v": 1}, map[string]any{"r": "s"}, 2)
	ec.RecordOutput("n1", map[string]any{"x": true})
	ec.PushFrame("l", "item", 3)

	scope := ec.Scope()

	assert.Equal(t, 1, scope["variables"].(map[string]any)["v"])
	assert.Equal(t, "s", scope["refs"].(map[string]any)["r"])

	nodes := scope["nodes"].(map[string]any)
	n1 := nodes["n1"].(map[string]any)["output"].(map[string]any)
	assert.Equal(t, true, n1["x"])

	loop := scope["loop"].(map[string]any)
	assert.Equal(t, "item", loop["item"])
	assert.Equal(t, 3, loop["index"])

	run := scope["run"].(map[string]any)
	assert.Equal(t, "inst", run["instance_id"])
	assert.Equal(t, "def", run["definition_id"])
	assert.Equal(t, 2, run["depth"])
}

func TestScopeIsACopy(t *testing.T) {
	ec := New("i", "d", map[string]any{"v": 1}, nil, 0)
	scope := ec.Scope()
	scope["variables"].(map[string]any)["v"] = 99

	v, _ := ec.Variable("v")
	assert.Equal(t, 1, v)
}
