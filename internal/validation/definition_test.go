package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

func newValidator(t *testing.T) *DefinitionValidator {
	t.Helper()
	v, err := NewDefinitionValidator()
	require.NoError(t, err)
	return v
}

func validDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:        "pipeline",
		Version:   "v1",
		StartNode: "fetch",
		Nodes: []schema.WorkflowNode{
			{
				ID:     "fetch",
				Type:   schema.NodeTypeHTTPRequest,
				Config: json.RawMessage(`{"method": "GET", "url": "https://example.test/data"}`),
				Next:   "route",
			},
			{
				ID:   "route",
				Type: schema.NodeTypeConditional,
				Config: json.RawMessage(`{
					"branches": [{"when": "nodes.fetch.output.status_code == 200", "next": "save"}],
					"default": "save"
				}`),
			},
			{
				ID:     "save",
				Type:   schema.NodeTypeFileOperation,
				Config: json.RawMessage(`{"op": "write", "path": "out.json", "content": "x"}`),
			},
		},
	}
}

func TestValidDefinitionPasses(t *testing.T) {
	v := newValidator(t)

	result := v.Validate(validDef())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestNilDefinition(t *testing.T) {
	v := newValidator(t)

	result := v.Validate(nil)
	assert.False(t, result.Valid())
}

func TestStructuralErrorsShortCircuit(t *testing.T) {
	v := newValidator(t)

	// Missing start_node and an unknown node type: both structural.
	def := &schema.WorkflowDefinition{
		ID: "broken",
		Nodes: []schema.WorkflowNode{
			{ID: "a", Type: "teleport", Config: json.RawMessage(`{}`)},
		},
	}
	result := v.Validate(def)
	assert.False(t, result.Valid())
}

func TestDuplicateNodeIDs(t *testing.T) {
	v := newValidator(t)

	def := validDef()
	def.Nodes[2].ID = "fetch"
	def.Nodes[0].Next = "route"

	result := v.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "duplicate node id")
}

func TestMissingStartNode(t *testing.T) {
	v := newValidator(t)

	def := validDef()
	def.StartNode = "nope"

	result := v.Validate(def)
	require.False(t, result.Valid())

	found := false
	for _, issue := range result.Errors {
		if issue.Code == schema.ErrCodeInvalidStartNode {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDanglingSuccessor(t *testing.T) {
	v := newValidator(t)

	def := validDef()
	def.Nodes[0].Next = "ghost"

	result := v.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "ghost")
}

func TestDanglingBranchTarget(t *testing.T) {
	v := newValidator(t)

	def := validDef()
	def.Nodes[1].Config = json.RawMessage(`{
		"branches": [{"when": "true", "next": "ghost"}]
	}`)

	result := v.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Path, "branches[0].next")
}

func TestLoopBodyScopeIsSeparate(t *testing.T) {
	v := newValidator(t)

	def := &schema.WorkflowDefinition{
		ID:        "looped",
		StartNode: "repeat",
		Nodes: []schema.WorkflowNode{
			{
				ID:   "repeat",
				Type: schema.NodeTypeLoop,
				Config: json.RawMessage(`{
					"mode": "count",
					"count": 2,
					"body": [
						{"id": "step", "type": "code", "config": {"script": "1"}, "next": "outside"}
					]
				}`),
				Next: "outside",
			},
			{
				ID:     "outside",
				Type:   schema.NodeTypeCode,
				Config: json.RawMessage(`{"script": "2"}`),
			},
		},
	}

	// A body node pointing at a top-level node is out of scope.
	result := v.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "outside")
}

func TestEmptyLoopBody(t *testing.T) {
	v := newValidator(t)

	def := &schema.WorkflowDefinition{
		ID:        "hollow",
		StartNode: "repeat",
		Nodes: []schema.WorkflowNode{{
			ID:     "repeat",
			Type:   schema.NodeTypeLoop,
			Config: json.RawMessage(`{"mode": "count", "count": 2, "body": []}`),
		}},
	}

	result := v.Validate(def)
	assert.False(t, result.Valid())
}

func TestSubWorkflowRequiresDefinitionID(t *testing.T) {
	v := newValidator(t)

	def := &schema.WorkflowDefinition{
		ID:        "caller",
		StartNode: "call",
		Nodes: []schema.WorkflowNode{{
			ID:     "call",
			Type:   schema.NodeTypeSubWorkflow,
			Config: json.RawMessage(`{}`),
		}},
	}

	result := v.Validate(def)
	assert.False(t, result.Valid())
}

func TestSelfSuccessorRejected(t *testing.T) {
	v := newValidator(t)

	def := &schema.WorkflowDefinition{
		ID:        "snake",
		StartNode: "a",
		Nodes: []schema.WorkflowNode{{
			ID:     "a",
			Type:   schema.NodeTypeCode,
			Config: json.RawMessage(`{"script": "1"}`),
			Next:   "a",
		}},
	}

	result := v.Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "own successor")
}

func TestUnreachableNodeIsWarning(t *testing.T) {
	v := newValidator(t)

	def := validDef()
	def.Nodes = append(def.Nodes, schema.WorkflowNode{
		ID:     "orphan",
		Type:   schema.NodeTypeCode,
		Config: json.RawMessage(`{"script": "1"}`),
	})

	result := v.Validate(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "orphan")
}

func TestBackwardJumpViaConditionalIsLegal(t *testing.T) {
	v := newValidator(t)

	def := &schema.WorkflowDefinition{
		ID:        "retry-until",
		StartNode: "work",
		Nodes: []schema.WorkflowNode{
			{
				ID:     "work",
				Type:   schema.NodeTypeCode,
				Config: json.RawMessage(`{"script": "1"}`),
				Next:   "check",
			},
			{
				ID:   "check",
				Type: schema.NodeTypeConditional,
				Config: json.RawMessage(`{
					"branches": [{"when": "variables.done == true", "next": "finish"}],
					"default": "work"
				}`),
			},
			{
				ID:     "finish",
				Type:   schema.NodeTypeCode,
				Config: json.RawMessage(`{"script": "2"}`),
			},
		},
	}

	result := v.Validate(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestHighRetryCountWarns(t *testing.T) {
	v := newValidator(t)

	def := validDef()
	def.Nodes[0].Retry = &schema.RetryPolicy{MaxRetries: 50}

	result := v.Validate(def)
	assert.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0].Message, "high retry count")
}
