package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tideflow-io/tideflow/internal/engine"
	"github.com/tideflow-io/tideflow/internal/events"
	"github.com/tideflow-io/tideflow/internal/executors"
	"github.com/tideflow-io/tideflow/internal/expressions"
	"github.com/tideflow-io/tideflow/internal/registry"
	"github.com/tideflow-io/tideflow/internal/store"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

type echoInvoker struct{}

func (echoInvoker) Invoke(_ context.Context, req executors.AgentRequest) (*executors.AgentReply, error) {
	return &executors.AgentReply{Text: "reply to: " + req.Prompt}, nil
}

type testServer struct {
	*FlowServer
	eng    *engine.Engine
	source *registry.MemorySource
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)

	execs, err := executors.DefaultRegistry(executors.Deps{
		Agent:         echoInvoker{},
		CEL:           cel,
		Expr:          expressions.NewExprEngine(),
		WorkspaceRoot: t.TempDir(),
	})
	require.NoError(t, err)

	source := registry.NewMemorySource()
	eng, err := engine.New(engine.Options{
		Executors:   execs,
		Definitions: source,
		Bus:         events.NewMemoryBus(),
		Sink:        store.NewMemorySink(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})

	srv := NewFlowServer(FlowServerDeps{
		Engine:   eng,
		Registry: source,
		Refs:     map[string]any{"api_key": "sk-test"},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testServer{FlowServer: srv, eng: eng, source: source}
}

func registerCodeDef(t *testing.T, ts *testServer, id string) {
	t.Helper()
	require.NoError(t, ts.source.Register(&schema.WorkflowDefinition{
		ID:        id,
		Version:   "v1",
		StartNode: "calc",
		Nodes: []schema.WorkflowNode{{
			ID:     "calc",
			Type:   schema.NodeTypeCode,
			Config: json.RawMessage(`{"script": "1 + 1"}`),
		}},
	}))
}

func registerInputDef(t *testing.T, ts *testServer, id string) {
	t.Helper()
	require.NoError(t, ts.source.Register(&schema.WorkflowDefinition{
		ID:        id,
		Version:   "v1",
		StartNode: "ask",
		Nodes: []schema.WorkflowNode{
			{
				ID:     "ask",
				Type:   schema.NodeTypeUserInput,
				Config: json.RawMessage(`{"prompt": "name?", "variable": "name"}`),
				Next:   "greet",
			},
			{
				ID:     "greet",
				Type:   schema.NodeTypeCode,
				Config: json.RawMessage(`{"script": "\"hi \" + variables.name"}`),
			},
		},
	}))
}

func registerGatedDef(t *testing.T, ts *testServer, id string) {
	t.Helper()
	require.NoError(t, ts.source.Register(&schema.WorkflowDefinition{
		ID:        id,
		Version:   "v1",
		StartNode: "draft",
		Nodes: []schema.WorkflowNode{
			{
				ID:     "draft",
				Type:   schema.NodeTypeAgent,
				Config: json.RawMessage(`{"prompt": "write", "require_approval": true}`),
				Next:   "done",
			},
			{
				ID:     "done",
				Type:   schema.NodeTypeCode,
				Config: json.RawMessage(`{"script": "1"}`),
			},
		},
	}))
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

func startInstance(t *testing.T, ts *testServer, definitionID string) string {
	t.Helper()
	result, err := ts.handleStart(context.Background(), buildRequest("flow.start", map[string]any{
		"definition_id": definitionID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var started struct {
		InstanceID string `json:"instance_id"`
	}
	unmarshalResult(t, result, &started)
	require.NotEmpty(t, started.InstanceID)
	return started.InstanceID
}

func waitInstance(t *testing.T, ts *testServer, id string, pred func(*engine.InstanceState) bool) *engine.InstanceState {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		state, err := ts.eng.GetWorkflowState(id)
		require.NoError(t, err)
		if pred(state) {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("instance %s never reached the expected state", id)
	return nil
}

func TestStartTool(t *testing.T) {
	ts := newTestServer(t)
	registerCodeDef(t, ts, "calc")

	id := startInstance(t, ts, "calc")
	state := waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.Status.Terminal() })
	assert.Equal(t, schema.InstanceCompleted, state.Status)
}

func TestStartToolMissingDefinitionID(t *testing.T) {
	ts := newTestServer(t)

	result, err := ts.handleStart(context.Background(), buildRequest("flow.start", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStartToolUnknownDefinition(t *testing.T) {
	ts := newTestServer(t)

	result, err := ts.handleStart(context.Background(), buildRequest("flow.start", map[string]any{
		"definition_id": "ghost",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "start failed")
}

func TestStateTool(t *testing.T) {
	ts := newTestServer(t)
	registerCodeDef(t, ts, "calc")

	id := startInstance(t, ts, "calc")
	waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.Status.Terminal() })

	result, err := ts.handleState(context.Background(), buildRequest("flow.state", map[string]any{
		"instance_id": id,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var state engine.InstanceState
	unmarshalResult(t, result, &state)
	assert.Equal(t, id, state.InstanceID)
	assert.Equal(t, schema.InstanceCompleted, state.Status)

	result, err = ts.handleState(context.Background(), buildRequest("flow.state", map[string]any{
		"instance_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStopTool(t *testing.T) {
	ts := newTestServer(t)
	registerInputDef(t, ts, "survey")

	id := startInstance(t, ts, "survey")
	waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.PendingInput != nil })

	result, err := ts.handleStop(context.Background(), buildRequest("flow.stop", map[string]any{
		"instance_id": id,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	state := waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.Status.Terminal() })
	require.NotNil(t, state.Error)
	assert.Equal(t, schema.ErrCodeCancelled, state.Error.Code)
}

func TestListTool(t *testing.T) {
	ts := newTestServer(t)
	registerInputDef(t, ts, "survey")

	id := startInstance(t, ts, "survey")
	waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.PendingInput != nil })

	result, err := ts.handleList(context.Background(), buildRequest("flow.list", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var listed struct {
		Instances []engine.InstanceState `json:"instances"`
	}
	unmarshalResult(t, result, &listed)
	require.Len(t, listed.Instances, 1)
	assert.Equal(t, id, listed.Instances[0].InstanceID)
}

func TestApproveTool(t *testing.T) {
	ts := newTestServer(t)
	registerGatedDef(t, ts, "gated")

	id := startInstance(t, ts, "gated")
	waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.PendingApproval != nil })

	result, err := ts.handleApprove(context.Background(), buildRequest("flow.approve", map[string]any{
		"instance_id": id,
		"node_id":     "draft",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var resolved struct {
		Resolved bool `json:"resolved"`
	}
	unmarshalResult(t, result, &resolved)
	assert.True(t, resolved.Resolved)

	state := waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.Status.Terminal() })
	assert.Equal(t, schema.InstanceCompleted, state.Status)

	// A resolved gate stays resolved.
	result, err = ts.handleApprove(context.Background(), buildRequest("flow.approve", map[string]any{
		"instance_id": id,
		"node_id":     "draft",
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &resolved)
	assert.False(t, resolved.Resolved)
}

func TestRejectTool(t *testing.T) {
	ts := newTestServer(t)
	registerGatedDef(t, ts, "gated")

	id := startInstance(t, ts, "gated")
	waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.PendingApproval != nil })

	result, err := ts.handleReject(context.Background(), buildRequest("flow.reject", map[string]any{
		"instance_id": id,
		"node_id":     "draft",
		"reason":      "tone is off",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var resolved struct {
		Resolved bool `json:"resolved"`
	}
	unmarshalResult(t, result, &resolved)
	assert.True(t, resolved.Resolved)

	state := waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.Status.Terminal() })
	require.NotNil(t, state.Error)
	assert.Equal(t, schema.ErrCodeRejected, state.Error.Code)
}

func TestApproveToolMissingParams(t *testing.T) {
	ts := newTestServer(t)

	result, err := ts.handleApprove(context.Background(), buildRequest("flow.approve", map[string]any{
		"node_id": "draft",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = ts.handleApprove(context.Background(), buildRequest("flow.approve", map[string]any{
		"instance_id": "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestInputTool(t *testing.T) {
	ts := newTestServer(t)
	registerInputDef(t, ts, "survey")

	id := startInstance(t, ts, "survey")
	waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.PendingInput != nil })

	result, err := ts.handleInput(context.Background(), buildRequest("flow.input", map[string]any{
		"instance_id": id,
		"node_id":     "ask",
		"value":       "ada",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	state := waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.Status.Terminal() })
	assert.Equal(t, schema.InstanceCompleted, state.Status)
	assert.Equal(t, "ada", state.Variables["name"])
}

func TestInputToolWithoutPendingPrompt(t *testing.T) {
	ts := newTestServer(t)
	registerCodeDef(t, ts, "calc")

	id := startInstance(t, ts, "calc")
	waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.Status.Terminal() })

	result, err := ts.handleInput(context.Background(), buildRequest("flow.input", map[string]any{
		"instance_id": id,
		"node_id":     "calc",
		"value":       "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestPendingTool(t *testing.T) {
	ts := newTestServer(t)
	registerInputDef(t, ts, "survey")

	id := startInstance(t, ts, "survey")
	waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.PendingInput != nil })

	result, err := ts.handlePending(context.Background(), buildRequest("flow.pending", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var pending struct {
		Approvals []schema.ApprovalRequest `json:"approvals"`
		Inputs    []schema.InputRequest    `json:"inputs"`
	}
	unmarshalResult(t, result, &pending)
	assert.Empty(t, pending.Approvals)
	require.Len(t, pending.Inputs, 1)
	assert.Equal(t, id, pending.Inputs[0].InstanceID)
}

func TestDefineTool(t *testing.T) {
	ts := newTestServer(t)

	result, err := ts.handleDefine(context.Background(), buildRequest("flow.define", map[string]any{
		"definition": map[string]any{
			"id":         "inline",
			"version":    "v1",
			"start_node": "calc",
			"nodes": []any{
				map[string]any{
					"id":     "calc",
					"type":   "code",
					"config": map[string]any{"script": "2 * 21"},
				},
			},
		},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, extractText(t, result))

	var defined struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	}
	unmarshalResult(t, result, &defined)
	assert.Equal(t, "inline", defined.ID)
	assert.Equal(t, "v1", defined.Version)

	// The registered definition is startable.
	id := startInstance(t, ts, "inline")
	state := waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.Status.Terminal() })
	assert.Equal(t, schema.InstanceCompleted, state.Status)
}

func TestDefineToolMissingDefinition(t *testing.T) {
	ts := newTestServer(t)

	result, err := ts.handleDefine(context.Background(), buildRequest("flow.define", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiagramToolDefinition(t *testing.T) {
	ts := newTestServer(t)
	registerCodeDef(t, ts, "calc")

	result, err := ts.handleDiagram(context.Background(), buildRequest("flow.diagram", map[string]any{
		"definition_id": "calc",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "calc")
}

func TestDiagramToolInstanceOverlay(t *testing.T) {
	ts := newTestServer(t)
	registerInputDef(t, ts, "survey")

	id := startInstance(t, ts, "survey")
	waitInstance(t, ts, id, func(s *engine.InstanceState) bool { return s.PendingInput != nil })

	result, err := ts.handleDiagram(context.Background(), buildRequest("flow.diagram", map[string]any{
		"instance_id": id,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "class ask waiting")
}

func TestDiagramToolRequiresTarget(t *testing.T) {
	ts := newTestServer(t)

	result, err := ts.handleDiagram(context.Background(), buildRequest("flow.diagram", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
