package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tideflow-io/tideflow/internal/diagram"
	"github.com/tideflow-io/tideflow/internal/engine"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

// handleStart launches an instance from a registered definition.
func (s *FlowServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	definitionID, err := req.RequireString("definition_id")
	if err != nil {
		return mcp.NewToolResultError("definition_id is required"), nil
	}
	version := req.GetString("version", "")
	variables := mcp.ParseStringMap(req, "variables", nil)
	startNode := req.GetString("start_node", "")

	s.captureSession(ctx)

	state, startErr := s.engine.StartWorkflow(ctx, engine.StartOptions{
		DefinitionID: definitionID,
		Version:      version,
		Variables:    variables,
		Refs:         s.refs,
		StartNode:    startNode,
	})
	if startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", startErr)), nil
	}

	return marshalResult(map[string]any{
		"instance_id":   state.InstanceID,
		"definition_id": state.DefinitionID,
		"status":        state.Status,
	})
}

// handleStop requests cooperative cancellation.
func (s *FlowServer) handleStop(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}

	if stopErr := s.engine.StopWorkflow(instanceID); stopErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stop failed: %v", stopErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "instance_id": instanceID})
}

// handleState returns the full state snapshot of one instance.
func (s *FlowServer) handleState(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}

	state, stateErr := s.engine.GetWorkflowState(instanceID)
	if stateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("state query failed: %v", stateErr)), nil
	}
	return marshalResult(state)
}

// handleList returns all instances that have not reached a terminal status.
func (s *FlowServer) handleList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	states := s.engine.GetRunningWorkflows()
	return marshalResult(map[string]any{"instances": states})
}

// handleApprove resolves an approval gate positively. Approving a gate that
// is no longer pending reports resolved=false rather than an error.
func (s *FlowServer) handleApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required"), nil
	}
	edited := mcp.ParseStringMap(req, "edited_output", nil)

	s.captureSession(ctx)

	resolved := s.engine.ApprovePhase(instanceID, nodeID, edited)
	return marshalResult(map[string]any{
		"resolved":    resolved,
		"instance_id": instanceID,
		"node_id":     nodeID,
	})
}

// handleReject resolves an approval gate negatively.
func (s *FlowServer) handleReject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required"), nil
	}
	reason := req.GetString("reason", "")

	s.captureSession(ctx)

	resolved := s.engine.RejectPhase(instanceID, nodeID, reason)
	return marshalResult(map[string]any{
		"resolved":    resolved,
		"instance_id": instanceID,
		"node_id":     nodeID,
	})
}

// handleInput supplies a value to a waiting input node. A missing value
// falls back to the node's declared default.
func (s *FlowServer) handleInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError("node_id is required"), nil
	}

	var value any
	if args := req.GetArguments(); args != nil {
		value = args["value"]
	}

	s.captureSession(ctx)

	if inputErr := s.engine.SupplyUserInput(instanceID, nodeID, value); inputErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("input failed: %v", inputErr)), nil
	}
	return marshalResult(map[string]any{
		"ok":          true,
		"instance_id": instanceID,
		"node_id":     nodeID,
	})
}

// handlePending lists all open approval gates and input prompts.
func (s *FlowServer) handlePending(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{
		"approvals": s.engine.PendingApprovals(),
		"inputs":    s.engine.PendingInputs(),
	})
}

// handleDefine registers a workflow definition with the in-memory registry.
func (s *FlowServer) handleDefine(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return mcp.NewToolResultError("definition registry is not configured"), nil
	}

	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.WorkflowDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	if regErr := s.registry.Register(&def); regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("register failed: %v", regErr)), nil
	}
	return marshalResult(map[string]any{
		"id":      def.ID,
		"version": def.Version,
	})
}

// handleDiagram renders a definition or instance as a Mermaid flowchart.
func (s *FlowServer) handleDiagram(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	definitionID := req.GetString("definition_id", "")
	version := req.GetString("version", "")
	instanceID := req.GetString("instance_id", "")

	if definitionID == "" && instanceID == "" {
		return mcp.NewToolResultError("at least one of definition_id or instance_id is required"), nil
	}

	var statuses map[string]schema.NodeStatus
	if instanceID != "" {
		state, stateErr := s.engine.GetWorkflowState(instanceID)
		if stateErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("instance not found: %v", stateErr)), nil
		}
		statuses = state.NodeStatuses
		definitionID = state.DefinitionID
		version = state.Version
	}

	if s.registry == nil {
		return mcp.NewToolResultError("definition registry is not configured"), nil
	}
	def, defErr := s.registry.GetDefinition(definitionID, version)
	if defErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition lookup failed: %v", defErr)), nil
	}

	model, buildErr := diagram.Build(def, statuses)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}
	return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
}

// captureSession records the calling MCP session for notifications.
func (s *FlowServer) captureSession(ctx context.Context) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
