// Package mcp exposes the workflow engine over the Model Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tideflow-io/tideflow/internal/engine"
	"github.com/tideflow-io/tideflow/internal/registry"
)

// FlowServerDeps holds the dependencies for creating a FlowServer.
type FlowServerDeps struct {
	Engine   *engine.Engine
	Registry *registry.MemorySource
	// Refs are read-only values exposed to every instance as refs.<name>,
	// typically decrypted vault secrets.
	Refs   map[string]any
	Logger *slog.Logger
}

// FlowServer wraps an MCP server with workflow tool handlers.
type FlowServer struct {
	engine    *engine.Engine
	registry  *registry.MemorySource
	refs      map[string]any
	logger    *slog.Logger
	sessions  *SessionRegistry
	mcpServer *server.MCPServer
}

// NewFlowServer creates a FlowServer with all tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		engine:   deps.Engine,
		registry: deps.Registry,
		refs:     deps.Refs,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"tideflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Tideflow runs multi-step workflow pipelines. Use flow.start to launch an instance, flow.state to inspect it, flow.approve / flow.reject to resolve approval gates, flow.input to answer input prompts, and flow.define to register definitions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the session registry the notifier pushes to.
func (s *FlowServer) Sessions() *SessionRegistry {
	return s.sessions
}

func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: stopTool(), Handler: s.handleStop},
		{Tool: stateTool(), Handler: s.handleState},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: approveTool(), Handler: s.handleApprove},
		{Tool: rejectTool(), Handler: s.handleReject},
		{Tool: inputTool(), Handler: s.handleInput},
		{Tool: pendingTool(), Handler: s.handlePending},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("flow.start",
		mcp.WithDescription("Start a workflow instance from a registered definition"),
		mcp.WithString("definition_id", mcp.Required(), mcp.Description("ID of the workflow definition")),
		mcp.WithString("version", mcp.Description("Definition version (default: latest)")),
		mcp.WithObject("variables", mcp.Description("Initial variables overlaid on the definition defaults")),
		mcp.WithString("start_node", mcp.Description("Override the definition's start node")),
	)
}

func stopTool() mcp.Tool {
	return mcp.NewTool("flow.stop",
		mcp.WithDescription("Request cooperative cancellation of a running instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance to stop")),
	)
}

func stateTool() mcp.Tool {
	return mcp.NewTool("flow.state",
		mcp.WithDescription("Get the current state of a workflow instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance to query")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("flow.list",
		mcp.WithDescription("List workflow instances that have not finished"),
	)
}

func approveTool() mcp.Tool {
	return mcp.NewTool("flow.approve",
		mcp.WithDescription("Approve a pending approval gate, optionally replacing the gated output"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the paused instance")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("ID of the gated node")),
		mcp.WithObject("edited_output", mcp.Description("Replacement output for the gated node")),
	)
}

func rejectTool() mcp.Tool {
	return mcp.NewTool("flow.reject",
		mcp.WithDescription("Reject a pending approval gate"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the paused instance")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("ID of the gated node")),
		mcp.WithString("reason", mcp.Description("Reason recorded with the rejection")),
	)
}

func inputTool() mcp.Tool {
	return mcp.NewTool("flow.input",
		mcp.WithDescription("Supply a value to an instance waiting on user input"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the paused instance")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("ID of the waiting node")),
		mcp.WithObject("value", mcp.Description("Supplied value; omit to use the node's default")),
	)
}

func pendingTool() mcp.Tool {
	return mcp.NewTool("flow.pending",
		mcp.WithDescription("List pending approval gates and input prompts across all instances"),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("flow.define",
		mcp.WithDescription("Register a workflow definition"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flow.diagram",
		mcp.WithDescription("Render a workflow as a Mermaid flowchart. Diagramming an instance overlays runtime node status"),
		mcp.WithString("definition_id", mcp.Description("Definition to diagram")),
		mcp.WithString("version", mcp.Description("Definition version (default: latest)")),
		mcp.WithString("instance_id", mcp.Description("Instance to diagram with status overlay")),
	)
}
