package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/internal/engine"
	"github.com/rendis/cascade/internal/scheduler"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/internal/streaming"
)

// CascadeServerDeps holds the dependencies for creating a CascadeServer.
type CascadeServerDeps struct {
	Executor engine.Executor
	Store    store.Store
	Catalog  *definition.Catalog
	// Scheduler is optional; cascade.schedule fails without it.
	Scheduler *scheduler.Scheduler
	// Hub is optional; when set, Serve forwards its events to clients as
	// notifications/message.
	Hub    streaming.EventHub
	Logger *slog.Logger
}

// CascadeServer wraps an MCP server with workflow tool handlers.
type CascadeServer struct {
	executor  engine.Executor
	store     store.Store
	catalog   *definition.Catalog
	scheduler *scheduler.Scheduler
	hub       streaming.EventHub
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewCascadeServer creates a new CascadeServer with every tool registered.
func NewCascadeServer(deps CascadeServerDeps) *CascadeServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &CascadeServer{
		executor:  deps.Executor,
		store:     deps.Store,
		catalog:   deps.Catalog,
		scheduler: deps.Scheduler,
		hub:       deps.Hub,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"cascade",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Cascade runs step-based workflows whose branches are cancelled when a step's cancel condition holds. Use cascade.define to register a definition, cascade.start to create an instance, cascade.report to hand a step result to a pointer, cascade.update_data to change instance data, cascade.process to run a cycle, cascade.status, cascade.query and cascade.diagram to inspect state."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	return s
}

// Serve starts the MCP server over stdio and blocks until ctx is cancelled.
func (s *CascadeServer) Serve(ctx context.Context) error {
	s.logger.Info("cascade MCP server starting (stdio)")
	if s.hub != nil {
		events, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
		if err != nil {
			return err
		}
		defer cancel()
		go forwardEvents(ctx, events, s.mcpServer.SendNotificationToAllClients)
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying server for testing or custom transports.
func (s *CascadeServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *CascadeServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: processTool(), Handler: s.handleProcess},
		{Tool: reportTool(), Handler: s.handleReport},
		{Tool: updateDataTool(), Handler: s.handleUpdateData},
		{Tool: signalTool(), Handler: s.handleSignal},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

func defineTool() mcp.Tool {
	return mcp.NewTool("cascade.define",
		mcp.WithDescription("Register a workflow definition document"),
		mcp.WithString("body", mcp.Required(), mcp.Description("Definition document (steps, outcomes, children, cancel_condition, proceed_on_cancel)")),
		mcp.WithString("format",
			mcp.Enum(definition.FormatYAML, definition.FormatJSON),
			mcp.Description("Document format (default: yaml)"),
		),
	)
}

func startTool() mcp.Tool {
	return mcp.NewTool("cascade.start",
		mcp.WithDescription("Start a workflow instance from a registered definition"),
		mcp.WithString("definition_id", mcp.Required(), mcp.Description("Definition ID")),
		mcp.WithNumber("version", mcp.Description("Definition version (default: latest)")),
		mcp.WithObject("data", mcp.Description("Initial instance data")),
	)
}

func processTool() mcp.Tool {
	return mcp.NewTool("cascade.process",
		mcp.WithDescription("Run one processing cycle for a workflow instance"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow instance ID")),
	)
}

func reportTool() mcp.Tool {
	return mcp.NewTool("cascade.report",
		mcp.WithDescription("Report a step result for an execution pointer"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow instance ID")),
		mcp.WithString("pointer_id", mcp.Required(), mcp.Description("Execution pointer ID")),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum(resultNext, resultOutcome, resultBranch, resultSleep),
			mcp.Description("Result kind"),
		),
		mcp.WithString("outcome", mcp.Description("Outcome value when kind is outcome")),
		mcp.WithArray("values", mcp.Description("Branch values when kind is branch")),
		mcp.WithString("sleep_for", mcp.Description("Go duration when kind is sleep, e.g. 30s")),
	)
}

func updateDataTool() mcp.Tool {
	return mcp.NewTool("cascade.update_data",
		mcp.WithDescription("Merge keys into instance data and run a cycle"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow instance ID")),
		mcp.WithObject("patch", mcp.Required(), mcp.Description("Keys to set on the instance data")),
	)
}

func signalTool() mcp.Tool {
	return mcp.NewTool("cascade.signal",
		mcp.WithDescription("Suspend, resume or terminate a workflow instance"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow instance ID")),
		mcp.WithString("signal", mcp.Required(),
			mcp.Enum(signalSuspend, signalResume, signalTerminate),
			mcp.Description("Signal to send"),
		),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("cascade.schedule",
		mcp.WithDescription("Schedule a processing cycle at a time or on the next cron match"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow instance ID")),
		mcp.WithString("at", mcp.Description("RFC3339 timestamp")),
		mcp.WithString("cron", mcp.Description("Cron expression; the next match is used")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("cascade.status",
		mcp.WithDescription("Get workflow instance status"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow instance ID")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("cascade.query",
		mcp.WithDescription("Query workflows, events, scheduled commands or definitions"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "events", "commands", "definitions"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, definition_id, workflow_id, since, command_name, limit, offset)")),
	)
}
