package main

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/DatanoiseTV/contextmcp/internal/record"
	"github.com/DatanoiseTV/contextmcp/internal/service"
)

// tools declares every tool the server exposes. get_context_history is
// only offered while the history database is open.
func (a *App) tools() []server.ServerTool {
	stringItems := mcp.Items(map[string]any{"type": "string"})

	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool(service.OpSaveProjectContext,
				mcp.WithDescription("Save project-specific context with relationships"),
				mcp.WithString("id", mcp.Required(), mcp.Description("Unique identifier for the context")),
				mcp.WithString("projectId", mcp.Required(), mcp.Description("Project identifier")),
				mcp.WithString("content", mcp.Required(), mcp.Description("Context content to save")),
				mcp.WithString("parentContextId", mcp.Description("Optional ID of parent context")),
				mcp.WithArray("references", stringItems, mcp.Description("Optional related context IDs")),
				mcp.WithArray("tags", stringItems, mcp.Description("Optional tags for categorizing")),
				mcp.WithObject("metadata", mcp.Description("Optional additional metadata")),
			),
			Handler: a.saveProjectContextHandler,
		},
		{
			Tool: mcp.NewTool(service.OpSaveConversationContext,
				mcp.WithDescription("Save conversation context with continuation support"),
				mcp.WithString("id", mcp.Required(), mcp.Description("Unique identifier for the context")),
				mcp.WithString("sessionId", mcp.Required(), mcp.Description("Conversation session identifier")),
				mcp.WithString("content", mcp.Required(), mcp.Description("Context content to save")),
				mcp.WithString("continuationOf", mcp.Description("Optional ID of previous context")),
				mcp.WithArray("tags", stringItems, mcp.Description("Optional tags for categorizing")),
				mcp.WithObject("metadata", mcp.Description("Optional additional metadata")),
			),
			Handler: a.saveConversationContextHandler,
		},
		{
			Tool: mcp.NewTool(service.OpGetContext,
				mcp.WithDescription("Retrieve context by ID and optional project ID"),
				mcp.WithString("id", mcp.Required(), mcp.Description("ID of the context to retrieve")),
				mcp.WithString("projectId", mcp.Description("Optional project ID for project contexts")),
			),
			Handler: a.getContextHandler,
		},
		{
			Tool: mcp.NewTool(service.OpListContexts,
				mcp.WithDescription("List contexts with filtering options"),
				mcp.WithString("projectId", mcp.Description("Optional project ID to filter by")),
				mcp.WithString("tag", mcp.Description("Optional tag to filter by")),
				mcp.WithString("type",
					mcp.Enum(string(record.KindProject), string(record.KindConversation)),
					mcp.Description("Optional type to filter by"),
				),
			),
			Handler: a.listContextsHandler,
		},
	}

	if a.svc.HistoryEnabled() {
		tools = append(tools, server.ServerTool{
			Tool: mcp.NewTool(service.OpGetContextHistory,
				mcp.WithDescription("List saved revisions of a context, oldest first"),
				mcp.WithString("id", mcp.Required(), mcp.Description("ID of the context")),
				mcp.WithString("projectId", mcp.Description("Optional project ID for project contexts")),
			),
			Handler: a.contextHistoryHandler,
		})
	}
	return tools
}

// NewMCPServer creates the MCP server with all tools registered.
func (a *App) NewMCPServer() *server.MCPServer {
	s := server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTools(a.tools()...)
	return s
}

// Serve runs the MCP server over in/out until ctx is cancelled or in closes.
func (a *App) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s := a.NewMCPServer()
	a.logger.Info().
		Str("root", a.cfg.Root).
		Bool("history", a.svc.HistoryEnabled()).
		Msg("MCP server starting on stdio")

	stdio := server.NewStdioServer(s)
	err := stdio.Listen(ctx, in, out)
	a.logger.Info().Msg("MCP server stopped")
	return err
}
