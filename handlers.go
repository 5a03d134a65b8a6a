package main

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	apperr "github.com/DatanoiseTV/contextmcp/internal/errors"
	"github.com/DatanoiseTV/contextmcp/internal/service"
)

// saveProjectContextHandler handles the save_project_context tool.
func (a *App) saveProjectContextHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return a.call(ctx, service.OpSaveProjectContext, request), nil
}

// saveConversationContextHandler handles the save_conversation_context tool.
func (a *App) saveConversationContextHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return a.call(ctx, service.OpSaveConversationContext, request), nil
}

// getContextHandler handles the get_context tool - returns the stored content only.
func (a *App) getContextHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return a.call(ctx, service.OpGetContext, request), nil
}

// listContextsHandler handles the list_contexts tool - returns full records as JSON.
func (a *App) listContextsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return a.call(ctx, service.OpListContexts, request), nil
}

// contextHistoryHandler handles the get_context_history tool.
func (a *App) contextHistoryHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return a.call(ctx, service.OpGetContextHistory, request), nil
}

// call forwards the request arguments to the service. Failures become
// error results whose text starts with the machine-readable code.
func (a *App) call(ctx context.Context, op string, request mcp.CallToolRequest) *mcp.CallToolResult {
	var args map[string]any
	if request.Params.Arguments != nil {
		var ok bool
		if args, ok = request.Params.Arguments.(map[string]any); !ok {
			return mcp.NewToolResultError(apperr.New(apperr.CodeMalformedArguments, "Invalid arguments").Error())
		}
	}

	text, err := a.svc.Dispatch(ctx, op, args)
	if err != nil {
		event := a.logger.Warn()
		if apperr.AsCode(err) == apperr.CodeStorageFailure {
			event = a.logger.Error()
		}
		event.Err(err).Str("tool", op).Int("rpc_code", apperr.RPCCode(err)).Msg("tool call failed")
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(text)
}
