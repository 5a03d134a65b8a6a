package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// runInteractiveCLI starts an interactive shell for exercising the tools
// without an MCP client. It drives the same handlers the server registers.
func (a *App) runInteractiveCLI(ctx context.Context, in io.Reader, out io.Writer) {
	fmt.Fprintln(out, WelcomeMsg)
	fmt.Fprintln(out, HelpMsg)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		// Cancellation is noticed between lines; a blocked Scan only
		// returns once the next line or EOF arrives.
		if ctx.Err() != nil {
			return
		}
		fmt.Fprint(out, "\n"+PromptStr)
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		cmd := strings.ToLower(parts[0])
		switch cmd {
		case "exit", "quit":
			return

		case "help":
			fmt.Fprintln(out, HelpMsg)

		case "save-project":
			if len(parts) < 4 {
				fmt.Fprintln(out, "Usage: save-project <projectId> <id> <content>")
				continue
			}
			a.cliCall(ctx, out, a.saveProjectContextHandler, map[string]any{
				"projectId": parts[1],
				"id":        parts[2],
				"content":   strings.Join(parts[3:], " "),
			})

		case "save-conv":
			if len(parts) < 4 {
				fmt.Fprintln(out, "Usage: save-conv <sessionId> <id> <content>")
				continue
			}
			a.cliCall(ctx, out, a.saveConversationContextHandler, map[string]any{
				"sessionId": parts[1],
				"id":        parts[2],
				"content":   strings.Join(parts[3:], " "),
			})

		case "get":
			if len(parts) < 2 {
				fmt.Fprintln(out, "Usage: get <id> [projectId]")
				continue
			}
			a.cliCall(ctx, out, a.getContextHandler, idArgs(parts[1:]))

		case "list":
			args, err := filterArgs(parts[1:])
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			a.cliCall(ctx, out, a.listContextsHandler, args)

		case "history":
			if len(parts) < 2 {
				fmt.Fprintln(out, "Usage: history <id> [projectId]")
				continue
			}
			a.cliCall(ctx, out, a.contextHistoryHandler, idArgs(parts[1:]))

		case "reindex":
			n, err := a.svc.Reindex(ctx)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Indexed %d contexts\n", n)

		default:
			fmt.Fprintln(out, UnknownCmdMsg)
		}
	}
}

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// cliCall invokes h with args and prints its text result.
func (a *App) cliCall(ctx context.Context, out io.Writer, h toolHandler, args map[string]any) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(ctx, req)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	text := resultText(res)
	if res.IsError {
		fmt.Fprintf(out, "Error: %s\n", text)
		return
	}
	fmt.Fprintln(out, text)
}

func resultText(res *mcp.CallToolResult) string {
	if res == nil || len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func idArgs(parts []string) map[string]any {
	args := map[string]any{"id": parts[0]}
	if len(parts) > 1 {
		args["projectId"] = parts[1]
	}
	return args
}

// filterArgs parses key=value list filters.
func filterArgs(parts []string) (map[string]any, error) {
	args := map[string]any{}
	for _, p := range parts {
		key, value, ok := strings.Cut(p, "=")
		if !ok || value == "" {
			return nil, fmt.Errorf("Usage: list [projectId=..] [tag=..] [type=..]")
		}
		switch key {
		case "projectId", "tag", "type":
			args[key] = value
		default:
			return nil, fmt.Errorf("Unknown filter: %s", key)
		}
	}
	return args, nil
}
