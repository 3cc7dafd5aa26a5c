package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/campa/internal/session"
	"github.com/kalambet/campa/internal/storage"
)

// mcpDefaultUser attributes tool calls that carry no user id.
const mcpDefaultUser = "mcp"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Agent    Asker
	Store    *storage.Store
	Sessions *session.Store // optional; checkpoints dropped on clear_memory
}

// NewMCPServer creates an MCP server with the campaign agent tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"campa",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("campa — conversational analytics over email campaign data and campaign documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_campaigns",
			mcp.WithDescription("Ask a question about email campaign performance, comparisons, topics, or campaign documents."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("thread_id", mcp.Description("Conversation thread to continue; omit to start a new one")),
			mcp.WithString("user_id", mcp.Description("User the query is attributed to")),
		),
		mcpAskCampaigns(deps),
	)

	s.AddTool(
		mcp.NewTool("get_history",
			mcp.WithDescription("Return the persisted conversation history of a thread, oldest first."),
			mcp.WithString("thread_id", mcp.Description("Thread to read"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of turns (default 20)")),
		),
		mcpGetHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_memory",
			mcp.WithDescription("Delete a thread's conversation history and any session state."),
			mcp.WithString("thread_id", mcp.Description("Thread to clear"), mcp.Required()),
		),
		mcpClearMemory(deps),
	)

	return s
}

func mcpAskCampaigns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		threadID := req.GetString("thread_id", "")
		userID := req.GetString("user_id", mcpDefaultUser)

		turn, err := deps.Agent.ProcessQuery(ctx, threadID, userID, query)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"thread_id":     turn.ThreadID,
			"response_type": turn.ResponseType,
			"content":       turn.Content,
			"attributions":  turn.Attributions,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}

		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}

		turns, err := deps.Store.ListHistory(threadID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing history failed: %v", err)), nil
		}
		if len(turns) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(turns)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClearMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}

		if err := deps.Store.ClearThread(threadID); err != nil {
			return mcpError(fmt.Sprintf("clearing thread failed: %v", err)), nil
		}
		if deps.Sessions != nil {
			deps.Sessions.Drop(threadID)
		}
		return mcpText(fmt.Sprintf("Cleared thread %s", threadID)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
