package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fingenie/fingenie/internal/retrieval"
)

// MCPSearcher abstracts semantic search for the MCP layer.
type MCPSearcher interface {
	Retrieve(ctx context.Context, query string, topK int) []retrieval.Match
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Responder Responder
	Searcher  MCPSearcher
	Docs      DocumentLister
	Index     IndexCounter
}

// NewMCPServer creates an MCP server exposing the assistant's tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"fingenie",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("FinGenie — financial assistant with a local knowledge base, live quotes, and headlines."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the financial assistant a question and get a full answer."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("userId", mcp.Description("Conversation identity (default: mcp)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Semantically search the ingested knowledge base and return relevant excerpts."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("status",
			mcp.WithDescription("Report knowledge base status: document counts per category and vector count."),
		),
		mcpStatus(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		userID := req.GetString("userId", "mcp")

		answer, err := deps.Responder.Respond(ctx, userID, question)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to answer: %v", err)), nil
		}
		return mcpText(answer.Text), nil
	}
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}

		matches := deps.Searcher.Retrieve(ctx, query, limit)
		if len(matches) == 0 {
			return mcpText("No matching excerpts found."), nil
		}

		var sb strings.Builder
		for i, m := range matches {
			fmt.Fprintf(&sb, "[%d] (score %.2f, %s) %s\n", i+1, m.Score, m.Metadata.Source, strings.TrimSpace(m.Text))
		}
		return mcpText(strings.TrimRight(sb.String(), "\n")), nil
	}
}

func mcpStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts, err := deps.Docs.DocumentCounts()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load document counts: %v", err)), nil
		}

		vectors := 0
		if deps.Index != nil {
			if n, err := deps.Index.Count(); err == nil {
				vectors = n
			}
		}

		payload := map[string]any{
			"documents": counts,
			"vectors":   vectors,
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
