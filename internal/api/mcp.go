package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/grepshot/grepshot/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
}

// NewMCPServer creates an MCP server exposing the screenshot corpus to LLM
// clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"grepshot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("grepshot — search the text extracted from your screenshots."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_screenshots",
			mcp.WithDescription("Search stored screenshots by the text recognized in them. Matching is case-insensitive substring."),
			mcp.WithString("query", mcp.Description("Text to search for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchScreenshots(deps),
	)

	s.AddTool(
		mcp.NewTool("get_screenshot_text",
			mcp.WithDescription("Return the full recognized text of a single screenshot by its id (file path)."),
			mcp.WithString("id", mcp.Description("Screenshot id"), mcp.Required()),
		),
		mcpGetScreenshotText(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"grepshot://stats",
			"Corpus Stats",
			mcp.WithResourceDescription("Screenshot corpus size and recency as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpSearchScreenshots(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		matches, err := deps.Store.SearchScreenshots(query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(matches) > limit {
			matches = matches[:limit]
		}

		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		type matchResult struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Text      string `json:"text"`
			CreatedAt int64  `json:"created_at"`
		}

		results := make([]matchResult, len(matches))
		for i, sc := range matches {
			text := sc.ExtractedText
			if utf8.RuneCountInString(text) > 500 {
				runes := []rune(text)
				text = string(runes[:500]) + "..."
			}
			results[i] = matchResult{
				ID:        sc.ID,
				Name:      sc.DisplayName,
				Text:      text,
				CreatedAt: sc.CreatedAt,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpGetScreenshotText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		sc, err := deps.Store.GetScreenshot(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("no screenshot with id %s", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		return mcpText(sc.ExtractedText), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		count, err := deps.Store.CountScreenshots()
		if err != nil {
			return nil, fmt.Errorf("failed to count screenshots: %w", err)
		}

		stats := map[string]any{"count": count}
		recent, err := deps.Store.MostRecentScreenshot()
		switch {
		case err == nil:
			stats["most_recent_created_at"] = recent.CreatedAt
			stats["most_recent_name"] = recent.DisplayName
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("failed to read most recent screenshot: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
