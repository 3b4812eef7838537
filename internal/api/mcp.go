package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/daybook/internal/graph"
	"github.com/kalambet/daybook/internal/pipeline"
)

// NewMCPServer creates an MCP server exposing the journal graph to assistants.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"daybook",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("daybook: a personal journal with a knowledge graph of people, places, events, emotions and topics."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("related_notes",
			mcp.WithDescription("Return past journal entries related to the entry written on a given day."),
			mcp.WithString("date", mcp.Description("Day of the anchor entry, YYYY-MM-DD (default today)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 5)")),
		),
		mcpRelatedNotes(deps),
	)

	s.AddTool(
		mcp.NewTool("graph_stats",
			mcp.WithDescription("Entity and relationship counts plus the processing backlog."),
		),
		mcpGraphStats(deps),
	)

	s.AddTool(
		mcp.NewTool("add_entry",
			mcp.WithDescription("Store a journal entry. Entities are extracted by the next extraction batch."),
			mcp.WithString("content", mcp.Description("Entry text"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Entry day, YYYY-MM-DD (default today)")),
		),
		mcpAddEntry(deps),
	)

	s.AddTool(
		mcp.NewTool("run_extraction",
			mcp.WithDescription("Start entity extraction over every pending entry in the background."),
		),
		mcpRunBatch(deps, graph.StageExtraction),
	)

	s.AddTool(
		mcp.NewTool("run_discovery",
			mcp.WithDescription("Start relationship discovery over every extracted, undiscovered entry in the background."),
		),
		mcpRunBatch(deps, graph.StageDiscovery),
	)

	return s
}

func mcpDate(req mcp.CallToolRequest) (time.Time, error) {
	s := req.GetString("date", "")
	if s == "" {
		return graph.NormalizeDate(time.Now()), nil
	}
	return graph.ParseDate(s)
}

func mcpRelatedNotes(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		date, err := mcpDate(req)
		if err != nil {
			return mcpError("date must be YYYY-MM-DD"), nil
		}
		limit := req.GetInt("limit", 0)
		if limit > 50 {
			limit = 50
		}

		related, err := deps.Relevance.FindRelatedEntries(ctx, date, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("finding related entries failed: %v", err)), nil
		}

		text := deps.Composer.FormatRelated(date, related)
		if text == "" {
			return mcpText(fmt.Sprintf("No related notes for %s.", date.Format(graph.DateLayout))), nil
		}
		return mcpText(text), nil
	}
}

func mcpGraphStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := collectStats(ctx, deps)
		if err != nil {
			return mcpError(fmt.Sprintf("collecting stats failed: %v", err)), nil
		}
		b, err := json.Marshal(st)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddEntry(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		date, err := mcpDate(req)
		if err != nil {
			return mcpError("date must be YYYY-MM-DD"), nil
		}

		entry := graph.Entry{Date: date, Content: content}
		if err := deps.Store.SaveEntry(ctx, &entry); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored entry %s for %s", entry.ID, date.Format(graph.DateLayout))), nil
	}
}

func mcpRunBatch(deps Deps, stage graph.Stage) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queued, err := deps.Controller.Start(ctx, stage)
		if errors.Is(err, pipeline.ErrBatchInProgress) {
			return mcpError("a batch is already running; check status or cancel it first"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("starting %s failed: %v", stage, err)), nil
		}
		return mcpText(fmt.Sprintf("Started %s over %d entries", stage, queued)), nil
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
