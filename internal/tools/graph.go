package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/engine"
	"github.com/HendryAvila/membank/internal/graph"
)

// GraphTool handles the memory_dependency_graph MCP tool.
type GraphTool struct {
	bank *engine.Engine
}

// NewGraphTool creates a GraphTool.
func NewGraphTool(bank *engine.Engine) *GraphTool {
	return &GraphTool{bank: bank}
}

// Definition returns the MCP tool definition for registration.
func (t *GraphTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_dependency_graph",
		mcp.WithDescription(
			"Show how memory-bank documents depend on each other: static foundation "+
				"dependencies, [[references]] and ![[transclusions]]. Returns nodes, edges, "+
				"the loading order (foundation documents first) and any dependency cycles. "+
				"Use 'mermaid' or 'dot' to get a diagram instead of JSON.",
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'json' (default, structured), 'mermaid' or 'dot' (diagram text)."),
			mcp.Enum(graph.FormatValues()...),
		),
		mcp.WithBoolean("refresh",
			mcp.Description("Rescan the memory bank before answering. Default: false."),
		),
	)
}

// Handle processes the memory_dependency_graph tool call.
func (t *GraphTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := graph.Format(strings.ToLower(req.GetString("format", string(graph.FormatJSON))))

	if boolArg(req, "refresh", false) {
		if _, err := t.bank.Rebuild(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("rescanning memory bank: %v", err)), nil
		}
	}

	out, err := t.bank.DependencyGraph(ctx, format)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}
