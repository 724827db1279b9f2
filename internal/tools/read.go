package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/engine"
	"github.com/HendryAvila/membank/internal/tokens"
)

// ReadTool handles the memory_read MCP tool.
type ReadTool struct {
	bank *engine.Engine
}

// NewReadTool creates a ReadTool.
func NewReadTool(bank *engine.Engine) *ReadTool {
	return &ReadTool{bank: bank}
}

// Definition returns the MCP tool definition for registration.
func (t *ReadTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_read",
		mcp.WithDescription(
			"Read one memory-bank document, or one section of it, with transclusions "+
				"expanded. Prefer memory_optimize_context when loading context for a task; "+
				"use this to drill into a document it summarized or left out.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Document id, e.g. 'systemPatterns' or 'features/auth.md'."),
		),
		mcp.WithString("section",
			mcp.Description("Exact heading text of the section to return (case-sensitive). Optional."),
		),
		mcp.WithBoolean("raw",
			mcp.Description("Return the text without expanding ![[transclusions]]. Default: false."),
		),
	)
}

// Handle processes the memory_read tool call.
func (t *ReadTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	view, err := t.bank.ReadDocument(ctx, engine.ReadRequest{
		ID:      id,
		Section: strings.TrimSpace(req.GetString("section", "")),
		Raw:     boolArg(req, "raw", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading %s: %v", id, err)), nil
	}

	var sb strings.Builder
	title := view.ID
	if view.Section != "" {
		title += " § " + view.Section
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	sb.WriteString(view.Content)
	if !strings.HasSuffix(view.Content, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString(tokens.Footer(view.Tokens))
	return mcp.NewToolResultText(sb.String()), nil
}
