package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/engine"
	"github.com/HendryAvila/membank/internal/tokens"
)

// ResolveTool handles the memory_resolve MCP tool.
type ResolveTool struct {
	bank *engine.Engine
}

// NewResolveTool creates a ResolveTool.
func NewResolveTool(bank *engine.Engine) *ResolveTool {
	return &ResolveTool{bank: bank}
}

// Definition returns the MCP tool definition for registration.
func (t *ResolveTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_resolve",
		mcp.WithDescription(
			"Return a memory-bank document with every ![[transclusion]] expanded in place. "+
				"Fails with a precise error on circular inclusion, excessive nesting, "+
				"or a missing target or section.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Document id, e.g. 'activeContext' or 'features/auth.md'. '.md' is optional."),
		),
	)
}

// Handle processes the memory_resolve tool call.
func (t *ResolveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	res, err := t.bank.ResolveTransclusions(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolving %s: %v", id, err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s (resolved)\n\n", res.ID)
	sb.WriteString(res.Content)
	if !strings.HasSuffix(res.Content, "\n") {
		sb.WriteString("\n")
	}
	if len(res.Includes) > 0 {
		fmt.Fprintf(&sb, "\n---\nInlined: %s\n", strings.Join(res.Includes, ", "))
	}
	sb.WriteString(tokens.Footer(res.Tokens))
	return mcp.NewToolResultText(sb.String()), nil
}
