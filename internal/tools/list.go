package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/engine"
	"github.com/HendryAvila/membank/internal/tokens"
)

// defaultListLimit caps the listing unless the caller asks for more.
const defaultListLimit = 50

// ListTool handles the memory_list MCP tool.
type ListTool struct {
	bank *engine.Engine
}

// NewListTool creates a ListTool.
func NewListTool(bank *engine.Engine) *ListTool {
	return &ListTool{bank: bank}
}

// Definition returns the MCP tool definition for registration.
func (t *ListTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_list",
		mcp.WithDescription(
			"List memory-bank documents in loading order with their priority tier and "+
				"token size. Use it to see what exists before reading or optimizing.",
		),
		mcp.WithString("detail_level",
			mcp.Description(
				"Level of detail: 'summary' (ids only — minimal tokens), "+
					"'standard' (default — tier and tokens), "+
					"'full' (also dependencies, link count and access count).",
			),
			mcp.Enum(DetailLevelValues()...),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of documents to list. Default: 50."),
		),
		mcp.WithBoolean("refresh",
			mcp.Description("Rescan the memory bank before listing. Default: false."),
		),
	)
}

// Handle processes the memory_list tool call.
func (t *ListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	detail := ParseDetailLevel(req.GetString("detail_level", ""))
	limit := intArg(req, "limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}

	if boolArg(req, "refresh", false) {
		if _, err := t.bank.Rebuild(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("rescanning memory bank: %v", err)), nil
		}
	}

	docs, err := t.bank.ListDocuments(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing documents: %v", err)), nil
	}
	if len(docs) == 0 {
		return mcp.NewToolResultText("No memory-bank documents found."), nil
	}

	shown := docs
	if len(shown) > limit {
		shown = shown[:limit]
	}

	var (
		sb    strings.Builder
		total int
	)
	fmt.Fprintf(&sb, "## Memory Bank (%d documents)\n\n", len(docs))
	for _, d := range shown {
		total += d.Tokens
		switch detail {
		case DetailSummary:
			fmt.Fprintf(&sb, "- %s\n", d.ID)
		case DetailFull:
			fmt.Fprintf(&sb, "- **%s** (tier %d, ~%s tokens, %d links, %d accesses)",
				d.ID, d.Tier, tokens.FormatNumber(d.Tokens), d.Links, d.Accesses)
			if len(d.Dependencies) > 0 {
				fmt.Fprintf(&sb, " ← %s", strings.Join(d.Dependencies, ", "))
			}
			sb.WriteString("\n")
		default:
			fmt.Fprintf(&sb, "- **%s** (tier %d, ~%s tokens)\n", d.ID, d.Tier, tokens.FormatNumber(d.Tokens))
		}
	}

	sb.WriteString(NavigationHint(len(shown), len(docs), "Increase limit to see more."))
	if detail == DetailSummary {
		sb.WriteString(SummaryFooter)
	} else {
		fmt.Fprintf(&sb, "\n📚 ~%s tokens across listed documents", tokens.FormatNumber(total))
	}
	return mcp.NewToolResultText(sb.String()), nil
}
