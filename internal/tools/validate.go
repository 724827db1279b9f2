package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/engine"
)

// ValidateLinksTool handles the memory_validate_links MCP tool.
type ValidateLinksTool struct {
	bank *engine.Engine
}

// NewValidateLinksTool creates a ValidateLinksTool.
func NewValidateLinksTool(bank *engine.Engine) *ValidateLinksTool {
	return &ValidateLinksTool{bank: bank}
}

// Definition returns the MCP tool definition for registration.
func (t *ValidateLinksTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_validate_links",
		mcp.WithDescription(
			"Check [[references]] and ![[transclusions]] for missing targets, missing "+
				"sections, circular inclusion and excessive nesting. Unknown or malformed "+
				"directive options are reported as warnings. Omit 'id' to check the whole "+
				"memory bank.",
		),
		mcp.WithString("id",
			mcp.Description("Document id to check. Optional — if omitted, every document is checked."),
		),
	)
}

// Handle processes the memory_validate_links tool call.
func (t *ValidateLinksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))

	report, err := t.bank.ValidateLinks(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("validating links: %v", err)), nil
	}
	return mcp.NewToolResultStructured(report, formatLinkReport(report)), nil
}

func formatLinkReport(r *engine.LinkReport) string {
	var sb strings.Builder
	sb.WriteString("## Link Validation\n\n")
	status := "✅ valid"
	if !r.Valid {
		status = "❌ broken links found"
	}
	fmt.Fprintf(&sb, "- **Status**: %s\n", status)
	fmt.Fprintf(&sb, "- **Documents**: %d\n", r.Documents)
	fmt.Fprintf(&sb, "- **Links**: %d\n", r.Links)

	writeIssues(&sb, "Broken", r.Broken)
	writeIssues(&sb, "Warnings", r.Warnings)
	return sb.String()
}

func writeIssues(sb *strings.Builder, title string, issues []engine.LinkIssue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n### %s (%d)\n\n", title, len(issues))
	for _, is := range issues {
		loc := is.Source
		if is.Line > 0 {
			loc = fmt.Sprintf("%s:%d", is.Source, is.Line)
		}
		if is.Raw != "" {
			fmt.Fprintf(sb, "- `%s` %s — %s\n", loc, is.Raw, is.Problem)
		} else {
			fmt.Fprintf(sb, "- `%s` — %s\n", loc, is.Problem)
		}
	}
}
