package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/membank/internal/engine"
	"github.com/HendryAvila/membank/internal/optimizer"
	"github.com/HendryAvila/membank/internal/tokens"
)

// OptimizeTool handles the memory_optimize_context MCP tool.
type OptimizeTool struct {
	bank *engine.Engine
}

// NewOptimizeTool creates an OptimizeTool.
func NewOptimizeTool(bank *engine.Engine) *OptimizeTool {
	return &OptimizeTool{bank: bank}
}

// Definition returns the MCP tool definition for registration.
func (t *OptimizeTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_optimize_context",
		mcp.WithDescription(
			"Select the memory-bank content most useful for a task within a token budget. "+
				"Documents are scored for relevance to the task, prerequisites are loaded before "+
				"the documents that need them, and oversized documents fall back to sections or "+
				"summaries. Returns a structured result: selections with scores and token counts, "+
				"excluded documents with the reason, utilization and warnings. "+
				"Call this at the start of a task instead of reading every memory file.",
		),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("What you are about to work on, in plain words. Used for relevance scoring."),
		),
		mcp.WithNumber("budget",
			mcp.Required(),
			mcp.Description("Token budget for the selected content. Must be positive."),
		),
		mcp.WithString("strategy",
			mcp.Description(
				"'priority' (foundation tiers first), 'dependency_aware' (relevant documents and their "+
					"prerequisites), 'section_level' (same, at section granularity) or 'hybrid' "+
					"(section_level above the relevance threshold, priority for the rest). "+
					"Default: the server's configured strategy, normally hybrid.",
			),
			mcp.Enum(optimizer.StrategyValues()...),
		),
		mcp.WithArray("mandatory",
			mcp.Description("Document ids that must always be included, e.g. [\"projectbrief\", \"activeContext\"]."),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Relevance threshold in [0,1]. Default: 0.3."),
		),
		mcp.WithBoolean("include_content",
			mcp.Description("Include the selected text in the result. Default: true. "+
				"Set false to preview the selection cheaply."),
		),
	)
}

// Handle processes the memory_optimize_context tool call. When the client
// sent a progress token, each tier batch is announced as a progress
// notification while the result is assembled.
func (t *OptimizeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := strings.TrimSpace(req.GetString("task", ""))
	if task == "" {
		return mcp.NewToolResultError("'task' is required — describe what you are about to work on"), nil
	}
	budget := intArg(req, "budget", 0)
	if budget <= 0 {
		return mcp.NewToolResultError("'budget' must be a positive number of tokens"), nil
	}
	var strategy optimizer.Strategy
	if raw := req.GetString("strategy", ""); raw != "" {
		parsed, err := optimizer.ParseStrategy(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		strategy = parsed
	}
	threshold := floatArg(req, "threshold", 0)
	if threshold < 0 || threshold > 1 {
		return mcp.NewToolResultError("'threshold' must be within [0,1]"), nil
	}

	request := optimizer.Request{
		Task:      task,
		Budget:    budget,
		Strategy:  strategy,
		Mandatory: stringsArg(req, "mandatory"),
		Threshold: threshold,
	}

	res, err := t.bank.StreamContext(ctx, request, progressReporter(ctx, req))
	if err != nil && res == nil {
		if errors.Is(err, optimizer.ErrInvalidBudget) || errors.Is(err, optimizer.ErrUnknownStrategy) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("optimizing context: %v", err)), nil
	}

	if !boolArg(req, "include_content", true) {
		res = withoutContent(res)
	}
	return mcp.NewToolResultStructured(res, formatResult(res)), nil
}

// progressReporter returns a batch callback that forwards batches as MCP
// progress notifications, or a no-op outside a server session.
func progressReporter(ctx context.Context, req mcp.CallToolRequest) func(optimizer.Batch) error {
	srv := server.ServerFromContext(ctx)
	if srv == nil || req.Params.Meta == nil || req.Params.Meta.ProgressToken == nil {
		return func(optimizer.Batch) error { return nil }
	}
	token := req.Params.Meta.ProgressToken
	return func(b optimizer.Batch) error {
		ids := make([]string, len(b.Selections))
		for i, s := range b.Selections {
			ids[i] = s.Document
		}
		params := map[string]any{
			"progressToken": token,
			"progress":      b.Seq + 1,
			"message":       fmt.Sprintf("tier %d: %s (~%s tokens)", b.Tier, strings.Join(ids, ", "), tokens.FormatNumber(b.Tokens)),
		}
		// A client that stopped listening does not fail the call.
		_ = srv.SendNotificationToClient(ctx, "notifications/progress", params)
		return nil
	}
}

// withoutContent returns a copy of res with selection text removed.
func withoutContent(res *optimizer.Result) *optimizer.Result {
	cp := *res
	cp.Selections = make([]optimizer.Selection, len(res.Selections))
	for i, s := range res.Selections {
		s.Content = ""
		cp.Selections[i] = s
	}
	return &cp
}

// formatResult renders the text fallback of a structured result.
func formatResult(r *optimizer.Result) string {
	var sb strings.Builder
	sb.WriteString("## Optimized Context\n\n")
	fmt.Fprintf(&sb, "- **Strategy**: %s\n", r.Strategy)
	fmt.Fprintf(&sb, "- **Status**: %s\n", r.Status)
	fmt.Fprintf(&sb, "- **Tokens**: ~%s of %s (%.0f%%)\n",
		tokens.FormatNumber(r.TotalTokens), tokens.FormatNumber(r.Budget), r.Utilization*100)
	if r.OverBudget {
		sb.WriteString("- **⚠️ Over budget**: mandatory documents exceed the budget\n")
	}

	if len(r.Selections) > 0 {
		sb.WriteString("\n### Selected\n\n")
		for _, s := range r.Selections {
			fmt.Fprintf(&sb, "- **%s** (tier %d, score %.2f, ~%s tokens)", s.Document, s.Tier, s.Score, tokens.FormatNumber(s.Tokens))
			if len(s.Sections) > 0 {
				fmt.Fprintf(&sb, " sections: %s", strings.Join(s.Sections, ", "))
			}
			if s.Summary != optimizer.SummaryNone {
				fmt.Fprintf(&sb, " summary: %s", s.Summary)
			}
			sb.WriteString("\n")
		}
	}

	if len(r.Exclusions) > 0 {
		sb.WriteString("\n### Excluded\n\n")
		for _, e := range r.Exclusions {
			fmt.Fprintf(&sb, "- **%s**: %s", e.Document, e.Reason)
			if e.Detail != "" {
				fmt.Fprintf(&sb, " (%s)", truncateContent(e.Detail, 120))
			}
			sb.WriteString("\n")
		}
	}

	if len(r.Warnings) > 0 {
		sb.WriteString("\n### Warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}

	if content := r.Content(); content != "" {
		sb.WriteString("\n---\n\n")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String()
}
