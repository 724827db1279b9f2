package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/engine"
	"github.com/HendryAvila/membank/internal/usage"
)

// StatsTool handles the memory_stats MCP tool.
type StatsTool struct {
	bank  *engine.Engine
	store *usage.Store // nullable, works without usage tracking
}

// NewStatsTool creates a StatsTool. store may be nil.
func NewStatsTool(bank *engine.Engine, store *usage.Store) *StatsTool {
	return &StatsTool{bank: bank, store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_stats",
		mcp.WithDescription(
			"Show memory-bank statistics: document count, transclusion cache effectiveness, "+
				"most used documents and recent context optimizations.",
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of top documents and recent runs to show. Default: 5."),
		),
	)
}

// Handle processes the memory_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req, "limit", 5)

	g, err := t.bank.Graph(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading dependency graph: %v", err)), nil
	}
	report := g.Report()
	cache := t.bank.Resolver().CacheStats()

	var sb strings.Builder
	sb.WriteString("## Memory Bank Statistics\n\n")
	fmt.Fprintf(&sb, "- **Documents**: %d\n", report.Documents)
	fmt.Fprintf(&sb, "- **Links**: %d (%d broken)\n", report.Links, len(report.Broken))
	fmt.Fprintf(&sb, "- **Transclusion cache**: %d entries, %d hits, %d misses\n", cache.Entries, cache.Hits, cache.Misses)
	if t.bank.Counter().Estimated() {
		sb.WriteString("- **Token counts**: word-count estimates\n")
	}

	if t.store == nil {
		sb.WriteString("\n_Usage tracking not available._\n")
		return mcp.NewToolResultText(sb.String()), nil
	}

	stats, err := t.store.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get usage stats: %v", err)), nil
	}
	fmt.Fprintf(&sb, "- **Tracked documents**: %d (%d accesses)\n", stats.Documents, stats.TotalAccesses)
	fmt.Fprintf(&sb, "- **Optimizations**: %d\n", stats.Runs)

	top, err := t.store.Top(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get top documents: %v", err)), nil
	}
	if len(top) > 0 {
		sb.WriteString("\n### Most Used\n\n")
		for _, a := range top {
			fmt.Fprintf(&sb, "- **%s**: %d accesses, last %s\n", a.Document, a.Count, a.LastAccessed.Format("2006-01-02 15:04"))
		}
	}

	runs, err := t.store.RecentRuns(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get recent runs: %v", err)), nil
	}
	if len(runs) > 0 {
		sb.WriteString("\n### Recent Optimizations\n\n")
		for _, r := range runs {
			fmt.Fprintf(&sb, "- %s **%s** (%s): %d selected, %d excluded, %.0f%% of %d tokens\n",
				r.CreatedAt.Format("2006-01-02 15:04"), truncateContent(r.Task, 60), r.Strategy,
				r.Selected, r.Excluded, r.Utilization*100, r.Budget)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}
