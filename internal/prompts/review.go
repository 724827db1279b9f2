package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// ReviewPrompt handles the memory-review MCP prompt.
// It instructs the AI to audit the memory bank's link structure.
type ReviewPrompt struct{}

// NewReviewPrompt creates a ReviewPrompt.
func NewReviewPrompt() *ReviewPrompt {
	return &ReviewPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *ReviewPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("memory-review",
		mcp.WithPromptDescription(
			"Check the health of the memory bank: broken links, circular "+
				"transclusions and dependency cycles, with suggested fixes.",
		),
	)
}

// Handle processes the memory-review prompt request.
func (p *ReviewPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Memory Bank Review",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `memory_validate_links` and `memory_dependency_graph` (format=mermaid).\n\n" +
						"Then:\n" +
						"1. Show me the dependency graph\n" +
						"2. List every broken link with the file and line, grouped by document\n" +
						"3. For each problem, propose the smallest edit that fixes it\n" +
						"4. Point out dependency cycles and which edge you would remove\n" +
						"5. Do not edit any file until I confirm",
				),
			},
		},
	}, nil
}
