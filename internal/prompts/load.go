// Package prompts implements MCP prompt handlers for the memory bank.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to run a specific sequence of memory tools. Unlike
// tools (which the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

// defaultBudget is suggested when the user does not name one.
const defaultBudget = 8000

// LoadPrompt handles the memory-load MCP prompt.
// It asks the AI to load the memory bank for a task through the optimizer
// instead of reading every file.
type LoadPrompt struct{}

// NewLoadPrompt creates a LoadPrompt.
func NewLoadPrompt() *LoadPrompt {
	return &LoadPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *LoadPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("memory-load",
		mcp.WithPromptDescription(
			"Load the memory-bank context relevant to a task within a token budget. "+
				"Foundation documents come first, then the most relevant material.",
		),
		mcp.WithArgument("task",
			mcp.ArgumentDescription("What you are about to work on"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("budget",
			mcp.ArgumentDescription("Token budget for the loaded context. Default: 8000"),
		),
	)
}

// Handle processes the memory-load prompt request.
func (p *LoadPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	task := "the current task"
	budget := defaultBudget
	if args := req.Params.Arguments; args != nil {
		if t, ok := args["task"]; ok && t != "" {
			task = t
		}
		if b, ok := args["budget"]; ok && b != "" {
			n, err := strconv.Atoi(b)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("budget must be a positive integer, got %q", b)
			}
			budget = n
		}
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Load memory bank for: %s", task),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I'm about to work on: %s\n\n"+
						"Please:\n"+
						"1. Run `memory_optimize_context` with task=%q, budget=%d and "+
						"mandatory=[\"projectbrief\", \"activeContext\"]\n"+
						"2. Read the returned context carefully before doing anything else\n"+
						"3. If an excluded document looks important, fetch it with `memory_read`\n"+
						"4. Mention any warnings (broken links, cycles, over budget) in one line\n"+
						"5. Summarize what you now know about the task in 3-5 bullets",
					task, task, budget,
				)),
			},
		},
	}, nil
}
