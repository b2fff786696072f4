package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the quiz-status MCP prompt.
// It instructs the AI to read and present capture progress.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("quiz-status",
		mcp.WithPromptDescription(
			"Check capture progress: whether answers are being recorded, totals so far, and storage health.",
		),
	)
}

// Handle processes the quiz-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return textPrompt("Quiz capture status",
		"Please run `quiz_status` and `quiz_stats`.\n\n"+
			"Then:\n"+
			"1. Tell me whether capture is active and for which quiz\n"+
			"2. Show my totals and success rate\n"+
			"3. Warn me if storage is nearly full or migration is advised"), nil
}
