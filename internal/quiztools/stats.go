package quiztools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/quizledger/internal/engine"
	"github.com/mark3labs/mcp-go/mcp"
)

// StatusTool handles the quiz_status MCP tool.
type StatusTool struct {
	engine *engine.Engine
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(e *engine.Engine) *StatusTool {
	return &StatusTool{engine: e}
}

// Definition returns the MCP tool definition for quiz_status.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("quiz_status",
		mcp.WithDescription("Report whether capture is active on this page and the quiz name."),
	)
}

// Handle processes the quiz_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.engine.Status())
}

// ─── StatsTool ──────────────────────────────────────────────────────────────

// StatsTool handles the quiz_stats MCP tool.
type StatsTool struct {
	engine *engine.Engine
}

// NewStatsTool creates a StatsTool.
func NewStatsTool(e *engine.Engine) *StatsTool {
	return &StatsTool{engine: e}
}

// Definition returns the MCP tool definition for quiz_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("quiz_stats",
		mcp.WithDescription(
			"Show capture statistics: sessions, answered questions, accuracy, and storage usage with a migration hint when the store grows large.",
		),
	)
}

// Handle processes the quiz_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.engine.StorageStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get stats: %v", err)), nil
	}
	return mcp.NewToolResultText(FormatStats(st)), nil
}

// FormatStats renders the capture totals and storage report as Markdown.
func FormatStats(st engine.StorageStats) string {
	sum := st.Summary
	var sb strings.Builder
	sb.WriteString("## Quiz Statistics\n\n")
	sb.WriteString(fmt.Sprintf("- **Sessions**: %d\n", sum.Sessions))
	sb.WriteString(fmt.Sprintf("- **Questions**: %d\n", sum.Questions))
	sb.WriteString(fmt.Sprintf("- **Correct**: %d\n", sum.Correct))
	sb.WriteString(fmt.Sprintf("- **Incorrect**: %d\n", sum.Incorrect))
	sb.WriteString(fmt.Sprintf("- **Unknown**: %d\n", sum.Unknown))
	sb.WriteString(fmt.Sprintf("- **Success rate**: %d%%\n", sum.SuccessRate))

	sb.WriteString("\n## Storage\n\n")
	sb.WriteString(fmt.Sprintf("- **Backend**: %s\n", st.Backend))
	sb.WriteString(fmt.Sprintf("- **Used**: %d of %d bytes (%.1f%%, %s)\n",
		st.BytesInUse, st.LimitBytes, st.PercentUsed, st.Level))
	if st.MigrationAdvised {
		sb.WriteString("\nStorage is getting large. Run `quizledger migrate` to move sessions to a bigger backend.\n")
	}
	return sb.String()
}
