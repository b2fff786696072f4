package quiztools

import (
	"context"
	"fmt"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/engine"
	"github.com/mark3labs/mcp-go/mcp"
)

// CaptureAllTool handles the quiz_capture_all MCP tool.
type CaptureAllTool struct {
	engine *engine.Engine
}

// NewCaptureAllTool creates a CaptureAllTool.
func NewCaptureAllTool(e *engine.Engine) *CaptureAllTool {
	return &CaptureAllTool{engine: e}
}

// Definition returns the MCP tool definition for quiz_capture_all.
func (t *CaptureAllTool) Definition() mcp.Tool {
	return mcp.NewTool("quiz_capture_all",
		mcp.WithDescription("Return every stored quiz session with its questions and running totals, as JSON."),
	)
}

// Handle processes the quiz_capture_all tool call.
func (t *CaptureAllTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := t.engine.GetAllSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read sessions: %v", err)), nil
	}
	return jsonResult(struct {
		Sessions []capture.SessionRecord `json:"sessions"`
	}{sessions})
}

// ─── FlushTool ──────────────────────────────────────────────────────────────

// FlushTool handles the quiz_flush MCP tool.
type FlushTool struct {
	engine *engine.Engine
}

// NewFlushTool creates a FlushTool.
func NewFlushTool(e *engine.Engine) *FlushTool {
	return &FlushTool{engine: e}
}

// Definition returns the MCP tool definition for quiz_flush.
func (t *FlushTool) Definition() mcp.Tool {
	return mcp.NewTool("quiz_flush",
		mcp.WithDescription("Write any answer still waiting in the debounce window and wait until all queued writes finish."),
	)
}

// Handle processes the quiz_flush tool call.
func (t *FlushTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.engine.Sync(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("write failed: %v", err)), nil
	}
	return mcp.NewToolResultText("All captured answers written."), nil
}
