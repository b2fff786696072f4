package quiztools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HendryAvila/quizledger/internal/messaging"
	"github.com/mark3labs/mcp-go/mcp"
)

// MessageTool handles the quiz_message MCP tool: it delivers a raw
// extension message to the router and returns the reply.
type MessageTool struct {
	router  *messaging.Router
	timeout time.Duration
}

// NewMessageTool creates a MessageTool.
func NewMessageTool(r *messaging.Router) *MessageTool {
	return &MessageTool{router: r, timeout: 10 * time.Second}
}

// Definition returns the MCP tool definition for quiz_message.
func (t *MessageTool) Definition() mcp.Tool {
	return mcp.NewTool("quiz_message",
		mcp.WithDescription(
			"Deliver an extension message such as {\"action\":\"captureAll\"} or {\"action\":\"getStatus\"} "+
				"and return the reply. Messages from any sender other than the configured extension are ignored.",
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message JSON object with an 'action' field"),
		),
		mcp.WithString("sender_id",
			mcp.Required(),
			mcp.Description("Extension ID of the sender"),
		),
	)
}

// Handle processes the quiz_message tool call.
func (t *MessageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg := req.GetString("message", "")
	if msg == "" {
		return mcp.NewToolResultError("'message' is required"), nil
	}
	sender := messaging.Sender{ID: req.GetString("sender_id", "")}

	replies := make(chan any, 1)
	reply := func(v any) { replies <- v }
	async := t.router.Dispatch(ctx, json.RawMessage(msg), sender, reply)

	select {
	case v := <-replies:
		return jsonResult(v)
	default:
	}
	if !async {
		return mcp.NewToolResultText("No reply."), nil
	}
	select {
	case v := <-replies:
		return jsonResult(v)
	case <-time.After(t.timeout):
		return mcp.NewToolResultError("timed out waiting for reply"), nil
	case <-ctx.Done():
		return mcp.NewToolResultError(fmt.Sprintf("cancelled: %v", ctx.Err())), nil
	}
}
