// Package resources implements MCP resource handlers for captured quiz data.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (quiz://...) following MCP conventions.
package resources

import (
	"context"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/engine"
	"github.com/mark3labs/mcp-go/mcp"
)

// Resource URIs.
const (
	SessionsURI = "quiz://sessions"
	SummaryURI  = "quiz://summary"
)

// Handler serves quiz resources from an engine.
type Handler struct {
	engine *engine.Engine
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

// SessionsResource returns the MCP resource definition for all sessions.
func (h *Handler) SessionsResource() mcp.Resource {
	return mcp.NewResource(
		SessionsURI,
		"Quiz Sessions",
		mcp.WithResourceDescription("Every stored quiz session with its questions and running totals"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleSessions returns the stored sessions as JSON.
func (h *Handler) HandleSessions(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sessions, err := h.engine.GetAllSessions(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, struct {
		Sessions []capture.SessionRecord `json:"sessions"`
	}{sessions})
}

// SummaryResource returns the MCP resource definition for aggregate stats.
func (h *Handler) SummaryResource() mcp.Resource {
	return mcp.NewResource(
		SummaryURI,
		"Quiz Summary",
		mcp.WithResourceDescription("Totals across all sessions: questions, correct, incorrect, unknown and success rate"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleSummary returns the aggregate summary as JSON.
func (h *Handler) HandleSummary(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sessions, err := h.engine.GetAllSessions(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, capture.Summarize(sessions))
}
