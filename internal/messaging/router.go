// Package messaging answers requests from the extension's other
// surfaces (popup, side panel) about the engine's captured data.
package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/engine"
)

// Actions understood by the router.
const (
	ActionCaptureAll = "captureAll"
	ActionGetStatus  = "getStatus"
)

// Request is an inbound message.
type Request struct {
	Action string `json:"action"`
}

// Sender identifies who sent a message.
type Sender struct {
	ID  string
	URL string
}

// SessionsResponse answers captureAll.
type SessionsResponse struct {
	Sessions []capture.SessionRecord `json:"sessions"`
	Error    string                  `json:"error,omitempty"`
}

// Reply delivers a response to the sender. It is called at most once.
type Reply func(v any)

// Source is the engine surface the router reads from.
type Source interface {
	GetAllSessions(ctx context.Context) ([]capture.SessionRecord, error)
	Status() engine.Status
	Invalidated() bool
	Cleanup()
}

// Router dispatches requests to a Source.
type Router struct {
	src         Source
	extensionID string
	logger      *slog.Logger
}

// NewRouter creates a router that only answers messages from extensionID.
func NewRouter(src Source, extensionID string, logger *slog.Logger) *Router {
	return &Router{src: src, extensionID: extensionID, logger: logger}
}

// Dispatch handles one message. It reports true when reply will be called
// later from another goroutine, false when it was called already or will
// never be. Messages from foreign senders and unknown actions get no reply.
func (r *Router) Dispatch(ctx context.Context, raw json.RawMessage, sender Sender, reply Reply) bool {
	if r.src.Invalidated() {
		r.src.Cleanup()
		return false
	}
	if sender.ID == "" || sender.ID != r.extensionID {
		r.logger.Debug("message from foreign sender ignored", "sender", sender.ID)
		return false
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		r.logger.Debug("malformed message ignored", "err", err)
		return false
	}

	switch req.Action {
	case ActionCaptureAll:
		go func() {
			sessions, err := r.src.GetAllSessions(ctx)
			if err != nil {
				r.logger.Warn("captureAll failed", "err", err)
				reply(SessionsResponse{Sessions: []capture.SessionRecord{}, Error: err.Error()})
				return
			}
			reply(SessionsResponse{Sessions: sessions})
		}()
		return true
	case ActionGetStatus:
		reply(r.src.Status())
		return false
	default:
		return false
	}
}
