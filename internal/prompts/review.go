// Package prompts implements MCP prompt handlers for quiz review.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/engine"
	"github.com/mark3labs/mcp-go/mcp"
)

// ReviewPrompt handles the quiz-review MCP prompt.
// It gathers the incorrect answers of a session and asks the AI to
// explain each mistake.
type ReviewPrompt struct {
	engine *engine.Engine
}

// NewReviewPrompt creates a ReviewPrompt.
func NewReviewPrompt(e *engine.Engine) *ReviewPrompt {
	return &ReviewPrompt{engine: e}
}

// Definition returns the MCP prompt definition for registration.
func (p *ReviewPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("quiz-review",
		mcp.WithPromptDescription(
			"Review the questions you got wrong in a quiz session and get an explanation for each.",
		),
		mcp.WithArgument("session_id",
			mcp.ArgumentDescription("Session to review. Default: the most recently updated session"),
		),
	)
}

// Handle processes the quiz-review prompt request.
func (p *ReviewPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	sessions, err := p.engine.GetAllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sessions: %w", err)
	}
	sessionID := ""
	if args := req.Params.Arguments; args != nil {
		sessionID = args["session_id"]
	}
	s, ok := pickSession(sessions, sessionID)
	if !ok {
		if sessionID != "" {
			return nil, fmt.Errorf("session %q not found", sessionID)
		}
		return textPrompt("Quiz review", "I have no recorded quiz sessions yet. Tell me how to start capturing answers."), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("I took the quiz %q and got %d of %d questions right.\n\n",
		s.TestName, s.StatsCache.Correct, s.StatsCache.Total))

	wrong := 0
	for _, q := range s.Questions {
		if q.IsCorrect == nil || *q.IsCorrect {
			continue
		}
		wrong++
		sb.WriteString(fmt.Sprintf("### Question %d\n%s\n\n", q.QuestionNumber, q.QuestionText))
		sb.WriteString(fmt.Sprintf("- My answer: %s\n", orDash(q.UserAnswer)))
		sb.WriteString(fmt.Sprintf("- Correct answer: %s\n", orDash(q.CorrectAnswer)))
		if q.Explanation != "" {
			sb.WriteString(fmt.Sprintf("- Explanation shown: %s\n", q.Explanation))
		}
		sb.WriteString("\n")
	}
	if wrong == 0 {
		sb.WriteString("There are no incorrect answers recorded. Suggest what I should study next.")
	} else {
		sb.WriteString("For each question above, explain why my answer was wrong and how to recognize the correct one next time. " +
			"Finish with the topics I should revisit.")
	}

	return textPrompt(fmt.Sprintf("Quiz review: %s", s.TestName), sb.String()), nil
}

// pickSession returns the session with id, or the most recently updated
// one when id is empty.
func pickSession(sessions []capture.SessionRecord, id string) (capture.SessionRecord, bool) {
	var best capture.SessionRecord
	found := false
	for _, s := range sessions {
		if id != "" {
			if s.ID == id {
				return s, true
			}
			continue
		}
		if !found || lastActivity(s).After(lastActivity(best)) {
			best, found = s, true
		}
	}
	return best, found
}

func lastActivity(s capture.SessionRecord) time.Time {
	if s.LastUpdated.IsZero() {
		return s.StartTime
	}
	return s.LastUpdated
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func textPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(text),
			},
		},
	}
}
