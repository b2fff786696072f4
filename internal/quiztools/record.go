package quiztools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/engine"
	"github.com/mark3labs/mcp-go/mcp"
)

// RecordAnswerTool handles the quiz_record_answer MCP tool.
type RecordAnswerTool struct {
	engine *engine.Engine
	now    func() time.Time
}

// NewRecordAnswerTool creates a RecordAnswerTool.
func NewRecordAnswerTool(e *engine.Engine) *RecordAnswerTool {
	return &RecordAnswerTool{engine: e, now: time.Now}
}

// Definition returns the MCP tool definition for quiz_record_answer.
func (t *RecordAnswerTool) Definition() mcp.Tool {
	return mcp.NewTool("quiz_record_answer",
		mcp.WithDescription(
			"Record one revealed answer on the quiz page. Repeated reports for the same question "+
				"within the debounce window are coalesced; a later report for the same question replaces the earlier one.",
		),
		mcp.WithNumber("question_number",
			mcp.Required(),
			mcp.Description("1-based question number shown on the page"),
		),
		mcp.WithNumber("total_questions",
			mcp.Description("Total questions in the quiz, if shown"),
		),
		mcp.WithString("question_text",
			mcp.Description("Question text as displayed"),
		),
		mcp.WithString("user_answer",
			mcp.Description("Answer the user selected"),
		),
		mcp.WithString("correct_answer",
			mcp.Description("Answer the page marked correct"),
		),
		mcp.WithBoolean("is_correct",
			mcp.Description("Whether the user's answer was correct; omit when the page does not say"),
		),
		mcp.WithBoolean("is_multi_select",
			mcp.Description("Whether the question allows several answers"),
		),
		mcp.WithString("explanation",
			mcp.Description("Explanation text shown after reveal"),
		),
		mcp.WithString("answers",
			mcp.Description("JSON array describing the answer options, stored as given"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Write immediately and wait for the result instead of debouncing (default: false)"),
		),
	)
}

// Handle processes the quiz_record_answer tool call.
func (t *RecordAnswerTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec := capture.QuestionRecord{
		QuestionNumber: intArg(req, "question_number", 0),
		QuestionText:   req.GetString("question_text", ""),
		UserAnswer:     req.GetString("user_answer", ""),
		CorrectAnswer:  req.GetString("correct_answer", ""),
		IsCorrect:      optBoolArg(req, "is_correct"),
		IsMultiSelect:  boolArg(req, "is_multi_select", false),
		Explanation:    req.GetString("explanation", ""),
		Timestamp:      t.now(),
	}
	if total := intArg(req, "total_questions", 0); total != 0 {
		rec.TotalQuestions = &total
	}
	if raw := req.GetString("answers", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Answers); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'answers' must be a JSON array: %v", err)), nil
		}
	}

	if err := t.engine.Capture(rec); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("answer not recorded: %v", err)), nil
	}
	if !boolArg(req, "wait", false) {
		return mcp.NewToolResultText(fmt.Sprintf("Question %d queued (%s).",
			rec.QuestionNumber, capture.VerdictString(rec.IsCorrect))), nil
	}
	if err := t.engine.Sync(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("answer not saved: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Question %d saved (%s).",
		rec.QuestionNumber, capture.VerdictString(rec.IsCorrect))), nil
}
