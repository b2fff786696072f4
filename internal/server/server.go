// Package server wires all components and creates the MCP server instance.
//
// This is the composition root: it opens the storage backends, attaches
// the capture engine and injects it into the tools and resources that
// depend on it. No capture logic lives here, only wiring.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HendryAvila/quizledger/internal/config"
	"github.com/HendryAvila/quizledger/internal/engine"
	"github.com/HendryAvila/quizledger/internal/kv"
	"github.com/HendryAvila/quizledger/internal/messaging"
	"github.com/HendryAvila/quizledger/internal/prompts"
	"github.com/HendryAvila/quizledger/internal/quiztools"
	"github.com/HendryAvila/quizledger/internal/resources"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Local and session storage area names.
const (
	AreaLocal   = "local"
	AreaSession = "session"
)

// App is a fully wired capture process.
type App struct {
	MCP      *server.MCPServer
	Engine   *engine.Engine
	Router   *messaging.Router
	Registry *prometheus.Registry
}

// OpenBackends opens the local and session areas described by cfg. The
// returned close func is always non-nil.
func OpenBackends(cfg config.Config, logger *slog.Logger) (local, session kv.Backend, closeFn func(), err error) {
	local, err = kv.Open(cfg.BackendOptions(cfg.Backend, AreaLocal, logger))
	if err != nil {
		return nil, nil, noop, fmt.Errorf("opening local storage: %w", err)
	}
	session, err = kv.Open(cfg.BackendOptions(cfg.SessionBackend, AreaSession, logger))
	if err != nil {
		_ = local.Close()
		return nil, nil, noop, fmt.Errorf("opening session storage: %w", err)
	}
	closeFn = func() {
		for _, b := range []kv.Backend{session, local} {
			if err := b.Close(); err != nil {
				logger.Warn("storage close", "backend", b.Name(), "err", err)
			}
		}
	}
	return local, session, closeFn, nil
}

// New creates the capture engine and the MCP server with all tools and
// resources registered. Pending captures left by an earlier process are
// replayed before New returns.
//
// The returned cleanup flushes any capture still in the debounce window,
// stops the engine and closes storage. It is always non-nil.
func New(cfg config.Config, logger *slog.Logger) (*App, func(), error) {
	local, session, closeStorage, err := OpenBackends(cfg, logger)
	if err != nil {
		return nil, noop, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng := engine.New(local, session,
		engine.Page{URL: cfg.Page.URL, TestName: cfg.Page.TestName},
		cfg.EngineConfig(),
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(reg)),
	)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			eng.Teardown()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := eng.Sync(ctx); err != nil {
				logger.Warn("final writes failed", "err", err)
			}
			closeStorage()
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if n, err := eng.Recover(ctx); err != nil {
		logger.Warn("pending capture recovery incomplete", "replayed", n, "err", err)
	} else if n > 0 {
		logger.Info("pending captures recovered", "replayed", n)
	}

	router := messaging.NewRouter(eng, cfg.ExtensionID, logger)

	s := server.NewMCPServer(
		"quizledger",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerTools(s, eng, router)

	reviewPrompt := prompts.NewReviewPrompt(eng)
	s.AddPrompt(reviewPrompt.Definition(), reviewPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	resourceHandler := resources.NewHandler(eng)
	s.AddResource(resourceHandler.SessionsResource(), resourceHandler.HandleSessions)
	s.AddResource(resourceHandler.SummaryResource(), resourceHandler.HandleSummary)

	return &App{MCP: s, Engine: eng, Router: router, Registry: reg}, cleanup, nil
}

// noop is the cleanup returned when nothing was opened.
func noop() {}

func registerTools(s *server.MCPServer, eng *engine.Engine, router *messaging.Router) {
	// --- Capture ---
	record := quiztools.NewRecordAnswerTool(eng)
	s.AddTool(record.Definition(), record.Handle)

	flush := quiztools.NewFlushTool(eng)
	s.AddTool(flush.Definition(), flush.Handle)

	// --- Read side ---
	captureAll := quiztools.NewCaptureAllTool(eng)
	s.AddTool(captureAll.Definition(), captureAll.Handle)

	status := quiztools.NewStatusTool(eng)
	s.AddTool(status.Definition(), status.Handle)

	stats := quiztools.NewStatsTool(eng)
	s.AddTool(stats.Definition(), stats.Handle)

	// --- Extension messages ---
	message := quiztools.NewMessageTool(router)
	s.AddTool(message.Definition(), message.Handle)
}

// serverInstructions tells the host how to use quizledger.
func serverInstructions() string {
	return `You have access to quizledger, which records the answers a user reveals on an online quiz page.

## Recording

Call quiz_record_answer each time the page reveals a result for a question.
Send the question number, the question text as shown, the user's answer, the
correct answer and is_correct when the page states it. Omit is_correct when the
page does not say. Re-sending the same question later replaces the earlier record.

Records are written after a short quiet period. Call quiz_flush before reading
if you just recorded something and need it in the results.

## Reading

- quiz_capture_all: every session with its questions, as JSON
- quiz_stats: totals, success rate and storage usage
- quiz_status: whether capture is active and the quiz name
- Resources quiz://sessions and quiz://summary expose the same data read-only.
- Prompt quiz-review walks through the questions answered incorrectly.

When quiz_stats suggests migrating, tell the user to run "quizledger migrate".`
}
