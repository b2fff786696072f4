package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/quizledger/internal/capture"
	"github.com/HendryAvila/quizledger/internal/config"
	"github.com/HendryAvila/quizledger/internal/engine"
	"github.com/HendryAvila/quizledger/internal/kv"
	"github.com/HendryAvila/quizledger/internal/quiztools"
	qlserver "github.com/HendryAvila/quizledger/internal/server"
)

var (
	metricsAddr string
	migrateTo   string
	migrateDir  string
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		RunE:  runServe,
	}
	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Print every stored session as JSON",
		RunE:  runSessions,
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print totals, success rate and storage usage",
		RunE:  runStats,
	}
	recoverCmd = &cobra.Command{
		Use:   "recover",
		Short: "Replay captures left in the pending-write log by an interrupted process",
		RunE:  runRecover,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Copy stored sessions to another storage backend",
		RunE:  runMigrate,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quizledger v%s\n", qlserver.Version)
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	migrateCmd.Flags().StringVar(&migrateTo, "to", kv.KindBadger, "destination backend kind")
	migrateCmd.Flags().StringVar(&migrateDir, "to-dir", "", "destination data directory (default: same data directory)")

	rootCmd.AddCommand(serveCmd, sessionsCmd, statsCmd, recoverCmd, migrateCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	app, cleanup, err := qlserver.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux(app),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "err", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	// Page unload: persist what is still in the debounce window.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			logger.Info("shutting down")
			cleanup()
			os.Exit(0)
		}
	}()

	return server.ServeStdio(app.MCP)
}

func metricsMux(app *qlserver.App) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
	return mux
}

// withEngine opens storage and an engine for a one-shot command.
func withEngine(fn func(ctx context.Context, e *engine.Engine, cfg config.Config, logger *slog.Logger) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	local, session, closeStorage, err := qlserver.OpenBackends(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	e := engine.New(local, session,
		engine.Page{URL: cfg.Page.URL, TestName: cfg.Page.TestName},
		cfg.EngineConfig(), engine.WithLogger(logger))
	defer e.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return fn(ctx, e, cfg, logger)
}

func runSessions(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, e *engine.Engine, _ config.Config, _ *slog.Logger) error {
		sessions, err := e.GetAllSessions(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Sessions []capture.SessionRecord `json:"sessions"`
		}{sessions})
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, e *engine.Engine, _ config.Config, _ *slog.Logger) error {
		st, err := e.StorageStats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), quiztools.FormatStats(st))
		return nil
	})
}

func runRecover(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, e *engine.Engine, _ config.Config, _ *slog.Logger) error {
		n, err := e.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recovered %d before failing: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d pending capture(s).\n", n)
		return nil
	})
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if migrateTo == cfg.Backend && (migrateDir == "" || migrateDir == cfg.DataDir) {
		return fmt.Errorf("destination is the current backend (%s)", cfg.Backend)
	}
	src, err := kv.Open(cfg.BackendOptions(cfg.Backend, qlserver.AreaLocal, logger))
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	dstCfg := cfg
	if migrateDir != "" {
		dstCfg.DataDir = migrateDir
	}
	dst, err := kv.Open(dstCfg.BackendOptions(migrateTo, qlserver.AreaLocal, logger))
	if err != nil {
		return fmt.Errorf("opening destination: %w", err)
	}
	defer dst.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := kv.Copy(ctx, src, dst, engine.SessionsKey)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to migrate.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Copied sessions from %s to %s. Set backend: %s to use it.\n",
		src.Name(), dst.Name(), migrateTo)
	return nil
}
