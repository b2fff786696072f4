// quizledger: quiz answer capture engine exposed over MCP.
//
// Usage:
//
//	quizledger serve      # Start MCP server (stdio transport)
//	quizledger sessions   # Print stored sessions as JSON
//	quizledger stats      # Print totals and storage usage
//	quizledger recover    # Replay captures left in the pending-write log
//	quizledger migrate    # Copy sessions to another storage backend
//	quizledger version
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/quizledger/internal/config"
)

var (
	configPath  string
	dataDir     string
	backendKind string

	rootCmd = &cobra.Command{
		Use:           "quizledger",
		Short:         "Capture and deduplicate quiz answers into local storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory, overrides config")
	rootCmd.PersistentFlags().StringVar(&backendKind, "backend", "", "local storage backend: sqlite, badger, file, memory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file, applies flag overrides and builds
// the stderr logger. stdout is reserved for command output and MCP.
func loadConfig() (config.Config, *slog.Logger, error) {
	path := configPath
	if path == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if backendKind != "" {
		cfg.Backend = backendKind
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	return cfg, cfg.NewLogger(os.Stderr), nil
}

func defaultConfigPath() string {
	dir := dataDir
	if dir == "" {
		dir = config.Default().DataDir
	}
	return filepath.Join(dir, "config.yaml")
}
