// Package main provides the CLI entry point for VTCode.
//
// VTCode runs a coding agent against a local terminal session: an
// LLM provider drives tool calls against the local filesystem, shell,
// and sandboxed execution backends, with checkpointed sessions so a
// run can be resumed.
//
// # Basic Usage
//
// Start an interactive session:
//
//	vtcode --config vtcode.yaml
//
// Run a single task and exit:
//
//	vtcode exec "list the files changed in the last commit"
//
// Validate configuration:
//
//	vtcode doctor
//
// # Environment Variables
//
//   - VTCODE_CONFIG: Path to configuration file (default: vtcode.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY: provider credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeForError(err))
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Running vtcode with no subcommand opens an interactive session; this
// is implemented as the root command's own RunE rather than a separate
// "session" subcommand, matching the CLI's documented default behavior.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "vtcode",
		Short: "VTCode - a terminal coding agent",
		Long: `VTCode runs an LLM-driven coding agent against your local workspace.

With no arguments it opens an interactive session. Use "vtcode exec" to
run a single task and exit, or "vtcode doctor" to validate configuration.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractiveSession(cmd, configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildExecCmd(&configPath),
		buildDoctorCmd(&configPath),
	)

	return rootCmd
}

func defaultConfigPath() string {
	if path := os.Getenv("VTCODE_CONFIG"); path != "" {
		return path
	}
	return "vtcode.yaml"
}
