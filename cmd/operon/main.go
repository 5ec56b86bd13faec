// Package main provides the CLI entry point for operon, an agent runtime
// that drives a tool-using LLM loop against a recordable/replayable plan
// scheduler.
//
// # Basic Usage
//
// Generate a starter config:
//
//	operon init
//
// Run a plan of tool-call steps:
//
//	operon run-plan --file plan.json
//
// Start an interactive chat session with an agent:
//
//	operon chat --agent writer
//
// Start the ambient HTTP front end:
//
//	operon serve --host 0.0.0.0 --port 8080
//
// # Environment Variables
//
//   - OPERON_TIMEOUT, OPERON_MAX_PARALLEL, OPERON_DRY_RUN, OPERON_LOG_LEVEL:
//     override the matching config.Config fields after the config file loads.
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY: fill in a provider's
//     api_key when the config file leaves it blank.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
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
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "operon",
		Short: "operon - a tool-using agent runtime",
		Long: `operon drives an LLM through a tool-use loop against a recordable,
replayable plan scheduler, with a tool-policy pipeline gating every call.

Providers: Anthropic, OpenAI, Google, Ollama, AWS Bedrock, with failover
across a configured fallback chain.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildInitCmd(),
		buildRunPlanCmd(),
		buildChatCmd(),
		buildPluginCmd(),
		buildServeCmd(),
	)

	return rootCmd
}
