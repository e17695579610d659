// Package main provides the recallbench CLI, which measures how well
// different answer strategies recall facts from a long conversation.
//
// # Basic Usage
//
// Compare every strategy over a question set:
//
//	recallbench run --config bench.yaml --transcript chat.txt --questions questions.csv
//
// Evaluate a single strategy:
//
//	recallbench evaluate --strategy delegated --questions questions.csv
//
// Re-grade a stored report without calling any service:
//
//	recallbench rescore results/report.json
//
// # Environment Variables
//
//   - RECALLBENCH_CONFIG: Path to configuration file
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY: model credentials
//   - AWS_REGION, AWS_PROFILE: Bedrock and S3 credentials
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/recallbench/internal/eval"
)

// Build information, populated by ldflags.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitInterrupted is the conventional status for a run stopped by SIGINT.
const exitInterrupted = 130

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command execution failed", "error", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, eval.ErrInterrupted) {
		return exitInterrupted
	}
	return 1
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "recallbench",
		Short: "Compare conversational memory strategies on a question set",
		Long: `recallbench asks every question of a question set through several answer
strategies (full context, retrieval over chunks, and a delegated graph-backed
service), grades each answer against its ground truth, and writes a
comparison report.

Interrupted runs resume from the last checkpoint.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", os.Getenv("RECALLBENCH_CONFIG"), "Path to YAML or JSON5 configuration file")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format override (json, text, auto)")

	rootCmd.AddCommand(
		buildRunCmd(g),
		buildEvaluateCmd(g),
		buildRescoreCmd(g),
		buildRetrieveCmd(g),
		buildScoreCmd(g),
		buildConfigCmd(g),
		buildVersionCmd(),
	)
	return rootCmd
}
