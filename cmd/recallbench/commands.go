package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/recallbench/internal/strategy"
)

// runFlags override the matching configuration fields when set.
type runFlags struct {
	transcript      string
	questions       string
	output          string
	publish         string
	strategies      []string
	concurrency     int
	checkpointEvery int
	checkpointKey   string
	metricsAddr     string
	limit           int
	fresh           bool
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVarP(&f.transcript, "transcript", "t", "", "Conversation transcript (text or JSON)")
	cmd.Flags().StringVarP(&f.questions, "questions", "q", "", "Question set (CSV, TSV, Q/A text or YAML)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Directory for report.json, report.md and results.csv")
	cmd.Flags().StringVar(&f.publish, "publish", "", "Also upload artifacts to s3://bucket/prefix")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Pairs evaluated at once")
	cmd.Flags().IntVar(&f.checkpointEvery, "checkpoint-every", -1, "Save a checkpoint after this many completed questions (0 disables)")
	cmd.Flags().StringVar(&f.checkpointKey, "checkpoint-key", "", "Name of the checkpoint to resume and update")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Only ask the first N questions")
	cmd.Flags().BoolVar(&f.fresh, "fresh", false, "Ignore any stored checkpoint and start a new run")
}

// buildRunCmd creates the "run" command, which compares strategies.
func buildRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compare answer strategies over a question set",
		Example: `  recallbench run --transcript chat.txt --questions questions.csv
  recallbench run -c bench.yaml --strategies full_context,retrieval --concurrency 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, g, f)
		},
	}
	addRunFlags(cmd, f)
	cmd.Flags().StringSliceVar(&f.strategies, "strategies", nil, fmt.Sprintf("Strategies to compare, in order (default from config; known: %v)", strategy.Names()))
	return cmd
}

// buildEvaluateCmd creates the "evaluate" command, which runs one strategy.
func buildEvaluateCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	var name string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a single answer strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.strategies = []string{name}
			return runCompare(cmd, g, f)
		},
	}
	addRunFlags(cmd, f)
	cmd.Flags().StringVarP(&name, "strategy", "s", "", fmt.Sprintf("Strategy to evaluate (%v)", strategy.Names()))
	cobra.CheckErr(cmd.MarkFlagRequired("strategy"))
	return cmd
}

func buildRescoreCmd(g *globalFlags) *cobra.Command {
	var (
		transcriptPath string
		output         string
		publish        string
	)
	cmd := &cobra.Command{
		Use:   "rescore <report.json>",
		Short: "Re-grade a stored report and analyse the misses",
		Long: `Re-grade every answer of an existing report with the enhanced evaluator,
reclassify semantic near-misses, and attach a gap analysis to the remaining
misses. No strategy is called.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRescore(cmd, g, args[0], transcriptPath, output, publish)
		},
	}
	cmd.Flags().StringVarP(&transcriptPath, "transcript", "t", "", "Transcript used as gap evidence (default: the report's transcript)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory for the rescored artifacts (default: the config output_dir)")
	cmd.Flags().StringVar(&publish, "publish", "", "Also upload artifacts to s3://bucket/prefix")
	return cmd
}

func buildRetrieveCmd(g *globalFlags) *cobra.Command {
	var (
		transcriptPath string
		query          string
		topK           int
		chunkSize      int
		chunkOverlap   int
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Show the chunks the retrieval strategy would use for a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetrieve(cmd, g, transcriptPath, query, topK, chunkSize, chunkOverlap, asJSON)
		},
	}
	cmd.Flags().StringVarP(&transcriptPath, "transcript", "t", "", "Conversation transcript (default from config)")
	cmd.Flags().StringVar(&query, "query", "", "Question to retrieve for")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Chunks to return (default from config; negative ranks all)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Utterances per chunk (default from config)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", -1, "Utterances shared by neighbouring chunks (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	cobra.CheckErr(cmd.MarkFlagRequired("query"))
	return cmd
}

func buildScoreCmd(g *globalFlags) *cobra.Command {
	var (
		truth    string
		answer   string
		enhanced bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Grade one answer against its ground truth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, g, truth, answer, enhanced)
		},
	}
	cmd.Flags().StringVar(&truth, "truth", "", "Ground truth answer")
	cmd.Flags().StringVar(&answer, "answer", "", "Answer to grade")
	cmd.Flags().BoolVar(&enhanced, "enhanced", false, "Also run the semantic reclassification pass")
	cobra.CheckErr(cmd.MarkFlagRequired("truth"))
	cobra.CheckErr(cmd.MarkFlagRequired("answer"))
	return cmd
}

func buildConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON Schema of the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd, g)
			},
		},
	)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "recallbench %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
