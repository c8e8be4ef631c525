package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendapp/tend/internal/engine"
	"github.com/tendapp/tend/internal/schema"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync pass over all three layers",
	Long: `Run a manual sync pass.

By default all enabled layers run in order: integrity, connections,
coherence. Use the layer flags to run a subset:

  tend sync                # everything
  tend sync --layer1       # integrity only
  tend sync --layer1 --layer2`,
	Run: func(cmd *cobra.Command, args []string) {
		l1, _ := cmd.Flags().GetBool("layer1")
		l2, _ := cmd.Flags().GetBool("layer2")
		l3, _ := cmd.Flags().GetBool("layer3")

		opts := engine.AllLayers(schema.RunManual)
		if l1 || l2 || l3 {
			opts = engine.Options{Layer1: l1, Layer2: l2, Layer3: l3, RunType: schema.RunManual}
		}

		cfg, _, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		ctx := context.Background()
		logger := log.New(os.Stderr, "[tend] ", log.LstdFlags)
		eng, st, err := openEngine(ctx, cfg, logger)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		result, err := eng.RunSync(ctx, opts)
		if err != nil {
			fatalf("sync failed: %v", err)
		}

		printRunResult(result)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <task-id>",
	Short: "Run a one-off coherence judgment on a single task",
	Long: `Ask the reasoning service whether a linked task still serves its goal
chain. Nothing is written to the issue ledger.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		ctx := context.Background()
		logger := log.New(os.Stderr, "[tend] ", log.LstdFlags)
		eng, st, err := openEngine(ctx, cfg, logger)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		j, err := eng.AnalyzeTaskCoherence(ctx, args[0])
		if err != nil {
			fatalf("%v", err)
		}

		aligned := "misaligned"
		if j.IsAligned {
			aligned = "aligned"
		}
		fmt.Printf("Task %s: %s (score %.2f)\n", args[0], aligned, j.AlignmentScore)
		fmt.Printf("  %s\n", j.Reasoning)
		for _, s := range j.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
	},
}

func printRunResult(result *schema.SyncRunResult) {
	fmt.Printf("Sync complete in %v\n", result.Duration.Round(time.Millisecond))

	if result.Layer1.Ran {
		fmt.Printf("  Integrity:   %d found, %d auto-fixed\n",
			result.Layer1.IssuesFound, result.Layer1.IssuesFixed)
	}
	if result.Layer2.Ran {
		mode := "rules"
		if result.Layer2.ReasoningAvailable {
			mode = "reasoning"
		}
		fmt.Printf("  Connections: %d suggestions (%s)\n",
			result.Layer2.SuggestionsGenerated, mode)
	}
	if result.Layer3.Ran {
		if result.Layer3.ReasoningAvailable {
			fmt.Printf("  Coherence:   %d flagged\n", result.Layer3.CoherenceIssues)
		} else {
			fmt.Printf("  Coherence:   skipped (reasoning unavailable)\n")
		}
	}

	fmt.Printf("Unresolved issues: %d (%d new this run)\n",
		result.TotalIssues, result.NewIssues)
}

func init() {
	syncCmd.Flags().Bool("layer1", false, "Run the integrity check")
	syncCmd.Flags().Bool("layer2", false, "Run smart connections")
	syncCmd.Flags().Bool("layer3", false, "Run the coherence audit")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(analyzeCmd)
}
