package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/tendapp/tend/internal/schema"
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Inspect and resolve sync issues",
}

var issuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved issues",
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

		issues := eng.Issues()
		if len(issues) == 0 {
			fmt.Println("No unresolved issues")
			return
		}

		for _, issue := range issues {
			fmt.Printf("%-10s %-16s %s\n", issue.Severity, issue.Type, issue.ID)
			fmt.Printf("           %s\n", issue.Description)
			if issue.Suggestion != "" {
				fmt.Printf("           suggestion: %s (confidence %.2f)\n", issue.Suggestion, issue.Confidence)
			}
		}
		fmt.Printf("\n%d unresolved issue(s)\n", len(issues))
	},
}

var issuesResolveCmd = &cobra.Command{
	Use:   "resolve <issue-id>",
	Short: "Resolve an issue",
	Long: `Resolve an issue by applying one of:

  --as linked    link the entity to the suggested goal (or --goal)
  --as unlinked  clear the entity's goal link
  --as deleted   delete the entity
  --as ignored   dismiss without touching the entity`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		as, _ := cmd.Flags().GetString("as")
		goalID, _ := cmd.Flags().GetString("goal")

		resolution := schema.Resolution(as)
		if !resolution.Valid() {
			fatalf("invalid resolution %q (linked, unlinked, deleted, ignored)", as)
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

		if err := eng.ResolveIssue(ctx, args[0], resolution, goalID); err != nil {
			fatalf("failed to resolve issue: %v", err)
		}
		fmt.Printf("Issue %s resolved as %s\n", args[0], resolution)
	},
}

var issuesDismissCmd = &cobra.Command{
	Use:   "dismiss <issue-id>",
	Short: "Dismiss an issue without changing anything",
	Args:  cobra.ExactArgs(1),
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

		if err := eng.DismissIssue(ctx, args[0]); err != nil {
			fatalf("failed to dismiss issue: %v", err)
		}
		fmt.Printf("Issue %s dismissed\n", args[0])
	},
}

func init() {
	issuesResolveCmd.Flags().String("as", "ignored", "Resolution to apply (linked, unlinked, deleted, ignored)")
	issuesResolveCmd.Flags().String("goal", "", "Goal ID to link to (overrides the suggestion)")

	issuesCmd.AddCommand(issuesListCmd)
	issuesCmd.AddCommand(issuesResolveCmd)
	issuesCmd.AddCommand(issuesDismissCmd)
	rootCmd.AddCommand(issuesCmd)
}
