package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sevigo/reviewcore/internal/github"
	"github.com/sevigo/reviewcore/internal/gitutil"
	"github.com/sevigo/reviewcore/internal/model"
	"github.com/sevigo/reviewcore/internal/pipeline"
	"github.com/sevigo/reviewcore/internal/wire"
)

var (
	verbose bool
	publish bool
)

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	dimColor     = color.New(color.FgHiBlack)
)

var reviewCmd = &cobra.Command{
	Use:   "review [pr-url]",
	Short: "Run a knowledge-graph-assisted review for a GitHub Pull Request",
	Long: `Run a knowledge-graph-assisted review for a GitHub Pull Request.

The review command fetches the PR diff, assembles bounded context from the
code knowledge graph and a local clone, and drives an LLM to produce
structured, diff-anchored findings.

By default the review is a dry run: findings are printed and persisted but
nothing is posted to GitHub. Pass --publish to submit the review.

Examples:
  reviewcore review https://github.com/owner/repo/pull/123
  reviewcore review --publish https://github.com/owner/repo/pull/123`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	reviewCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	reviewCmd.Flags().BoolVar(&publish, "publish", false, "Submit the review to GitHub instead of a dry run")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	owner, repo, prNumber, err := gitutil.ParsePullRequestURL(args[0])
	if err != nil {
		return err
	}

	application, cleanup, err := wire.InitializeApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize app services: %w", err)
	}
	defer cleanup()

	if err := application.Cfg.ValidateForCLI(); err != nil {
		return err
	}
	application.Cfg.Pipeline.DryRun = !publish

	gh := github.NewPATClient(ctx, application.Cfg.GitHub.Token, dimLogger())

	titleColor.Printf("Fetching %s/%s#%d...\n", owner, repo, prNumber)
	pr, err := gh.GetPullRequest(ctx, owner, repo, prNumber)
	if err != nil {
		return fmt.Errorf("failed to fetch pull request: %w", err)
	}

	req, err := model.NewPRReviewRequest(
		1, // CLI runs have no installation; the id only has to be positive
		internalRepoIDForCLI(owner, repo),
		pr.GetBase().GetRepo().GetID(),
		owner,
		repo,
		prNumber,
		pr.GetHead().GetSHA(),
		pr.GetBase().GetSHA(),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := application.Runner.Run(ctx, req, gh, pr.GetBase().GetRepo().GetCloneURL(), application.Cfg.GitHub.Token)
	if err != nil {
		errorColor.Printf("review failed: %v\n", err)
		return err
	}

	printResult(result, time.Since(start))

	if in, out, cost := application.Costs.Totals(); verbose && (in > 0 || out > 0) {
		dimColor.Printf("tokens: %d in / %d out, estimated cost $%.4f\n", in, out, cost)
	}
	return nil
}

func printResult(result *pipeline.Result, elapsed time.Duration) {
	fmt.Println()
	titleColor.Println("Review complete")
	dimColor.Printf("run %s in %s\n\n", result.RunID, elapsed.Round(time.Millisecond))

	if result.ShortCircuit {
		warnColor.Println("Nothing to review: head equals base.")
		return
	}

	fmt.Println(result.Summary)
	fmt.Println()
	successColor.Printf("%d findings (%d anchored, %d summary-only)\n", len(result.Findings), result.Anchored, result.Unanchored)
	for _, f := range result.Findings {
		fmt.Printf("  [%s/%s] %s — %s", f.Severity, f.Category, f.FilePath, f.Title)
		if f.Anchored {
			dimColor.Printf("  (%s)", f.AnchoringMethod)
		}
		fmt.Println()
	}
	if len(result.Warnings) > 0 {
		warnColor.Printf("warnings: %v\n", result.Warnings)
	}
	if result.Published {
		successColor.Println("Review published to GitHub.")
	} else {
		dimColor.Println("Dry run: nothing was posted to GitHub.")
	}
}
