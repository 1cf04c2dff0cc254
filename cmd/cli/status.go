package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sevigo/reviewcore/internal/wire"
)

var (
	outputJSON  bool
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows recent review runs",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		application, cleanup, err := wire.InitializeApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize app services: %w", err)
		}
		defer cleanup()

		runs, err := application.Store.ListRecentRuns(ctx, statusLimit)
		if err != nil {
			return fmt.Errorf("failed to retrieve review runs: %w", err)
		}

		if outputJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(runs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tREPO\tPR\tSTATUS\tPUBLISHED\tSTARTED\tMODEL")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t#%d\t%s\t%t\t%s\t%s\n",
				run.ID[:8],
				run.RepoFullName,
				run.PRNumber,
				run.Status,
				run.Published,
				run.StartedAt.Format(time.RFC3339),
				run.LLMModel,
			)
		}
		return w.Flush()
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Number of runs to show")
	rootCmd.AddCommand(statusCmd)
}
