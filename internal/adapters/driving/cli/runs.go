package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded retrieval runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE:  runRunsList,
}

var runsReplayCmd = &cobra.Command{
	Use:   "replay [run-id]",
	Short: "Replay a recorded run",
	Long: `Prints a previously recorded run exactly as persisted. Replay never
touches the live indexes, so the output is stable no matter how the corpus
changed since the run was recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsReplay,
}

var (
	runsListLimit  int
	runsReplayJSON bool
)

func init() {
	runsListCmd.Flags().IntVarP(&runsListLimit, "limit", "n", 20, "maximum runs to list")
	runsReplayCmd.Flags().BoolVar(&runsReplayJSON, "json", false, "output the run as JSON")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsReplayCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	if retrievalService == nil {
		return errors.New("retrieval service not configured")
	}

	runs, err := retrievalService.ListRuns(context.Background(), runsListLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if len(runs) == 0 {
		cmd.Println("No runs recorded.")
		return nil
	}

	for _, r := range runs {
		cmd.Printf("  %s  %s  top=%d  %q\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.TopN, r.Query)
	}
	return nil
}

func runRunsReplay(cmd *cobra.Command, args []string) error {
	if retrievalService == nil {
		return errors.New("retrieval service not configured")
	}

	run, err := retrievalService.Replay(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	if runsReplayJSON {
		return outputRunJSON(cmd, run)
	}
	return outputRunTable(cmd, run)
}
