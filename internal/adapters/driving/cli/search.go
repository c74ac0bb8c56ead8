package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lexcore/internal/core/domain"
)

var (
	searchTopN    int
	searchJSON    bool
	searchNoFTS   bool
	searchNoVec   bool
	searchDocID   string
	searchMIME    string
	searchFrom    string
	searchTo      string
	searchTimeout time.Duration
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a hybrid retrieval query",
	Long: `Runs a hybrid query over the ingested corpus. Keyword (BM25) and
semantic (vector) scores are fused into one ranking, and every invocation
is recorded as an immutable run that "lexcore runs replay" reproduces
exactly. Double-quoted phrases in the query are cited as whole phrases.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopN, "top", "n", 10, "number of ranked hits")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output the run as JSON")
	searchCmd.Flags().BoolVar(&searchNoFTS, "no-fts", false, "disable the keyword signal")
	searchCmd.Flags().BoolVar(&searchNoVec, "no-vector", false, "disable the semantic signal")
	searchCmd.Flags().StringVar(&searchDocID, "document", "", "restrict to one document ID")
	searchCmd.Flags().StringVar(&searchMIME, "mime", "", "restrict to one media type")
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "earliest ingest date (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchTo, "to", "", "latest ingest date (YYYY-MM-DD)")
	searchCmd.Flags().DurationVar(&searchTimeout, "timeout", 30*time.Second, "retrieval deadline")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if retrievalService == nil {
		return errors.New("retrieval service not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	opts := domain.RetrievalOptions{
		TopN: searchTopN,
		Filters: domain.RetrievalFilter{
			DocumentID: searchDocID,
			MIME:       searchMIME,
			DateFrom:   searchFrom,
			DateTo:     searchTo,
		},
		UseFTS:    !searchNoFTS,
		UseVector: !searchNoVec,
	}

	run, err := retrievalService.Retrieve(ctx, args[0], opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputRunJSON(cmd, run)
	}
	return outputRunTable(cmd, run)
}

func outputRunJSON(cmd *cobra.Command, run *domain.RetrievalRun) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputRunTable(cmd *cobra.Command, run *domain.RetrievalRun) error {
	cmd.Printf("Run %s (%s)\n", run.ID, run.AlgoVersion)
	if v, ok := run.Meta[domain.MetaDegraded]; ok {
		cmd.Printf("Degraded: %s\n", v)
	}
	if len(run.Hits) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	cmd.Println()

	for i := range run.Hits {
		h := &run.Hits[i]
		cmd.Printf("  [%d] %s (%.4f)\n", h.Rank+1, h.ChunkID, h.Score)
		signals := ""
		if h.FTSScore != nil {
			signals += fmt.Sprintf("bm25=%.3f", *h.FTSScore)
		}
		if h.VectorDistance != nil {
			if signals != "" {
				signals += ", "
			}
			signals += fmt.Sprintf("dist=%.3f", *h.VectorDistance)
		}
		if signals != "" {
			cmd.Printf("      Signals: %s\n", signals)
		}
		for _, c := range h.Citations {
			cmd.Printf("      %q\n", c.Quote)
		}
		cmd.Println()
	}
	return nil
}
