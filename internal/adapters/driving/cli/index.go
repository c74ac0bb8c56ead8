package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain the derived indexes",
	Long: `Both indexes are derived state: the lexical index rebuilds from the
chunk table, the vector index from the chunk table plus the embedding
provider.`,
}

var indexRebuildLexicalCmd = &cobra.Command{
	Use:   "rebuild-lexical",
	Short: "Rebuild the keyword index from the chunk table",
	RunE:  runIndexRebuildLexical,
}

var indexRebuildVectorCmd = &cobra.Command{
	Use:   "rebuild-vector",
	Short: "Re-embed and reload every embedded chunk",
	RunE:  runIndexRebuildVector,
}

func init() {
	indexCmd.AddCommand(indexRebuildLexicalCmd)
	indexCmd.AddCommand(indexRebuildVectorCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexRebuildLexical(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	if err := documentService.RebuildLexicalIndex(context.Background()); err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	cmd.Println("Lexical index rebuilt")
	return nil
}

func runIndexRebuildVector(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	count, err := documentService.RebuildVectorIndex(context.Background())
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	cmd.Printf("Vector index rebuilt with %d chunks\n", count)
	return nil
}
