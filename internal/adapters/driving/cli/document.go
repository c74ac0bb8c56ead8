package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lexcore/internal/chunker"
	"github.com/custodia-labs/lexcore/internal/core/domain"
)

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Manage ingested documents",
	Long:  `Ingest, list, view, rechunk or delete documents.`,
}

var documentIngestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document",
	Long: `Reads a file (or stdin when the argument is "-"), normalizes and chunks
its text, and indexes the chunks for keyword search. Chunks are queued for
embedding; run "lexcore document embed" to make them vector-searchable.`,
	Args: cobra.ExactArgs(1),
	RunE: runDocumentIngest,
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	RunE:  runDocumentList,
}

var documentGetCmd = &cobra.Command{
	Use:   "get [doc-id]",
	Short: "Show document info",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentGet,
}

var documentDeleteCmd = &cobra.Command{
	Use:   "delete [doc-id]",
	Short: "Delete a document and its chunks",
	Long: `Removes a document, its chunks and their index entries. Recorded
retrieval runs that reference the chunks are kept unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runDocumentDelete,
}

var documentRechunkCmd = &cobra.Command{
	Use:   "rechunk [doc-id]",
	Short: "Re-run chunking for a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentRechunk,
}

var documentEmbedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed queued chunks",
	Long:  `Drains the pending embedding queue, making the embedded chunks eligible for vector search.`,
	RunE:  runDocumentEmbed,
}

// Ingest flags.
var (
	ingestID        string
	ingestTitle     string
	ingestMIME      string
	ingestSourceURL string
)

// Chunk sizing flags shared by ingest and rechunk.
var (
	chunkTarget  int
	chunkMin     int
	chunkMax     int
	chunkOverlap int
)

// embedLimit is a flag for the embed command.
var embedLimit int

func init() {
	documentIngestCmd.Flags().StringVar(&ingestID, "id", "", "document ID (defaults to the file name)")
	documentIngestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")
	documentIngestCmd.Flags().StringVar(&ingestMIME, "mime", "text/plain", "document media type")
	documentIngestCmd.Flags().StringVar(&ingestSourceURL, "source-url", "", "URL of the original document")

	for _, c := range []*cobra.Command{documentIngestCmd, documentRechunkCmd} {
		c.Flags().IntVar(&chunkTarget, "target-words", 0, "preferred chunk length in words")
		c.Flags().IntVar(&chunkMin, "min-words", 0, "minimum chunk length in words")
		c.Flags().IntVar(&chunkMax, "max-words", 0, "maximum chunk length in words")
		c.Flags().IntVar(&chunkOverlap, "overlap-words", 0, "words repeated from the previous chunk")
	}

	documentEmbedCmd.Flags().IntVarP(&embedLimit, "limit", "n", 100, "maximum chunks to embed")

	documentCmd.AddCommand(documentIngestCmd)
	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentGetCmd)
	documentCmd.AddCommand(documentDeleteCmd)
	documentCmd.AddCommand(documentRechunkCmd)
	documentCmd.AddCommand(documentEmbedCmd)
	rootCmd.AddCommand(documentCmd)
}

// chunkConfig builds the chunker config from defaults, persisted settings
// and command flags, in increasing precedence.
func chunkConfig() chunker.Config {
	cfg := chunker.DefaultConfig()

	if configStore != nil {
		if v := configStore.GetInt("chunking.target_words"); v > 0 {
			cfg.TargetWords = v
		}
		if v := configStore.GetInt("chunking.min_words"); v > 0 {
			cfg.MinWords = v
		}
		if v := configStore.GetInt("chunking.max_words"); v > 0 {
			cfg.MaxWords = v
		}
		if v := configStore.GetInt("chunking.overlap_words"); v > 0 {
			cfg.OverlapWords = v
		}
	}

	if chunkTarget > 0 {
		cfg.TargetWords = chunkTarget
	}
	if chunkMin > 0 {
		cfg.MinWords = chunkMin
	}
	if chunkMax > 0 {
		cfg.MaxWords = chunkMax
	}
	if chunkOverlap > 0 {
		cfg.OverlapWords = chunkOverlap
	}
	return cfg
}

func runDocumentIngest(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	path := args[0]
	var text []byte
	var err error
	if path == "-" {
		text, err = io.ReadAll(cmd.InOrStdin())
	} else {
		text, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	id := ingestID
	if id == "" && path != "-" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if id == "" {
		return errors.New("--id is required when reading from stdin")
	}

	doc := &domain.Document{
		ID:        id,
		Title:     ingestTitle,
		MIME:      ingestMIME,
		SourceURL: ingestSourceURL,
		Text:      string(text),
	}

	count, err := documentService.Ingest(context.Background(), doc, chunkConfig())
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	cmd.Printf("Ingested %s: %d chunks\n", id, count)
	return nil
}

func runDocumentList(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	docs, err := documentService.List(context.Background())
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if len(docs) == 0 {
		cmd.Println("No documents ingested.")
		return nil
	}

	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = "(untitled)"
		}
		cmd.Printf("  %s  %s  %s  %s\n", d.ID, d.MIME, d.CreatedAt.Format("2006-01-02"), title)
	}
	return nil
}

func runDocumentGet(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	doc, chunks, err := documentService.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}

	cmd.Printf("ID:         %s\n", doc.ID)
	if doc.Title != "" {
		cmd.Printf("Title:      %s\n", doc.Title)
	}
	cmd.Printf("MIME:       %s\n", doc.MIME)
	if doc.SourceURL != "" {
		cmd.Printf("Source URL: %s\n", doc.SourceURL)
	}
	cmd.Printf("Ingested:   %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	cmd.Printf("Text:       %d bytes\n", len(doc.Text))
	cmd.Printf("Chunks:     %d\n", len(chunks))
	for _, c := range chunks {
		cmd.Printf("  [%d] %s  bytes %d-%d  %d words\n",
			c.ChunkIndex, c.ID, c.StartOffset, c.EndOffset, c.WordCount)
	}
	return nil
}

func runDocumentDelete(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	if err := documentService.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	cmd.Printf("Deleted %s\n", args[0])
	return nil
}

func runDocumentRechunk(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	count, err := documentService.Rechunk(context.Background(), args[0], chunkConfig())
	if err != nil {
		return fmt.Errorf("rechunk failed: %w", err)
	}
	cmd.Printf("Rechunked %s: %d chunks\n", args[0], count)
	return nil
}

func runDocumentEmbed(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	count, err := documentService.ProcessPending(context.Background(), embedLimit)
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	cmd.Printf("Embedded %d chunks\n", count)
	return nil
}
