package driving

import (
	"context"

	"github.com/custodia-labs/lexcore/internal/chunker"
	"github.com/custodia-labs/lexcore/internal/core/domain"
)

// DocumentService manages document ingest and the derived indexes.
type DocumentService interface {
	// Ingest normalizes the document text, chunks it, replaces the
	// document's chunk set atomically and enqueues every chunk for
	// embedding. Returns the number of chunks produced.
	Ingest(ctx context.Context, doc *domain.Document, cfg chunker.Config) (int, error)

	// Rechunk re-runs chunking for an already ingested document, e.g.
	// after a config change. Destructive replace: a concurrent reader
	// observes the old chunk set or the new one, never a mix.
	Rechunk(ctx context.Context, documentID string, cfg chunker.Config) (int, error)

	// Delete removes a document, its chunks and their index entries.
	Delete(ctx context.Context, documentID string) error

	// List returns all ingested documents.
	List(ctx context.Context) ([]domain.Document, error)

	// Get returns a document and its chunks in index order.
	Get(ctx context.Context, documentID string) (*domain.Document, []domain.Chunk, error)

	// ProcessPending embeds up to limit queued chunks and installs their
	// vectors. Returns the number of chunks embedded. Safe to call
	// repeatedly; an empty queue returns 0.
	ProcessPending(ctx context.Context, limit int) (int, error)

	// RebuildVectorIndex reloads every current embedding into the vector
	// index by re-embedding the corresponding chunks.
	RebuildVectorIndex(ctx context.Context) (int, error)

	// HydrateVectorIndex loads every persisted vector into the in-process
	// index without calling the embedding provider. Called once at
	// startup; returns the number of vectors installed.
	HydrateVectorIndex(ctx context.Context) (int, error)

	// RebuildLexicalIndex reconstructs the full-text index from the
	// chunk table.
	RebuildLexicalIndex(ctx context.Context) error
}
