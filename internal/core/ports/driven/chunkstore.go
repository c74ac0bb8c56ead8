package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/lexcore/internal/core/domain"
)

// ChunkStore owns document and chunk persistence plus the embedding
// bookkeeping that keeps the vector index reconcilable with the chunk rows.
//
// Write operations are each atomic: ReplaceChunks either installs the full
// new chunk set for a document (with its lexical index entries and pending
// queue entries) or leaves the previous state untouched.
type ChunkStore interface {
	// ReplaceDocument stores or replaces the document row and its full
	// chunk set in one transaction, enqueueing every new chunk for
	// embedding. A reader can never observe the new text with the old
	// chunks or vice versa.
	ReplaceDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error

	// GetDocument retrieves a document by ID.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListDocuments returns all documents.
	ListDocuments(ctx context.Context) ([]domain.Document, error)

	// DeleteDocument removes a document, cascading to its chunks, their
	// lexical entries, embedding metadata and pending queue entries.
	// Recorded retrieval runs are never touched.
	DeleteDocument(ctx context.Context, id string) error

	// ReplaceChunks atomically deletes all chunks for the document and
	// inserts the given set in chunk order, enqueueing every new chunk
	// for embedding. A concurrent reader observes either the old set or
	// the new set, never a mix.
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error

	// GetChunk retrieves a chunk by its composite ID.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// GetChunks retrieves chunks by ID, omitting missing ones.
	GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error)

	// ListChunks returns a document's chunks in index order.
	ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// SaveEmbeddingInfo upserts the embedding metadata row for a chunk
	// and removes the chunk from the pending queue, in one transaction.
	SaveEmbeddingInfo(ctx context.Context, info domain.EmbeddingInfo) error

	// GetEmbeddingInfo retrieves embedding metadata for a chunk.
	GetEmbeddingInfo(ctx context.Context, chunkID string) (*domain.EmbeddingInfo, error)

	// VectorEligible filters the given chunk IDs down to those with a
	// current (non-stale) embedding. The drift check here, not wall-clock
	// timing, is the authoritative eligibility test for vector search.
	VectorEligible(ctx context.Context, chunkIDs []string) (map[string]bool, error)

	// ListEmbedded returns the chunk IDs of every current embedding,
	// used to rebuild the vector index from scratch.
	ListEmbedded(ctx context.Context) ([]string, error)

	// LoadVectors returns the persisted vector of every current
	// embedding keyed by chunk ID, used to hydrate the in-process
	// vector index at startup.
	LoadVectors(ctx context.Context) (map[string][]float32, error)

	// StaleEmbeddings returns the chunk IDs whose embedding predates the
	// chunk row, so a repair pass can re-enqueue them.
	StaleEmbeddings(ctx context.Context) ([]string, error)

	// PendingEmbeddings returns up to limit queue entries, oldest first.
	PendingEmbeddings(ctx context.Context, limit int) ([]domain.PendingEmbedding, error)

	// EnqueueEmbedding adds a chunk to the pending queue, replacing any
	// existing entry for the same chunk.
	EnqueueEmbedding(ctx context.Context, chunkID, reason string, at time.Time) error

	// Close releases resources.
	Close() error
}
