package driven

import (
	"context"

	"github.com/custodia-labs/lexcore/internal/core/domain"
)

// LexicalIndex provides full-text search over chunk text.
// Backed by SQLite FTS5 for BM25 keyword search.
//
// Membership is maintained synchronously with the chunk rows, inside the
// same transaction, so a reader can never observe a chunk without its
// lexical entry. The index is derived state: Rebuild reconstructs it
// entirely from the chunk table.
type LexicalIndex interface {
	// Search runs a keyword query and returns up to limit chunk IDs with
	// scores, best first. The score is the negated BM25 rank, so higher
	// is better and values are comparable across queries.
	Search(ctx context.Context, query string, limit int, filter domain.RetrievalFilter) ([]SearchHit, error)

	// Rebuild reconstructs the index from the chunk table.
	Rebuild(ctx context.Context) error
}

// SearchHit represents a lexical search result.
type SearchHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// DocumentID is the chunk's owning document.
	DocumentID string

	// Score is the negated BM25 rank (higher is better).
	Score float64
}
