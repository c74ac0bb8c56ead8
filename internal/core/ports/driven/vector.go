package driven

import "context"

// VectorIndex provides approximate nearest neighbour search over chunk
// embeddings. Backed by an in-process HNSW graph.
//
// The index is updated asynchronously relative to chunk writes: a chunk
// becomes vector-eligible only once its embedding metadata row is current
// (ChunkStore.VectorEligible), never by elapsed time. The index is derived
// state, fully reconstructible from the embedding metadata plus provider.
type VectorIndex interface {
	// Add inserts or replaces the vector for the given chunk ID.
	Add(ctx context.Context, chunkID string, embedding []float32) error

	// Delete removes a vector from the index. Deleting an absent ID is
	// not an error.
	Delete(ctx context.Context, chunkID string) error

	// Search finds the k nearest neighbours to the query vector,
	// nearest first.
	Search(ctx context.Context, query []float32, k int) ([]VectorHit, error)

	// Len reports the number of live vectors.
	Len() int

	// Close releases resources.
	Close() error
}

// VectorHit represents a similarity search result.
type VectorHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Distance is the cosine distance (0 = identical, lower is better).
	Distance float64
}
