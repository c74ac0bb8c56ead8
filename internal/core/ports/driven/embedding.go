package driven

import "context"

// EmbeddingService generates vector embeddings from text.
// This is an optional service - when nil, vector search is disabled.
//
// Note: This is separate from VectorIndex which stores and searches vectors.
// EmbeddingService generates vectors; VectorIndex stores them.
//
// Implementations may include:
//   - Ollama (nomic-embed-text, all-minilm)
//   - OpenAI (text-embedding-3-small, text-embedding-3-large)
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g., 384, 768, 1536).
	// This must match the VectorIndex configuration.
	Dimensions() int

	// ModelName returns the model tag recorded on embedding metadata.
	// Chunks embedded under different historical models coexist and are
	// distinguished by this tag.
	ModelName() string

	// Ping validates the service is reachable with a lightweight request.
	// Retrieval uses it to decide between vector search and lexical-only
	// degradation.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
