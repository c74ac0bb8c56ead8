package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Document holds the canonical normalized text of one ingested document.
// Chunk offsets address this text; it is never modified in place, only
// replaced as a whole (which triggers a re-chunk).
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// Title is the human-readable title.
	Title string

	// MIME is the media type of the original file, e.g. "application/pdf".
	// Text extraction happens upstream; this is metadata only.
	MIME string

	// SourceURL is an optional link back to the original document.
	SourceURL string

	// Text is the full normalized text. All chunk offsets are character
	// (byte) offsets into this string.
	Text string

	// CreatedAt is when the document was first ingested.
	CreatedAt time.Time

	// UpdatedAt is when the document text was last replaced.
	UpdatedAt time.Time
}

// Chunk is the atomic retrieval and citation target: a contiguous span of a
// document's normalized text with stable offsets.
type Chunk struct {
	// ID is the deterministic composite identifier "documentID:chunkIndex".
	ID string

	// DocumentID links to the owning Document.
	DocumentID string

	// ChunkIndex is the 0-based ordinal of this chunk within the document.
	ChunkIndex int

	// StartOffset and EndOffset address the half-open span
	// [StartOffset, EndOffset) in the document's normalized text.
	StartOffset int
	EndOffset   int

	// WordCount is the number of whitespace-delimited tokens in the span.
	WordCount int

	// Text is the chunk content, equal to document.Text[StartOffset:EndOffset].
	Text string

	// CreatedAt is when this chunk row was written. An embedding older than
	// this timestamp is stale and excludes the chunk from vector search.
	CreatedAt time.Time
}

// ChunkID builds the deterministic chunk identifier for a document and index.
func ChunkID(documentID string, index int) string {
	return documentID + ":" + strconv.Itoa(index)
}

// SplitChunkID parses a chunk identifier back into document ID and index.
func SplitChunkID(id string) (documentID string, index int, err error) {
	pos := strings.LastIndex(id, ":")
	if pos <= 0 || pos == len(id)-1 {
		return "", 0, fmt.Errorf("malformed chunk id %q: %w", id, ErrInvalidInput)
	}
	index, err = strconv.Atoi(id[pos+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed chunk id %q: %w", id, ErrInvalidInput)
	}
	return id[:pos], index, nil
}

// EmbeddingInfo is the embedding metadata row for a chunk. The vector payload
// itself lives only in the vector index; this row is the source of truth for
// "is this chunk currently embedded" and under which model.
type EmbeddingInfo struct {
	// ChunkID links 1:1 to the embedded Chunk.
	ChunkID string

	// Dim is the vector dimension, which must match the index configuration.
	Dim int

	// Model is the embedding model tag the vector was computed with.
	Model string

	// Vector is the embedding itself, persisted so the in-process vector
	// index can be hydrated on startup without re-embedding.
	Vector []float32

	// UpdatedAt is when the embedding was last (re)computed.
	UpdatedAt time.Time
}

// Stale reports whether the embedding predates the chunk's current text and
// the chunk must therefore be excluded from vector search until re-embedded.
func (e EmbeddingInfo) Stale(chunk Chunk) bool {
	return e.UpdatedAt.Before(chunk.CreatedAt)
}

// PendingEmbedding is one entry in the re-embed queue: a chunk whose vector
// is missing or stale and must be (re)computed before it is vector-eligible.
type PendingEmbedding struct {
	// ChunkID is the chunk awaiting embedding.
	ChunkID string

	// Reason records why the chunk was enqueued ("new", "updated", "rebuild").
	Reason string

	// EnqueuedAt is when the entry was added.
	EnqueuedAt time.Time
}
