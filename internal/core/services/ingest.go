package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/lexcore/internal/chunker"
	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
	"github.com/custodia-labs/lexcore/internal/core/ports/driving"
	"github.com/custodia-labs/lexcore/internal/logger"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// DocumentService manages document ingest, chunking and the derived
// vector index.
type DocumentService struct {
	chunkStore       driven.ChunkStore
	lexicalIndex     driven.LexicalIndex
	vectorIndex      driven.VectorIndex
	embeddingService driven.EmbeddingService
}

// NewDocumentService creates a new document service.
// The vectorIndex and embeddingService parameters are optional (can be nil);
// without them ingest still works but pending embeddings are never drained.
func NewDocumentService(
	chunkStore driven.ChunkStore,
	lexicalIndex driven.LexicalIndex,
	vectorIndex driven.VectorIndex,
	embeddingService driven.EmbeddingService,
) *DocumentService {
	return &DocumentService{
		chunkStore:       chunkStore,
		lexicalIndex:     lexicalIndex,
		vectorIndex:      vectorIndex,
		embeddingService: embeddingService,
	}
}

// Ingest normalizes the document text, chunks it and installs the chunk set
// atomically. The lexical index is updated in the same transaction; the
// chunks are queued for embedding and become vector-eligible only once
// ProcessPending has embedded them.
func (s *DocumentService) Ingest(ctx context.Context, doc *domain.Document, cfg chunker.Config) (int, error) {
	logger.Section("Document Ingest")

	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return 0, fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("chunking config: %w", err)
	}

	doc.Text = chunker.Normalize(doc.Text)
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	chunks, err := chunker.Chunk(doc.ID, doc.Text, cfg)
	if err != nil {
		return 0, fmt.Errorf("chunk document %s: %w", doc.ID, err)
	}
	logger.Debug("Document %s: %d chars, %d chunks", doc.ID, len(doc.Text), len(chunks))

	// Old vectors must not survive a re-ingest: drop them before the
	// chunk rows are replaced so a vector hit can never reference a
	// chunk set that no longer exists.
	if err := s.dropVectors(ctx, doc.ID); err != nil {
		return 0, err
	}

	// Document text and chunk set move together in one transaction, so
	// chunk offsets always address the stored text.
	if err := s.chunkStore.ReplaceDocument(ctx, doc, chunks); err != nil {
		return 0, fmt.Errorf("replace document: %w", err)
	}

	logger.Info("Ingested document %s (%d chunks)", doc.ID, len(chunks))
	return len(chunks), nil
}

// Rechunk re-runs chunking for an already ingested document against its
// stored normalized text.
func (s *DocumentService) Rechunk(ctx context.Context, documentID string, cfg chunker.Config) (int, error) {
	logger.Section("Document Rechunk")

	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("chunking config: %w", err)
	}

	doc, err := s.chunkStore.GetDocument(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("get document: %w", err)
	}

	chunks, err := chunker.Chunk(doc.ID, doc.Text, cfg)
	if err != nil {
		return 0, fmt.Errorf("chunk document %s: %w", doc.ID, err)
	}

	if err := s.dropVectors(ctx, doc.ID); err != nil {
		return 0, err
	}

	if err := s.chunkStore.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return 0, fmt.Errorf("replace chunks: %w", err)
	}

	logger.Info("Rechunked document %s (%d chunks)", doc.ID, len(chunks))
	return len(chunks), nil
}

// Delete removes a document, its chunks, their lexical entries and any
// vectors. Recorded retrieval runs referencing the chunks are untouched.
func (s *DocumentService) Delete(ctx context.Context, documentID string) error {
	if err := s.dropVectors(ctx, documentID); err != nil {
		return err
	}
	if err := s.chunkStore.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	logger.Info("Deleted document %s", documentID)
	return nil
}

// List returns all ingested documents.
func (s *DocumentService) List(ctx context.Context) ([]domain.Document, error) {
	docs, err := s.chunkStore.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Get returns a document and its chunks in index order.
func (s *DocumentService) Get(ctx context.Context, documentID string) (*domain.Document, []domain.Chunk, error) {
	doc, err := s.chunkStore.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("get document: %w", err)
	}
	chunks, err := s.chunkStore.ListChunks(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("list chunks: %w", err)
	}
	return doc, chunks, nil
}

// dropVectors removes every vector belonging to the document's current
// chunk set from the index.
func (s *DocumentService) dropVectors(ctx context.Context, documentID string) error {
	if s.vectorIndex == nil {
		return nil
	}
	chunks, err := s.chunkStore.ListChunks(ctx, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("list chunks: %w", err)
	}
	for _, c := range chunks {
		if err := s.vectorIndex.Delete(ctx, c.ID); err != nil {
			return fmt.Errorf("delete vector %s: %w", c.ID, err)
		}
	}
	return nil
}

// ProcessPending drains up to limit entries from the embedding queue:
// each chunk is embedded, its vector installed and its metadata row
// updated, which is what makes the chunk vector-eligible.
func (s *DocumentService) ProcessPending(ctx context.Context, limit int) (int, error) {
	logger.Section("Embedding Queue")

	if s.embeddingService == nil || s.vectorIndex == nil {
		return 0, fmt.Errorf("%w: no embedding service configured", domain.ErrEmbeddingUnavailable)
	}
	if limit <= 0 {
		limit = 100
	}

	// Repair pass: an embedding can fall behind its chunk row without a
	// queue entry, e.g. after a crash between replace and embed.
	// Re-enqueue those before draining.
	stale, err := s.chunkStore.StaleEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stale embeddings: %w", err)
	}
	for _, id := range stale {
		if err := s.chunkStore.EnqueueEmbedding(ctx, id, "reembed", time.Now().UTC()); err != nil {
			return 0, fmt.Errorf("enqueue stale chunk %s: %w", id, err)
		}
	}

	pending, err := s.chunkStore.PendingEmbeddings(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending embeddings: %w", err)
	}
	logger.Debug("Pending queue: %d entries (limit %d)", len(pending), limit)

	var chunks []domain.Chunk //nolint:prealloc // stale entries are skipped
	for _, p := range pending {
		chunk, err := s.chunkStore.GetChunk(ctx, p.ChunkID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Stale queue entry for a replaced chunk set.
				logger.Debug("Skipping stale queue entry %s", p.ChunkID)
				continue
			}
			return 0, fmt.Errorf("get chunk %s: %w", p.ChunkID, err)
		}
		chunks = append(chunks, *chunk)
	}

	processed, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return processed, err
	}
	logger.Info("Embedded %d chunks", processed)
	return processed, nil
}

// RebuildVectorIndex re-embeds every chunk that has a current embedding
// metadata row and reinstalls its vector, reconstructing the in-process
// index from scratch.
func (s *DocumentService) RebuildVectorIndex(ctx context.Context) (int, error) {
	logger.Section("Vector Index Rebuild")

	if s.embeddingService == nil || s.vectorIndex == nil {
		return 0, fmt.Errorf("%w: no embedding service configured", domain.ErrEmbeddingUnavailable)
	}

	ids, err := s.chunkStore.ListEmbedded(ctx)
	if err != nil {
		return 0, fmt.Errorf("list embedded chunks: %w", err)
	}

	chunkSet, err := s.chunkStore.GetChunks(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("get chunks: %w", err)
	}

	chunks := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := chunkSet[id]; ok {
			chunks = append(chunks, chunk)
		}
	}

	rebuilt, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return rebuilt, err
	}
	logger.Info("Rebuilt vector index with %d chunks", rebuilt)
	return rebuilt, nil
}

// HydrateVectorIndex loads every persisted vector into the in-process
// index, without touching the embedding provider. A fresh process calls
// this at startup; otherwise it would search an empty graph and lose the
// vector signal for chunks that are already embedded.
func (s *DocumentService) HydrateVectorIndex(ctx context.Context) (int, error) {
	if s.vectorIndex == nil {
		return 0, nil
	}

	vectors, err := s.chunkStore.LoadVectors(ctx)
	if err != nil {
		return 0, fmt.Errorf("load vectors: %w", err)
	}
	for id, vec := range vectors {
		if err := s.vectorIndex.Add(ctx, id, vec); err != nil {
			return 0, fmt.Errorf("add vector %s: %w", id, err)
		}
	}

	logger.Debug("Hydrated vector index with %d vectors", len(vectors))
	return len(vectors), nil
}

// RebuildLexicalIndex reconstructs the full-text index from the chunk
// table.
func (s *DocumentService) RebuildLexicalIndex(ctx context.Context) error {
	logger.Section("Lexical Index Rebuild")
	if err := s.lexicalIndex.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild lexical index: %w", err)
	}
	logger.Info("Rebuilt lexical index")
	return nil
}

// embedChunks embeds the chunks in one provider batch, installs their
// vectors and records embedding metadata with the persisted vector (which
// also dequeues each chunk). Returns how many chunks were fully installed.
func (s *DocumentService) embedChunks(ctx context.Context, chunks []domain.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := s.embeddingService.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("%w: embed batch: %w", domain.ErrEmbeddingUnavailable, err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("%w: provider returned %d embeddings for %d chunks",
			domain.ErrEmbeddingUnavailable, len(embeddings), len(chunks))
	}

	for i, chunk := range chunks {
		if err := s.vectorIndex.Add(ctx, chunk.ID, embeddings[i]); err != nil {
			return i, fmt.Errorf("add vector %s: %w", chunk.ID, err)
		}
		info := domain.EmbeddingInfo{
			ChunkID:   chunk.ID,
			Dim:       len(embeddings[i]),
			Model:     s.embeddingService.ModelName(),
			Vector:    embeddings[i],
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.chunkStore.SaveEmbeddingInfo(ctx, info); err != nil {
			return i, fmt.Errorf("save embedding info %s: %w", chunk.ID, err)
		}
	}
	return len(chunks), nil
}
