package sqlite

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lexcore/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "lexcore-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}

	return store, cleanup
}

// saveTestDocument stores a document with the given ingest time.
func saveTestDocument(t *testing.T, store *Store, docID, mime string, createdAt time.Time) {
	t.Helper()
	doc := &domain.Document{
		ID:        docID,
		Title:     "Test Document " + docID,
		MIME:      mime,
		SourceURL: "https://example.com/" + docID,
		Text:      "placeholder text for " + docID,
		CreatedAt: createdAt,
	}
	require.NoError(t, store.ChunkStore().ReplaceDocument(context.Background(), doc, nil))
}

// testChunks builds n small sequential chunks over a synthetic text.
func testChunks(docID string, createdAt time.Time, texts ...string) []domain.Chunk {
	chunks := make([]domain.Chunk, len(texts))
	offset := 0
	for i, txt := range texts {
		chunks[i] = domain.Chunk{
			ID:          domain.ChunkID(docID, i),
			DocumentID:  docID,
			ChunkIndex:  i,
			StartOffset: offset,
			EndOffset:   offset + len(txt),
			WordCount:   len(txt)/5 + 1,
			Text:        txt,
			CreatedAt:   createdAt,
		}
		offset += len(txt) + 1
	}
	return chunks
}

// ==================== Document Tests ====================

func TestSaveAndGetDocument(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	saveTestDocument(t, store, "doc1", "text/plain", now)

	doc, err := store.ChunkStore().GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, "doc1", doc.ID)
	assert.Equal(t, "Test Document doc1", doc.Title)
	assert.Equal(t, "text/plain", doc.MIME)
	assert.Equal(t, now, doc.CreatedAt)
}

func TestGetDocument_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.ChunkStore().GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListDocuments(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	now := time.Now().UTC()
	saveTestDocument(t, store, "b", "text/plain", now)
	saveTestDocument(t, store, "a", "text/html", now)

	docs, err := store.ChunkStore().ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
}

func TestDeleteDocument_Cascades(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	now := time.Now().UTC()
	saveTestDocument(t, store, "doc1", "text/plain", now)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", now, "alpha text", "beta text")))

	require.NoError(t, cs.DeleteDocument(ctx, "doc1"))

	_, err := cs.GetChunk(ctx, "doc1:0")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pending, err := cs.PendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "pending queue entries should cascade")
}

func TestReplaceDocument_TextAndChunksMoveTogether(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	now := time.Now().UTC().Truncate(time.Second)
	oldDoc := &domain.Document{ID: "doc1", MIME: "text/plain", Text: "old body", CreatedAt: now}
	require.NoError(t, cs.ReplaceDocument(ctx, oldDoc, testChunks("doc1", now, "old body")))

	// Re-ingest with new text and its matching chunk set in one call.
	newDoc := &domain.Document{ID: "doc1", MIME: "text/plain", Text: "new body entirely", CreatedAt: now}
	require.NoError(t, cs.ReplaceDocument(ctx, newDoc, testChunks("doc1", now.Add(time.Minute), "new body entirely")))

	doc, err := cs.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	chunks, err := cs.ListChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	// Chunk offsets must address the stored text.
	assert.Equal(t, doc.Text[chunks[0].StartOffset:chunks[0].EndOffset], chunks[0].Text)
	assert.Equal(t, "new body entirely", chunks[0].Text)
}

func TestReplaceDocument_RollsBackOnBadChunk(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	now := time.Now().UTC().Truncate(time.Second)
	oldDoc := &domain.Document{ID: "doc1", MIME: "text/plain", Text: "old body", CreatedAt: now}
	require.NoError(t, cs.ReplaceDocument(ctx, oldDoc, testChunks("doc1", now, "old body")))

	// A chunk claiming the wrong document fails the whole replace. Neither
	// the new text nor a partial chunk set may be visible afterwards.
	newDoc := &domain.Document{ID: "doc1", MIME: "text/plain", Text: "new body", CreatedAt: now}
	err := cs.ReplaceDocument(ctx, newDoc, testChunks("doc2", now, "new body"))
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	doc, err := cs.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, "old body", doc.Text, "document text must not change when the chunk replace fails")

	chunks, err := cs.ListChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "old body", chunks[0].Text)
}

func TestReplaceDocument_RequiresID(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.ChunkStore().ReplaceDocument(context.Background(), &domain.Document{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// ==================== Chunk Tests ====================

func TestReplaceChunks_InstallsAndEnqueues(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	now := time.Now().UTC()
	saveTestDocument(t, store, "doc1", "text/plain", now)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", now, "first chunk", "second chunk", "third chunk")))

	chunks, err := cs.ListChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, domain.ChunkID("doc1", i), c.ID)
	}

	pending, err := cs.PendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "every new chunk should be queued for embedding")
}

func TestReplaceChunks_ReplacesPriorSet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	now := time.Now().UTC()
	saveTestDocument(t, store, "doc1", "text/plain", now)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", now, "one", "two", "three")))
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", now, "replacement only")))

	chunks, err := cs.ListChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "replacement only", chunks[0].Text)

	// The old set's extra chunk IDs must be gone.
	_, err = cs.GetChunk(ctx, "doc1:1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReplaceChunks_RejectsForeignChunk(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	now := time.Now().UTC()
	saveTestDocument(t, store, "doc1", "text/plain", now)
	saveTestDocument(t, store, "doc2", "text/plain", now)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", now, "keep me")))

	// One chunk claims the wrong document: the whole call must fail and
	// leave the prior set intact.
	bad := testChunks("doc2", now, "a", "b")
	err := cs.ReplaceChunks(ctx, "doc1", bad)
	require.Error(t, err)

	chunks, err := cs.ListChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "keep me", chunks[0].Text)
}

func TestGetChunks_OmitsMissing(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	now := time.Now().UTC()
	saveTestDocument(t, store, "doc1", "text/plain", now)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", now, "only chunk")))

	got, err := cs.GetChunks(ctx, []string{"doc1:0", "doc1:99", "ghost:0"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "only chunk", got["doc1:0"].Text)
}

// ==================== Embedding Bookkeeping Tests ====================

func TestSaveEmbeddingInfo_Dequeues(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	now := time.Now().UTC()
	saveTestDocument(t, store, "doc1", "text/plain", now)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", now, "chunk a", "chunk b")))

	require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
		ChunkID:   "doc1:0",
		Dim:       768,
		Model:     "nomic-embed-text",
		UpdatedAt: now.Add(time.Minute),
	}))

	pending, err := cs.PendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "doc1:1", pending[0].ChunkID)

	info, err := cs.GetEmbeddingInfo(ctx, "doc1:0")
	require.NoError(t, err)
	assert.Equal(t, 768, info.Dim)
	assert.Equal(t, "nomic-embed-text", info.Model)
}

func TestVectorEligible_DriftCheck(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	base := time.Now().UTC().Truncate(time.Second)
	saveTestDocument(t, store, "doc1", "text/plain", base)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", base, "fresh", "stale", "never")))

	// Embedding newer than the chunk: eligible.
	require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
		ChunkID: "doc1:0", Dim: 8, Model: "m", UpdatedAt: base.Add(time.Minute),
	}))
	// Embedding older than the chunk: drift, not eligible.
	require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
		ChunkID: "doc1:1", Dim: 8, Model: "m", UpdatedAt: base.Add(-time.Minute),
	}))

	eligible, err := cs.VectorEligible(ctx, []string{"doc1:0", "doc1:1", "doc1:2"})
	require.NoError(t, err)
	assert.True(t, eligible["doc1:0"])
	assert.False(t, eligible["doc1:1"], "stale embedding must not be eligible")
	assert.False(t, eligible["doc1:2"], "missing embedding must not be eligible")
}

func TestRechunk_InvalidatesEligibility(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	base := time.Now().UTC().Truncate(time.Second)
	saveTestDocument(t, store, "doc1", "text/plain", base)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", base, "original")))
	require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
		ChunkID: "doc1:0", Dim: 8, Model: "m", UpdatedAt: base.Add(time.Minute),
	}))

	eligible, err := cs.VectorEligible(ctx, []string{"doc1:0"})
	require.NoError(t, err)
	require.True(t, eligible["doc1:0"])

	// Re-chunk later: same chunk ID, newer created_at. The old embedding
	// row is now stale, so the chunk drops out of vector search until
	// re-embedded.
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1",
		testChunks("doc1", base.Add(2*time.Minute), "original but edited")))

	eligible, err = cs.VectorEligible(ctx, []string{"doc1:0"})
	require.NoError(t, err)
	assert.False(t, eligible["doc1:0"])

	pending, err := cs.PendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "doc1:0", pending[0].ChunkID)
}

func TestPendingEmbeddings_OldestFirst(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	base := time.Now().UTC().Truncate(time.Second)
	saveTestDocument(t, store, "doc1", "text/plain", base)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", base, "a", "b")))

	// Re-enqueue doc1:0 later; it should sort after doc1:1.
	require.NoError(t, cs.EnqueueEmbedding(ctx, "doc1:0", "reembed", base.Add(time.Hour)))

	pending, err := cs.PendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "doc1:1", pending[0].ChunkID)
	assert.Equal(t, "doc1:0", pending[1].ChunkID)
	assert.Equal(t, "reembed", pending[1].Reason)
}

func TestListEmbedded(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	base := time.Now().UTC().Truncate(time.Second)
	saveTestDocument(t, store, "doc1", "text/plain", base)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", base, "a", "b", "c")))
	for i := 0; i < 2; i++ {
		require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
			ChunkID: domain.ChunkID("doc1", i), Dim: 8, Model: "m", UpdatedAt: base.Add(time.Minute),
		}))
	}

	ids, err := cs.ListEmbedded(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1:0", "doc1:1"}, ids)
}

func TestEmbeddingVectorRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	base := time.Now().UTC().Truncate(time.Second)
	saveTestDocument(t, store, "doc1", "text/plain", base)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", base, "a")))

	vec := []float32{0.25, -1.5, 3.0, 0}
	require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
		ChunkID: "doc1:0", Dim: len(vec), Model: "m", Vector: vec, UpdatedAt: base.Add(time.Minute),
	}))

	info, err := cs.GetEmbeddingInfo(ctx, "doc1:0")
	require.NoError(t, err)
	assert.Equal(t, vec, info.Vector)
}

func TestLoadVectors_CurrentOnly(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	base := time.Now().UTC().Truncate(time.Second)
	saveTestDocument(t, store, "doc1", "text/plain", base)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", base, "current", "stale", "no vector")))

	require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
		ChunkID: "doc1:0", Dim: 2, Model: "m", Vector: []float32{1, 2}, UpdatedAt: base.Add(time.Minute),
	}))
	// Embedding older than its chunk row: drifted, must not be loaded.
	require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
		ChunkID: "doc1:1", Dim: 2, Model: "m", Vector: []float32{3, 4}, UpdatedAt: base.Add(-time.Minute),
	}))
	// Metadata row without a persisted vector.
	require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
		ChunkID: "doc1:2", Dim: 2, Model: "m", UpdatedAt: base.Add(time.Minute),
	}))

	vectors, err := cs.LoadVectors(ctx)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float32{1, 2}, vectors["doc1:0"])
}

func TestStaleEmbeddings(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cs := store.ChunkStore()

	base := time.Now().UTC().Truncate(time.Second)
	saveTestDocument(t, store, "doc1", "text/plain", base)
	require.NoError(t, cs.ReplaceChunks(ctx, "doc1", testChunks("doc1", base, "fresh", "drifted")))

	require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
		ChunkID: "doc1:0", Dim: 2, Model: "m", Vector: []float32{1, 2}, UpdatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, cs.SaveEmbeddingInfo(ctx, domain.EmbeddingInfo{
		ChunkID: "doc1:1", Dim: 2, Model: "m", Vector: []float32{3, 4}, UpdatedAt: base.Add(-time.Minute),
	}))

	stale, err := cs.StaleEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1:1"}, stale)
}

// ==================== Migration Tests ====================

func TestMigrationsAreIdempotent(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "lexcore-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening must not re-run applied migrations.
	store, err = NewStore(tempDir)
	require.NoError(t, err)
	defer store.Close()

	var version int
	row := store.db.QueryRow("SELECT MAX(version) FROM schema_migrations")
	require.NoError(t, row.Scan(&version))
	assert.GreaterOrEqual(t, version, 1)
}

func TestStorePath(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	assert.Contains(t, store.Path(), "lexcore.db")
}

// sanity check for the placeholder helper used in IN clauses
func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
	for n := 1; n < 5; n++ {
		args := make([]string, n)
		for i := range args {
			args[i] = fmt.Sprintf("id%d", i)
		}
		assert.Len(t, toAnySlice(args), n)
	}
}
