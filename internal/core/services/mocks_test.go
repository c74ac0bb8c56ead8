package services

import (
	"context"
	"time"

	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
)

// --- Mock implementations ---

// mockChunkStore implements driven.ChunkStore for testing.
type mockChunkStore struct {
	docs      map[string]*domain.Document
	chunks    map[string]domain.Chunk
	eligible  map[string]bool
	pending   []domain.PendingEmbedding
	embedded  []string
	stale     []string
	vectors   map[string][]float32
	savedInfo []domain.EmbeddingInfo
	replaced  map[string][]domain.Chunk
	deleted   []string

	getChunksErr error
	replaceErr   error
	eligibleErr  error
}

func newMockChunkStore() *mockChunkStore {
	return &mockChunkStore{
		docs:     make(map[string]*domain.Document),
		chunks:   make(map[string]domain.Chunk),
		eligible: make(map[string]bool),
		replaced: make(map[string][]domain.Chunk),
	}
}

func (m *mockChunkStore) ReplaceDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	// Atomic: on failure neither the document nor the chunk set changes.
	if m.replaceErr != nil {
		return m.replaceErr
	}
	cp := *doc
	m.docs[doc.ID] = &cp
	return m.ReplaceChunks(ctx, doc.ID, chunks)
}

func (m *mockChunkStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (m *mockChunkStore) ListDocuments(_ context.Context) ([]domain.Document, error) {
	var docs []domain.Document
	for _, d := range m.docs {
		docs = append(docs, *d)
	}
	return docs, nil
}

func (m *mockChunkStore) DeleteDocument(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.docs, id)
	for cid, c := range m.chunks {
		if c.DocumentID == id {
			delete(m.chunks, cid)
		}
	}
	return nil
}

func (m *mockChunkStore) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	for cid, c := range m.chunks {
		if c.DocumentID == documentID {
			delete(m.chunks, cid)
		}
	}
	for _, c := range chunks {
		m.chunks[c.ID] = c
		m.pending = append(m.pending, domain.PendingEmbedding{
			ChunkID: c.ID, Reason: "new", EnqueuedAt: time.Now().UTC(),
		})
	}
	m.replaced[documentID] = chunks
	return nil
}

func (m *mockChunkStore) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	c, ok := m.chunks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *mockChunkStore) GetChunks(_ context.Context, ids []string) (map[string]domain.Chunk, error) {
	if m.getChunksErr != nil {
		return nil, m.getChunksErr
	}
	out := make(map[string]domain.Chunk)
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (m *mockChunkStore) ListChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func (m *mockChunkStore) SaveEmbeddingInfo(_ context.Context, info domain.EmbeddingInfo) error {
	m.savedInfo = append(m.savedInfo, info)
	remaining := m.pending[:0]
	for _, p := range m.pending {
		if p.ChunkID != info.ChunkID {
			remaining = append(remaining, p)
		}
	}
	m.pending = remaining
	return nil
}

func (m *mockChunkStore) GetEmbeddingInfo(_ context.Context, chunkID string) (*domain.EmbeddingInfo, error) {
	for i := range m.savedInfo {
		if m.savedInfo[i].ChunkID == chunkID {
			return &m.savedInfo[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockChunkStore) VectorEligible(_ context.Context, chunkIDs []string) (map[string]bool, error) {
	if m.eligibleErr != nil {
		return nil, m.eligibleErr
	}
	out := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		out[id] = m.eligible[id]
	}
	return out, nil
}

func (m *mockChunkStore) ListEmbedded(_ context.Context) ([]string, error) {
	return m.embedded, nil
}

func (m *mockChunkStore) StaleEmbeddings(_ context.Context) ([]string, error) {
	return m.stale, nil
}

func (m *mockChunkStore) LoadVectors(_ context.Context) (map[string][]float32, error) {
	out := make(map[string][]float32, len(m.vectors))
	for id, v := range m.vectors {
		out[id] = v
	}
	return out, nil
}

func (m *mockChunkStore) PendingEmbeddings(_ context.Context, limit int) ([]domain.PendingEmbedding, error) {
	if limit > len(m.pending) {
		return m.pending, nil
	}
	return m.pending[:limit], nil
}

func (m *mockChunkStore) EnqueueEmbedding(_ context.Context, chunkID, reason string, at time.Time) error {
	m.pending = append(m.pending, domain.PendingEmbedding{ChunkID: chunkID, Reason: reason, EnqueuedAt: at})
	return nil
}

func (m *mockChunkStore) Close() error { return nil }

// addChunk registers a chunk (and its document, if new) as vector-eligible.
func (m *mockChunkStore) addChunk(docID, chunkID, text string) {
	if _, ok := m.docs[docID]; !ok {
		m.docs[docID] = &domain.Document{
			ID:        docID,
			MIME:      "text/plain",
			CreatedAt: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		}
	}
	m.chunks[chunkID] = domain.Chunk{
		ID:         chunkID,
		DocumentID: docID,
		Text:       text,
	}
	m.eligible[chunkID] = true
}

// mockLexicalIndex implements driven.LexicalIndex for testing.
type mockLexicalIndex struct {
	hits         []driven.SearchHit
	searchErr    error
	rebuildErr   error
	rebuildCalls int
}

func (m *mockLexicalIndex) Search(_ context.Context, _ string, limit int, _ domain.RetrievalFilter) ([]driven.SearchHit, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if limit > len(m.hits) {
		return m.hits, nil
	}
	return m.hits[:limit], nil
}

func (m *mockLexicalIndex) Rebuild(_ context.Context) error {
	m.rebuildCalls++
	return m.rebuildErr
}

// mockVectorIndex implements driven.VectorIndex for testing.
type mockVectorIndex struct {
	hits      []driven.VectorHit
	searchErr error
	addErr    error
	added     map[string][]float32
	removed   []string
}

func (m *mockVectorIndex) Add(_ context.Context, chunkID string, embedding []float32) error {
	if m.addErr != nil {
		return m.addErr
	}
	if m.added == nil {
		m.added = make(map[string][]float32)
	}
	m.added[chunkID] = embedding
	return nil
}

func (m *mockVectorIndex) Delete(_ context.Context, chunkID string) error {
	m.removed = append(m.removed, chunkID)
	return nil
}

func (m *mockVectorIndex) Search(_ context.Context, _ []float32, k int) ([]driven.VectorHit, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if k > len(m.hits) {
		return m.hits, nil
	}
	return m.hits[:k], nil
}

func (m *mockVectorIndex) Len() int { return len(m.added) }

func (m *mockVectorIndex) Close() error { return nil }

// mockEmbeddingService implements driven.EmbeddingService for testing.
type mockEmbeddingService struct {
	embedding  []float32
	embedErr   error
	pingErr    error
	dims       int
	model      string
	embedCalls int
	batchCalls int
}

func (m *mockEmbeddingService) Embed(_ context.Context, _ string) ([]float32, error) {
	m.embedCalls++
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return m.embedding, nil
}

func (m *mockEmbeddingService) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls++
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.embedding
	}
	return out, nil
}

func (m *mockEmbeddingService) Dimensions() int {
	if m.dims == 0 {
		return len(m.embedding)
	}
	return m.dims
}

func (m *mockEmbeddingService) ModelName() string {
	if m.model == "" {
		return "mock-embed"
	}
	return m.model
}

func (m *mockEmbeddingService) Ping(_ context.Context) error { return m.pingErr }

func (m *mockEmbeddingService) Close() error { return nil }

// mockRunStore implements driven.RunStore for testing.
type mockRunStore struct {
	runs    map[string]*domain.RetrievalRun
	saveErr error
	getErr  error
}

func newMockRunStore() *mockRunStore {
	return &mockRunStore{runs: make(map[string]*domain.RetrievalRun)}
}

func (m *mockRunStore) SaveRun(_ context.Context, run *domain.RetrievalRun) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.runs[run.ID] = run
	return nil
}

func (m *mockRunStore) GetRun(_ context.Context, runID string) (*domain.RetrievalRun, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	run, ok := m.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

func (m *mockRunStore) ListRuns(_ context.Context, limit int) ([]domain.RetrievalRun, error) {
	var runs []domain.RetrievalRun
	for _, r := range m.runs {
		if len(runs) >= limit {
			break
		}
		runs = append(runs, *r)
	}
	return runs, nil
}

// mockAuditStore implements driven.AuditStore for testing.
type mockAuditStore struct {
	entries   []domain.AuditEntry
	appendErr error
}

func (m *mockAuditStore) AppendEntry(_ context.Context, entry *domain.AuditEntry) (int64, error) {
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	e := *entry
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return e.ID, nil
}

func (m *mockAuditStore) GetEntry(_ context.Context, id int64) (*domain.AuditEntry, error) {
	for i := range m.entries {
		if m.entries[i].ID == id {
			return &m.entries[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockAuditStore) ListEntries(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
