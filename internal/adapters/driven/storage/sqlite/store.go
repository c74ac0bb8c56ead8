package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/lexcore/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
)

// Store is a unified SQLite-based storage providing the chunk store, the
// FTS5 lexical index, the retrieval run store and the audit log through
// wrapper types sharing one database.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.lexcore/data/lexcore.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".lexcore", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "lexcore.db")

	// WAL lets retrieval reads run concurrently with the single writer.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ChunkStore returns a ChunkStore interface backed by this store.
func (s *Store) ChunkStore() driven.ChunkStore {
	return &chunkStore{store: s}
}

// LexicalIndex returns a LexicalIndex interface backed by this store.
func (s *Store) LexicalIndex() driven.LexicalIndex {
	return &lexicalIndex{store: s}
}

// RunStore returns a RunStore interface backed by this store.
func (s *Store) RunStore() driven.RunStore {
	return &runStore{store: s}
}

// AuditStore returns an AuditStore interface backed by this store.
func (s *Store) AuditStore() driven.AuditStore {
	return &auditStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version) VALUES (?)", version,
		); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Chunk Store ====================

// chunkStore implements driven.ChunkStore.
type chunkStore struct {
	store *Store
}

var _ driven.ChunkStore = (*chunkStore)(nil)

// ReplaceDocument upserts the document row and replaces its chunk set in a
// single transaction. A reader sees the old text with the old chunks or
// the new text with the new chunks, never a mix.
func (s *chunkStore) ReplaceDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	if doc.ID == "" {
		return domain.ErrInvalidInput
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, mime, source_url, text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			mime = excluded.mime,
			source_url = excluded.source_url,
			text = excluded.text,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Title, doc.MIME, doc.SourceURL, doc.Text,
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt)); err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	if err := replaceChunksTx(ctx, tx, doc.ID, chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *chunkStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, title, mime, source_url, text, created_at, updated_at
		FROM documents WHERE id = ?
	`, id)

	var doc domain.Document
	var createdAt, updatedAt string
	if err := row.Scan(&doc.ID, &doc.Title, &doc.MIME, &doc.SourceURL, &doc.Text,
		&createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return &doc, nil
}

// ListDocuments returns all documents.
func (s *chunkStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, title, mime, source_url, text, created_at, updated_at
		FROM documents ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		var doc domain.Document
		var createdAt, updatedAt string
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.MIME, &doc.SourceURL, &doc.Text,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		doc.CreatedAt = parseTime(createdAt)
		doc.UpdatedAt = parseTime(updatedAt)
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	return docs, nil
}

// DeleteDocument removes a document and everything derived from it.
// Chunks, lexical entries, embedding metadata and pending queue entries go
// via cascade and triggers; recorded runs are never touched.
func (s *chunkStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// ReplaceChunks atomically replaces the document's chunk set. The FTS5
// triggers keep the lexical index in the same transaction; every inserted
// chunk is enqueued for embedding before commit.
func (s *chunkStore) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := replaceChunksTx(ctx, tx, documentID, chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// replaceChunksTx is the shared chunk-replace body of ReplaceDocument and
// ReplaceChunks, running inside the caller's transaction.
func replaceChunksTx(ctx context.Context, tx *sql.Tx, documentID string, chunks []domain.Chunk) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting prior chunks: %w", err)
	}

	insertChunk, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, start_offset, end_offset, word_count, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer insertChunk.Close()

	enqueue, err := tx.PrepareContext(ctx, `
		INSERT INTO pending_embeddings (chunk_id, reason, enqueued_at)
		VALUES (?, 'new', ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			reason = excluded.reason,
			enqueued_at = excluded.enqueued_at
	`)
	if err != nil {
		return fmt.Errorf("preparing enqueue: %w", err)
	}
	defer enqueue.Close()

	for _, chunk := range chunks {
		if chunk.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to document %s: %w",
				chunk.ID, chunk.DocumentID, domain.ErrInvalidInput)
		}
		createdAt := formatTime(chunk.CreatedAt)
		if _, err := insertChunk.ExecContext(ctx, chunk.ID, chunk.DocumentID, chunk.ChunkIndex,
			chunk.StartOffset, chunk.EndOffset, chunk.WordCount, chunk.Text, createdAt); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", chunk.ID, err)
		}
		if _, err := enqueue.ExecContext(ctx, chunk.ID, createdAt); err != nil {
			return fmt.Errorf("enqueueing chunk %s: %w", chunk.ID, err)
		}
	}

	return nil
}

// GetChunk retrieves a chunk by its composite ID.
func (s *chunkStore) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, document_id, chunk_index, start_offset, end_offset, word_count, text, created_at
		FROM chunks WHERE id = ?
	`, id)

	chunk, err := scanChunkRow(row)
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// GetChunks retrieves chunks by ID, omitting missing ones.
func (s *chunkStore) GetChunks(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	out := make(map[string]domain.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, start_offset, end_offset, word_count, text, created_at
		FROM chunks WHERE id IN (`+placeholders(len(ids))+`)
	`, toAnySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[chunk.ID] = *chunk
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	return out, nil
}

// ListChunks returns a document's chunks in index order.
func (s *chunkStore) ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, start_offset, end_offset, word_count, text, created_at
		FROM chunks WHERE document_id = ?
		ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	return chunks, nil
}

// SaveEmbeddingInfo upserts embedding metadata and clears the pending queue
// entry in one transaction.
func (s *chunkStore) SaveEmbeddingInfo(ctx context.Context, info domain.EmbeddingInfo) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO embeddings (chunk_id, dim, model, vector, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			dim = excluded.dim,
			model = excluded.model,
			vector = excluded.vector,
			updated_at = excluded.updated_at
	`, info.ChunkID, info.Dim, info.Model, encodeVector(info.Vector),
		formatTime(info.UpdatedAt)); err != nil {
		return fmt.Errorf("saving embedding info: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM pending_embeddings WHERE chunk_id = ?", info.ChunkID); err != nil {
		return fmt.Errorf("clearing pending entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetEmbeddingInfo retrieves embedding metadata for a chunk.
func (s *chunkStore) GetEmbeddingInfo(ctx context.Context, chunkID string) (*domain.EmbeddingInfo, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT chunk_id, dim, model, vector, updated_at
		FROM embeddings WHERE chunk_id = ?
	`, chunkID)

	var info domain.EmbeddingInfo
	var vector []byte
	var updatedAt string
	if err := row.Scan(&info.ChunkID, &info.Dim, &info.Model, &vector, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning embedding info: %w", err)
	}
	info.Vector = decodeVector(vector)
	info.UpdatedAt = parseTime(updatedAt)
	return &info, nil
}

// LoadVectors returns the persisted vector of every current embedding,
// keyed by chunk ID. Startup hydration of the in-process index reads from
// here instead of re-embedding through the provider.
func (s *chunkStore) LoadVectors(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT c.id, e.vector
		FROM chunks c
		JOIN embeddings e ON e.chunk_id = c.id
		WHERE e.updated_at >= c.created_at
		  AND e.vector IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var vector []byte
		if err := rows.Scan(&id, &vector); err != nil {
			return nil, fmt.Errorf("scanning vector: %w", err)
		}
		out[id] = decodeVector(vector)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vectors: %w", err)
	}

	return out, nil
}

// StaleEmbeddings returns the chunk IDs whose embedding predates the chunk
// row, so the queue repair pass can re-enqueue them.
func (s *chunkStore) StaleEmbeddings(ctx context.Context) ([]string, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT c.id
		FROM chunks c
		JOIN embeddings e ON e.chunk_id = c.id
		WHERE e.updated_at < c.created_at
		ORDER BY c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying stale embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string //nolint:prealloc // size unknown from query
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale embeddings: %w", err)
	}

	return ids, nil
}

// VectorEligible reports which of the given chunks have a current embedding.
// A chunk with no embedding row, or one older than the chunk row, is not
// eligible: it stays lexically searchable but is excluded from vector search
// until re-embedded.
func (s *chunkStore) VectorEligible(ctx context.Context, chunkIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	for _, id := range chunkIDs {
		out[id] = false
	}

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT c.id
		FROM chunks c
		JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.id IN (`+placeholders(len(chunkIDs))+`)
		  AND e.updated_at >= c.created_at
	`, toAnySlice(chunkIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying eligibility: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning eligibility: %w", err)
		}
		out[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating eligibility: %w", err)
	}

	return out, nil
}

// ListEmbedded returns the chunk IDs of every current embedding.
func (s *chunkStore) ListEmbedded(ctx context.Context) ([]string, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT c.id
		FROM chunks c
		JOIN embeddings e ON e.chunk_id = c.id
		WHERE e.updated_at >= c.created_at
		ORDER BY c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying embedded chunks: %w", err)
	}
	defer rows.Close()

	var ids []string //nolint:prealloc // size unknown from query
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embedded chunks: %w", err)
	}

	return ids, nil
}

// PendingEmbeddings returns up to limit queue entries, oldest first.
func (s *chunkStore) PendingEmbeddings(ctx context.Context, limit int) ([]domain.PendingEmbedding, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT chunk_id, reason, enqueued_at
		FROM pending_embeddings
		ORDER BY enqueued_at, chunk_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending embeddings: %w", err)
	}
	defer rows.Close()

	var pending []domain.PendingEmbedding //nolint:prealloc // size unknown from query
	for rows.Next() {
		var p domain.PendingEmbedding
		var enqueuedAt string
		if err := rows.Scan(&p.ChunkID, &p.Reason, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scanning pending entry: %w", err)
		}
		p.EnqueuedAt = parseTime(enqueuedAt)
		pending = append(pending, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending entries: %w", err)
	}

	return pending, nil
}

// EnqueueEmbedding adds a chunk to the pending queue.
func (s *chunkStore) EnqueueEmbedding(ctx context.Context, chunkID, reason string, at time.Time) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO pending_embeddings (chunk_id, reason, enqueued_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			reason = excluded.reason,
			enqueued_at = excluded.enqueued_at
	`, chunkID, reason, formatTime(at))
	if err != nil {
		return fmt.Errorf("enqueueing embedding: %w", err)
	}
	return nil
}

// Close closes the underlying store.
func (s *chunkStore) Close() error {
	return s.store.Close()
}

// ==================== Helper Functions ====================

// formatTime serializes a timestamp as an ISO-8601 UTC string.
func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// parseTime deserializes an ISO-8601 UTC string; zero time on mismatch.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// placeholders builds "?, ?, ..." for an IN clause of n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// encodeVector packs a float32 vector as little-endian bytes for BLOB
// storage; nil for an empty vector.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// scanChunk scans a chunk from *sql.Rows.
func scanChunk(rows *sql.Rows) (*domain.Chunk, error) {
	var chunk domain.Chunk
	var createdAt string
	if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex,
		&chunk.StartOffset, &chunk.EndOffset, &chunk.WordCount, &chunk.Text, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}
	chunk.CreatedAt = parseTime(createdAt)
	return &chunk, nil
}

// scanChunkRow scans a chunk from *sql.Row.
func scanChunkRow(row *sql.Row) (*domain.Chunk, error) {
	var chunk domain.Chunk
	var createdAt string
	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex,
		&chunk.StartOffset, &chunk.EndOffset, &chunk.WordCount, &chunk.Text, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}
	chunk.CreatedAt = parseTime(createdAt)
	return &chunk, nil
}
