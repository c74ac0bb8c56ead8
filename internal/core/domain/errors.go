package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// Retrieval Errors.

	// ErrInvalidQuery indicates a retrieval call with nothing to search:
	// both signals disabled, an empty query, or a malformed filter.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrIndexUnavailable indicates a lexical or vector index read/write
	// failure. Retrieval fails atomically; retry policy belongs to the
	// caller.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrRetrievalUnavailable indicates the embedding provider is down and
	// no lexical fallback is possible for this call.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrRetrievalTimeout indicates the caller-supplied timeout was
	// exceeded. Nothing is persisted for the call.
	ErrRetrievalTimeout = errors.New("retrieval timeout")

	// ErrRunNotFound indicates a replay of an unknown run id.
	ErrRunNotFound = errors.New("retrieval run not found")

	// Indexing Errors.

	// ErrChunkConsistency indicates a chunk violated an offset or
	// word-count invariant. Fatal: the chunking transaction is aborted,
	// never silently repaired.
	ErrChunkConsistency = errors.New("chunk consistency violation")

	// ErrCitationMismatch indicates an extracted quote did not match the
	// source text. The citation is dropped; the hit survives.
	ErrCitationMismatch = errors.New("citation quote mismatch")

	// ErrEmbeddingUnavailable indicates the embedding provider is not
	// configured or unreachable.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrDimensionMismatch indicates a vector whose dimension does not
	// match the index configuration.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// Audit Errors.

	// ErrAuditVerification indicates a stored audit output no longer
	// matches its recorded hash.
	ErrAuditVerification = errors.New("audit hash verification failed")
)
