package domain

import "time"

// AuditEntry records one generation event for later verification. Entries
// are append-only: no update or delete operation exists anywhere in the
// public contract, so tampering is only possible by editing the store
// directly, which Verify detects.
type AuditEntry struct {
	// ID is the store-assigned entry identifier.
	ID int64

	// CreatedAt is when the entry was appended.
	CreatedAt time.Time

	// Event names the generation event, e.g. "llm_generate_defense".
	Event string

	// Model is the language model that produced the output.
	Model string

	// PackVersion is the content pack version active at generation time.
	PackVersion string

	// RetrievalRunID links to the retrieval run whose hits fed the
	// generation, empty when the generation used no retrieval.
	RetrievalRunID string

	// Params is the canonical JSON serialization of the generation
	// parameters.
	Params string

	// Output is the canonical JSON serialization of the generation output.
	Output string

	// OutputSHA256 is the hex sha256 digest of Output, computed at write
	// time. Verify recomputes it from the stored Output.
	OutputSHA256 string
}
