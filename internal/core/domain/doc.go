// Package domain defines the core business entities for lexcore.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: normalized text of one ingested source document
//   - Chunk: an offset-addressable unit of a document's normalized text
//   - RetrievalRun: an immutable record of one retrieval invocation
//   - RetrievalHit / Citation: the ranked output of a run
//   - AuditEntry: a hash-verified record of a generation event
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
