// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - ChunkStore: document/chunk persistence, embedding metadata, the
//     pending re-embed queue
//   - LexicalIndex: full-text search (SQLite FTS5). BM25 keyword search is
//     always required.
//   - RunStore: immutable retrieval run persistence and replay
//   - AuditStore: append-only generation audit log
//   - ConfigStore: application configuration
//
// # Optional Interfaces
//
// These can be nil - retrieval degrades to lexical-only:
//
//   - VectorIndex: ANN vector storage/search (HNSW). Only useful when an
//     EmbeddingService is configured.
//   - EmbeddingService: generates vector embeddings. Without it, the
//     VectorIndex is never populated.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
