// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements multiple store interfaces
// through a single database connection:
//
//   - ChunkStore: document/chunk persistence, embedding metadata, pending queue
//   - LexicalIndex: FTS5 BM25 keyword search over chunk text
//   - RunStore: immutable retrieval run persistence
//   - AuditStore: append-only generation audit log
//
// Sharing one database matters for the consistency contract: the FTS5 table
// is external-content over chunks with triggers, so a chunk row and its
// lexical entry commit in the same transaction, and a retrieval run commits
// with all of its hits and citations or not at all.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory, applied in filename order at open.
//
// # Data Location
//
// By default, the database is stored at ~/.lexcore/data/lexcore.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode; reads see a consistent snapshot while writers serialize.
package sqlite
