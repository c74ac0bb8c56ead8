package driving

import (
	"context"

	"github.com/custodia-labs/lexcore/internal/core/domain"
)

// AuditRequest carries the fields of a generation event to be recorded.
// Params and Output are arbitrary JSON-serializable values; the service
// canonicalizes them so equal data always hashes identically.
type AuditRequest struct {
	Event          string
	Model          string
	PackVersion    string
	RetrievalRunID string
	Params         any
	Output         any
}

// AuditService records generation events and verifies them later.
// Append-only: there is deliberately no update or delete operation.
type AuditService interface {
	// Append canonicalizes the request, computes the output hash and
	// persists the entry. When RetrievalRunID is set it must reference
	// an existing run.
	Append(ctx context.Context, req AuditRequest) (int64, error)

	// Verify recomputes the hash of the stored output and compares it to
	// the recorded digest. False means the payload was modified after
	// writing.
	Verify(ctx context.Context, entryID int64) (bool, error)

	// List returns recorded entries, newest first.
	List(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}
