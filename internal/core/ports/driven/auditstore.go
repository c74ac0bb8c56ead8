package driven

import (
	"context"

	"github.com/custodia-labs/lexcore/internal/core/domain"
)

// AuditStore persists generation audit entries. Append-only by contract:
// no update or delete exists here or anywhere above this interface.
type AuditStore interface {
	// AppendEntry inserts the entry and returns its assigned ID.
	AppendEntry(ctx context.Context, entry *domain.AuditEntry) (int64, error)

	// GetEntry loads an entry by ID.
	GetEntry(ctx context.Context, id int64) (*domain.AuditEntry, error)

	// ListEntries returns entries, newest first.
	ListEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}
