package driven

import (
	"context"

	"github.com/custodia-labs/lexcore/internal/core/domain"
)

// RunStore persists retrieval runs. Runs are write-once: the interface has
// no update or delete operation, making mutation a type-level impossibility
// rather than a convention.
type RunStore interface {
	// SaveRun persists the run with all its hits and citations in one
	// transaction. Either the entire run becomes visible or none of it.
	SaveRun(ctx context.Context, run *domain.RetrievalRun) error

	// GetRun loads a run with its hits (in rank order) and citations
	// (in idx order), exactly as recorded, without touching the live
	// indexes. Returns domain.ErrRunNotFound for unknown IDs.
	GetRun(ctx context.Context, runID string) (*domain.RetrievalRun, error)

	// ListRuns returns run records (without hits), newest first.
	ListRuns(ctx context.Context, limit int) ([]domain.RetrievalRun, error)
}
