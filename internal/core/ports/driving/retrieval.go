package driving

import (
	"context"

	"github.com/custodia-labs/lexcore/internal/core/domain"
)

// RetrievalService answers ranked hybrid queries and records every
// invocation as an immutable, replayable run.
type RetrievalService interface {
	// Retrieve runs a hybrid query, fuses the lexical and vector signals,
	// extracts citations, persists the run atomically and returns it.
	// The caller bounds the call with ctx; on deadline the call fails
	// with domain.ErrRetrievalTimeout and persists nothing.
	Retrieve(ctx context.Context, query string, opts domain.RetrievalOptions) (*domain.RetrievalRun, error)

	// Replay returns a previously recorded run exactly as persisted,
	// read-only, independent of any index mutation since.
	Replay(ctx context.Context, runID string) (*domain.RetrievalRun, error)

	// ListRuns returns recorded run parameters (without hits), newest
	// first.
	ListRuns(ctx context.Context, limit int) ([]domain.RetrievalRun, error)
}
