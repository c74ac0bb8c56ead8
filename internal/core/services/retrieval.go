package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
	"github.com/custodia-labs/lexcore/internal/core/ports/driving"
	"github.com/custodia-labs/lexcore/internal/logger"
)

// Ensure RetrievalService implements the interface.
var _ driving.RetrievalService = (*RetrievalService)(nil)

// overFetchFactor is how many candidates each signal contributes per
// requested hit, so that dedup and eligibility filtering still leave a
// full page.
const overFetchFactor = 3

// defaultTopN is the result count when the caller does not specify one.
const defaultTopN = 10

// candidate holds the per-signal scores for one chunk before fusion.
// A signal the chunk was not matched by stays nil.
type candidate struct {
	chunkID    string
	documentID string
	ftsScore   *float64
	vectorDist *float64
}

// RetrievalService answers hybrid queries and records each invocation as
// an immutable run.
type RetrievalService struct {
	chunkStore       driven.ChunkStore
	lexicalIndex     driven.LexicalIndex
	vectorIndex      driven.VectorIndex
	embeddingService driven.EmbeddingService
	runStore         driven.RunStore
}

// NewRetrievalService creates a new retrieval service.
// The vectorIndex and embeddingService parameters are optional (can be
// nil); vector-enabled calls then degrade to lexical-only.
func NewRetrievalService(
	chunkStore driven.ChunkStore,
	lexicalIndex driven.LexicalIndex,
	vectorIndex driven.VectorIndex,
	embeddingService driven.EmbeddingService,
	runStore driven.RunStore,
) *RetrievalService {
	return &RetrievalService{
		chunkStore:       chunkStore,
		lexicalIndex:     lexicalIndex,
		vectorIndex:      vectorIndex,
		embeddingService: embeddingService,
		runStore:         runStore,
	}
}

// Retrieve runs a hybrid query, fuses the signals, extracts citations and
// persists the run atomically before returning it.
//
//nolint:gocyclo // Orchestration function with necessary sequential steps
func (s *RetrievalService) Retrieve(
	ctx context.Context, query string, opts domain.RetrievalOptions,
) (*domain.RetrievalRun, error) {
	logger.Section("Retrieval Execution")
	logger.Debug("Query: %q", query)

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidQuery)
	}
	if !opts.UseFTS && !opts.UseVector {
		return nil, fmt.Errorf("%w: both signals disabled", domain.ErrInvalidQuery)
	}
	if err := validateFilter(opts.Filters); err != nil {
		return nil, err
	}

	topN := opts.TopN
	if topN <= 0 {
		topN = defaultTopN
	}
	overFetch := topN * overFetchFactor
	logger.Debug("TopN: %d, over-fetch: %d", topN, overFetch)

	meta := map[string]string{}
	useVector := opts.UseVector
	if useVector {
		if err := s.checkVector(ctx); err != nil {
			if !opts.UseFTS {
				return nil, err
			}
			logger.Warn("Vector signal unavailable, degrading to lexical-only: %v", err)
			useVector = false
			meta[domain.MetaDegraded] = domain.MetaDegradedVector
		}
	}

	// Run lexical and vector searches in parallel.
	var lexHits []driven.SearchHit
	var vecHits []driven.VectorHit
	var lexErr, vecErr error

	var wg sync.WaitGroup
	if opts.UseFTS {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lexHits, lexErr = s.lexicalIndex.Search(ctx, query, overFetch, opts.Filters)
		}()
	}
	if useVector {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vecHits, vecErr = s.vectorSearch(ctx, query, overFetch)
		}()
	}
	wg.Wait()

	if lexErr != nil {
		return nil, retrievalErr(ctx, fmt.Errorf("lexical search: %w", lexErr))
	}
	if vecErr != nil {
		if !opts.UseFTS {
			return nil, retrievalErr(ctx, fmt.Errorf("%w: vector search: %w", domain.ErrRetrievalUnavailable, vecErr))
		}
		logger.Warn("Vector search failed, degrading to lexical-only: %v", vecErr)
		vecHits = nil
		meta[domain.MetaDegraded] = domain.MetaDegradedVector
	}
	logger.Debug("Signals: %d lexical, %d vector", len(lexHits), len(vecHits))

	candidates := mergeCandidates(lexHits, vecHits)

	hits, err := s.rankCandidates(ctx, candidates, query, opts.Filters, topN)
	if err != nil {
		return nil, retrievalErr(ctx, err)
	}
	logger.Info("Ranked %d hits", len(hits))

	run := &domain.RetrievalRun{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Query:       query,
		TopN:        topN,
		Filters:     opts.Filters,
		UseFTS:      opts.UseFTS,
		UseVector:   opts.UseVector,
		AlgoVersion: domain.AlgoVersionHybridV2,
		Meta:        meta,
		Hits:        hits,
	}
	if err := s.runStore.SaveRun(ctx, run); err != nil {
		return nil, retrievalErr(ctx, fmt.Errorf("save run: %w", err))
	}

	logger.Debug("Recorded run %s", run.ID)
	return run, nil
}

// Replay returns a previously recorded run exactly as persisted.
func (s *RetrievalService) Replay(ctx context.Context, runID string) (*domain.RetrievalRun, error) {
	run, err := s.runStore.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("replay run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns recorded run parameters, newest first.
func (s *RetrievalService) ListRuns(ctx context.Context, limit int) ([]domain.RetrievalRun, error) {
	runs, err := s.runStore.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// checkVector verifies the vector signal can be used for this call.
func (s *RetrievalService) checkVector(ctx context.Context) error {
	if s.vectorIndex == nil || s.embeddingService == nil {
		return fmt.Errorf("%w: no embedding service configured", domain.ErrRetrievalUnavailable)
	}
	if err := s.embeddingService.Ping(ctx); err != nil {
		return fmt.Errorf("%w: embedding provider ping: %w", domain.ErrRetrievalUnavailable, err)
	}
	// An empty in-process graph while embedded chunks exist means the
	// index was never hydrated; searching it would silently lose the
	// vector signal.
	if s.vectorIndex.Len() == 0 {
		embedded, err := s.chunkStore.ListEmbedded(ctx)
		if err != nil {
			return fmt.Errorf("list embedded chunks: %w", err)
		}
		if len(embedded) > 0 {
			return fmt.Errorf("%w: vector index empty with %d embedded chunks, hydration required",
				domain.ErrRetrievalUnavailable, len(embedded))
		}
	}
	return nil
}

// vectorSearch embeds the query, searches the ANN index and drops hits
// whose chunks are not vector-eligible (stale or missing embedding rows).
func (s *RetrievalService) vectorSearch(ctx context.Context, query string, limit int) ([]driven.VectorHit, error) {
	embedding, err := s.embeddingService.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.vectorIndex.Search(ctx, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	eligible, err := s.chunkStore.VectorEligible(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check vector eligibility: %w", err)
	}

	//nolint:prealloc // size unknown until filtered
	var out []driven.VectorHit
	for _, h := range hits {
		if !eligible[h.ChunkID] {
			logger.Debug("Dropping ineligible vector hit %s", h.ChunkID)
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// mergeCandidates combines the two signal result lists, deduplicating by
// chunk ID and keeping the best value per signal.
func mergeCandidates(lexHits []driven.SearchHit, vecHits []driven.VectorHit) map[string]*candidate {
	candidates := make(map[string]*candidate, len(lexHits)+len(vecHits))

	for _, h := range lexHits {
		c, ok := candidates[h.ChunkID]
		if !ok {
			c = &candidate{chunkID: h.ChunkID, documentID: h.DocumentID}
			candidates[h.ChunkID] = c
		}
		if c.ftsScore == nil || h.Score > *c.ftsScore {
			score := h.Score
			c.ftsScore = &score
		}
	}

	for _, h := range vecHits {
		c, ok := candidates[h.ChunkID]
		if !ok {
			c = &candidate{chunkID: h.ChunkID}
			candidates[h.ChunkID] = c
		}
		if c.vectorDist == nil || h.Distance < *c.vectorDist {
			dist := h.Distance
			c.vectorDist = &dist
		}
	}

	return candidates
}

// fuseScore computes the hybrid_v2 fused score for one candidate.
func fuseScore(c *candidate) float64 {
	var lex, vec float64
	if c.ftsScore != nil {
		s := *c.ftsScore
		if s < 0 {
			s = 0
		}
		lex = s / (1 + s)
	}
	if c.vectorDist != nil {
		vec = 1 / (1 + *c.vectorDist)
	}

	switch {
	case c.ftsScore != nil && c.vectorDist != nil:
		return 0.6*lex + 0.4*vec
	case c.ftsScore != nil:
		return lex
	default:
		return vec
	}
}

// rankCandidates hydrates the candidates, applies document-level filters,
// fuses the scores, orders deterministically and attaches citations.
func (s *RetrievalService) rankCandidates(
	ctx context.Context,
	candidates map[string]*candidate,
	query string,
	filter domain.RetrievalFilter,
	topN int,
) ([]domain.RetrievalHit, error) {
	if len(candidates) == 0 {
		return []domain.RetrievalHit{}, nil
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	chunks, err := s.chunkStore.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate chunks: %w", err)
	}

	type scored struct {
		cand  *candidate
		chunk domain.Chunk
		score float64
	}

	docs := make(map[string]*domain.Document)
	//nolint:prealloc // size unknown until filtered
	var ranked []scored
	for _, c := range candidates {
		chunk, ok := chunks[c.chunkID]
		if !ok {
			// Index entry without a chunk row: the chunk set changed
			// under the index. Skip the hit rather than fabricate one.
			logger.Warn("Chunk %s missing during hydration, dropping hit", c.chunkID)
			continue
		}
		c.documentID = chunk.DocumentID

		doc, ok := docs[chunk.DocumentID]
		if !ok {
			doc, err = s.chunkStore.GetDocument(ctx, chunk.DocumentID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					logger.Warn("Document %s missing during hydration, dropping hit", chunk.DocumentID)
					continue
				}
				return nil, fmt.Errorf("hydrate document %s: %w", chunk.DocumentID, err)
			}
			docs[chunk.DocumentID] = doc
		}
		if !matchesFilter(doc, filter) {
			continue
		}

		ranked = append(ranked, scored{cand: c, chunk: chunk, score: fuseScore(c)})
	}

	// Deterministic order: fused score descending, chunk ID ascending.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].cand.chunkID < ranked[j].cand.chunkID
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	terms := queryTerms(query)
	hits := make([]domain.RetrievalHit, len(ranked))
	for i, r := range ranked {
		hits[i] = domain.RetrievalHit{
			Rank:           i,
			ChunkID:        r.cand.chunkID,
			DocumentID:     r.cand.documentID,
			Score:          r.score,
			FTSScore:       r.cand.ftsScore,
			VectorDistance: r.cand.vectorDist,
			Citations:      extractCitations(r.chunk.Text, terms, docs[r.cand.documentID].SourceURL),
		}
	}
	return hits, nil
}

// matchesFilter applies document-level filter constraints. The lexical
// adapter filters in SQL already; vector hits are filtered here, and
// re-checking lexical hits is harmless.
func matchesFilter(doc *domain.Document, f domain.RetrievalFilter) bool {
	if f.Empty() {
		return true
	}
	if f.DocumentID != "" && doc.ID != f.DocumentID {
		return false
	}
	if f.MIME != "" && doc.MIME != f.MIME {
		return false
	}
	date := doc.CreatedAt.UTC().Format("2006-01-02")
	if f.DateFrom != "" && date < f.DateFrom {
		return false
	}
	if f.DateTo != "" && date > f.DateTo {
		return false
	}
	return true
}

// validateFilter rejects malformed filter values before any index work.
func validateFilter(f domain.RetrievalFilter) error {
	for _, d := range []string{f.DateFrom, f.DateTo} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("%w: bad filter date %q", domain.ErrInvalidQuery, d)
		}
	}
	if f.DateFrom != "" && f.DateTo != "" && f.DateFrom > f.DateTo {
		return fmt.Errorf("%w: filter date range inverted", domain.ErrInvalidQuery)
	}
	return nil
}

// retrievalErr maps context expiry onto the retrieval timeout error so
// callers see one sentinel regardless of which stage hit the deadline.
func retrievalErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrRetrievalTimeout, err)
	}
	return err
}
