package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
)

func lexicalOnlyOpts() domain.RetrievalOptions {
	return domain.RetrievalOptions{UseFTS: true}
}

func hybridOpts() domain.RetrievalOptions {
	return domain.RetrievalOptions{UseFTS: true, UseVector: true}
}

// newRetrievalFixture wires a service over fresh mocks with two eligible
// chunks in one document.
func newRetrievalFixture() (*RetrievalService, *mockChunkStore, *mockLexicalIndex, *mockVectorIndex, *mockEmbeddingService, *mockRunStore) {
	cs := newMockChunkStore()
	cs.addChunk("doc1", "doc1:0", "the quick brown fox jumps over the lazy dog")
	cs.addChunk("doc1", "doc1:1", "a slow green turtle crosses the quiet road")

	lex := &mockLexicalIndex{}
	vec := &mockVectorIndex{}
	emb := &mockEmbeddingService{embedding: []float32{1, 0, 0}}
	rs := newMockRunStore()

	svc := NewRetrievalService(cs, lex, vec, emb, rs)
	return svc, cs, lex, vec, emb, rs
}

// ==================== Validation Tests ====================

func TestRetrieve_EmptyQuery(t *testing.T) {
	svc, _, _, _, _, _ := newRetrievalFixture()

	_, err := svc.Retrieve(context.Background(), "   ", lexicalOnlyOpts())
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestRetrieve_BothSignalsDisabled(t *testing.T) {
	svc, _, _, _, _, _ := newRetrievalFixture()

	_, err := svc.Retrieve(context.Background(), "fox", domain.RetrievalOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestRetrieve_BadFilterDates(t *testing.T) {
	svc, _, _, _, _, _ := newRetrievalFixture()
	ctx := context.Background()

	opts := lexicalOnlyOpts()
	opts.Filters.DateFrom = "not-a-date"
	_, err := svc.Retrieve(ctx, "fox", opts)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)

	opts = lexicalOnlyOpts()
	opts.Filters.DateFrom = "2026-06-01"
	opts.Filters.DateTo = "2026-01-01"
	_, err = svc.Retrieve(ctx, "fox", opts)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

// ==================== Ranking Tests ====================

func TestRetrieve_LexicalOnly(t *testing.T) {
	svc, _, lex, _, _, rs := newRetrievalFixture()
	lex.hits = []driven.SearchHit{
		{ChunkID: "doc1:1", DocumentID: "doc1", Score: 1.0},
		{ChunkID: "doc1:0", DocumentID: "doc1", Score: 3.0},
	}

	run, err := svc.Retrieve(context.Background(), "fox", lexicalOnlyOpts())
	require.NoError(t, err)

	require.Len(t, run.Hits, 2)
	assert.Equal(t, "doc1:0", run.Hits[0].ChunkID)
	assert.Equal(t, 0, run.Hits[0].Rank)
	assert.InDelta(t, 3.0/4.0, run.Hits[0].Score, 1e-9)
	assert.Equal(t, "doc1:1", run.Hits[1].ChunkID)
	assert.Equal(t, 1, run.Hits[1].Rank)
	assert.InDelta(t, 1.0/2.0, run.Hits[1].Score, 1e-9)

	require.NotNil(t, run.Hits[0].FTSScore)
	assert.InDelta(t, 3.0, *run.Hits[0].FTSScore, 1e-9)
	assert.Nil(t, run.Hits[0].VectorDistance)

	// The run is persisted before it is returned.
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.AlgoVersionHybridV2, run.AlgoVersion)
	saved, ok := rs.runs[run.ID]
	require.True(t, ok)
	assert.Equal(t, run, saved)
}

func TestRetrieve_HybridFusesSignals(t *testing.T) {
	svc, _, lex, vec, _, _ := newRetrievalFixture()
	lex.hits = []driven.SearchHit{
		{ChunkID: "doc1:0", DocumentID: "doc1", Score: 3.0},
	}
	vec.hits = []driven.VectorHit{
		{ChunkID: "doc1:0", Distance: 0.25},
		{ChunkID: "doc1:1", Distance: 0.5},
	}

	run, err := svc.Retrieve(context.Background(), "fox", hybridOpts())
	require.NoError(t, err)

	require.Len(t, run.Hits, 2)
	// Dual-signal chunk: 0.6*(3/4) + 0.4*(1/1.25).
	assert.Equal(t, "doc1:0", run.Hits[0].ChunkID)
	assert.InDelta(t, 0.77, run.Hits[0].Score, 1e-9)
	require.NotNil(t, run.Hits[0].FTSScore)
	require.NotNil(t, run.Hits[0].VectorDistance)

	// Vector-only chunk scored by its normalized signal alone.
	assert.Equal(t, "doc1:1", run.Hits[1].ChunkID)
	assert.InDelta(t, 1.0/1.5, run.Hits[1].Score, 1e-9)
	assert.Nil(t, run.Hits[1].FTSScore)
}

func TestRetrieve_TieBreaksByChunkID(t *testing.T) {
	svc, cs, lex, _, _, _ := newRetrievalFixture()
	cs.addChunk("doc1", "doc1:2", "another fox sighting near the river bank")
	lex.hits = []driven.SearchHit{
		{ChunkID: "doc1:2", DocumentID: "doc1", Score: 2.0},
		{ChunkID: "doc1:0", DocumentID: "doc1", Score: 2.0},
		{ChunkID: "doc1:1", DocumentID: "doc1", Score: 2.0},
	}

	run, err := svc.Retrieve(context.Background(), "fox", lexicalOnlyOpts())
	require.NoError(t, err)

	require.Len(t, run.Hits, 3)
	assert.Equal(t, "doc1:0", run.Hits[0].ChunkID)
	assert.Equal(t, "doc1:1", run.Hits[1].ChunkID)
	assert.Equal(t, "doc1:2", run.Hits[2].ChunkID)
}

func TestRetrieve_TruncatesToTopN(t *testing.T) {
	svc, _, lex, _, _, _ := newRetrievalFixture()
	lex.hits = []driven.SearchHit{
		{ChunkID: "doc1:0", DocumentID: "doc1", Score: 3.0},
		{ChunkID: "doc1:1", DocumentID: "doc1", Score: 1.0},
	}

	opts := lexicalOnlyOpts()
	opts.TopN = 1
	run, err := svc.Retrieve(context.Background(), "fox", opts)
	require.NoError(t, err)

	require.Len(t, run.Hits, 1)
	assert.Equal(t, "doc1:0", run.Hits[0].ChunkID)
	assert.Equal(t, 1, run.TopN)
}

func TestRetrieve_NegativeLexicalScoreClamped(t *testing.T) {
	svc, _, lex, _, _, _ := newRetrievalFixture()
	lex.hits = []driven.SearchHit{
		{ChunkID: "doc1:0", DocumentID: "doc1", Score: -0.5},
	}

	run, err := svc.Retrieve(context.Background(), "fox", lexicalOnlyOpts())
	require.NoError(t, err)
	require.Len(t, run.Hits, 1)
	assert.Equal(t, 0.0, run.Hits[0].Score)
}

func TestRetrieve_EmptyResultSet(t *testing.T) {
	svc, _, _, _, _, _ := newRetrievalFixture()

	run, err := svc.Retrieve(context.Background(), "zanzibar", lexicalOnlyOpts())
	require.NoError(t, err)
	assert.Empty(t, run.Hits)
	assert.NotEmpty(t, run.ID)
}

// ==================== Hydration and Filter Tests ====================

func TestRetrieve_DropsMissingChunks(t *testing.T) {
	svc, _, lex, _, _, _ := newRetrievalFixture()
	lex.hits = []driven.SearchHit{
		{ChunkID: "doc1:0", DocumentID: "doc1", Score: 3.0},
		{ChunkID: "ghost:9", DocumentID: "ghost", Score: 9.0},
	}

	run, err := svc.Retrieve(context.Background(), "fox", lexicalOnlyOpts())
	require.NoError(t, err)

	require.Len(t, run.Hits, 1)
	assert.Equal(t, "doc1:0", run.Hits[0].ChunkID)
}

func TestRetrieve_DropsIneligibleVectorHits(t *testing.T) {
	svc, cs, _, vec, _, _ := newRetrievalFixture()
	cs.eligible["doc1:1"] = false
	vec.hits = []driven.VectorHit{
		{ChunkID: "doc1:0", Distance: 0.2},
		{ChunkID: "doc1:1", Distance: 0.1},
	}

	run, err := svc.Retrieve(context.Background(), "fox", domain.RetrievalOptions{UseVector: true})
	require.NoError(t, err)

	require.Len(t, run.Hits, 1)
	assert.Equal(t, "doc1:0", run.Hits[0].ChunkID)
}

func TestRetrieve_DocumentLevelFilters(t *testing.T) {
	svc, cs, _, vec, _, _ := newRetrievalFixture()
	cs.addChunk("page", "page:0", "fox den spotted behind the old mill")
	cs.docs["page"].MIME = "text/html"
	vec.hits = []driven.VectorHit{
		{ChunkID: "doc1:0", Distance: 0.2},
		{ChunkID: "page:0", Distance: 0.1},
	}

	opts := domain.RetrievalOptions{UseVector: true}
	opts.Filters.MIME = "text/html"
	run, err := svc.Retrieve(context.Background(), "fox", opts)
	require.NoError(t, err)

	require.Len(t, run.Hits, 1)
	assert.Equal(t, "page:0", run.Hits[0].ChunkID)
	assert.Equal(t, "page", run.Hits[0].DocumentID)
}

func TestRetrieve_DateFilterInclusive(t *testing.T) {
	svc, _, _, vec, _, _ := newRetrievalFixture()
	vec.hits = []driven.VectorHit{{ChunkID: "doc1:0", Distance: 0.2}}

	// Fixture documents are ingested 2026-03-15.
	opts := domain.RetrievalOptions{UseVector: true}
	opts.Filters.DateFrom = "2026-03-15"
	opts.Filters.DateTo = "2026-03-15"
	run, err := svc.Retrieve(context.Background(), "fox", opts)
	require.NoError(t, err)
	require.Len(t, run.Hits, 1)

	opts.Filters.DateTo = ""
	opts.Filters.DateFrom = "2026-03-16"
	run, err = svc.Retrieve(context.Background(), "fox", opts)
	require.NoError(t, err)
	assert.Empty(t, run.Hits)
}

// ==================== Degradation Tests ====================

func TestRetrieve_DegradesWhenEmbeddingUnreachable(t *testing.T) {
	svc, _, lex, vec, emb, _ := newRetrievalFixture()
	emb.pingErr = errors.New("connection refused")
	lex.hits = []driven.SearchHit{{ChunkID: "doc1:0", DocumentID: "doc1", Score: 2.0}}
	vec.hits = []driven.VectorHit{{ChunkID: "doc1:1", Distance: 0.1}}

	run, err := svc.Retrieve(context.Background(), "fox", hybridOpts())
	require.NoError(t, err)

	// Lexical-only result with the degradation recorded on the run.
	require.Len(t, run.Hits, 1)
	assert.Equal(t, "doc1:0", run.Hits[0].ChunkID)
	assert.Equal(t, domain.MetaDegradedVector, run.Meta[domain.MetaDegraded])
	assert.True(t, run.UseVector, "the requested signals are recorded, not the effective ones")
}

func TestRetrieve_VectorOnlyPingFailureFails(t *testing.T) {
	svc, _, _, _, emb, _ := newRetrievalFixture()
	emb.pingErr = errors.New("connection refused")

	_, err := svc.Retrieve(context.Background(), "fox", domain.RetrievalOptions{UseVector: true})
	assert.ErrorIs(t, err, domain.ErrRetrievalUnavailable)
}

func TestRetrieve_NilVectorIndexDegrades(t *testing.T) {
	cs := newMockChunkStore()
	cs.addChunk("doc1", "doc1:0", "the quick brown fox")
	lex := &mockLexicalIndex{hits: []driven.SearchHit{{ChunkID: "doc1:0", DocumentID: "doc1", Score: 2.0}}}
	svc := NewRetrievalService(cs, lex, nil, nil, newMockRunStore())

	run, err := svc.Retrieve(context.Background(), "fox", hybridOpts())
	require.NoError(t, err)
	require.Len(t, run.Hits, 1)
	assert.Equal(t, domain.MetaDegradedVector, run.Meta[domain.MetaDegraded])
}

func TestRetrieve_VectorStageFailureDegrades(t *testing.T) {
	svc, _, lex, vec, _, _ := newRetrievalFixture()
	lex.hits = []driven.SearchHit{{ChunkID: "doc1:0", DocumentID: "doc1", Score: 2.0}}
	vec.searchErr = errors.New("graph corrupted")

	run, err := svc.Retrieve(context.Background(), "fox", hybridOpts())
	require.NoError(t, err)
	require.Len(t, run.Hits, 1)
	assert.Equal(t, domain.MetaDegradedVector, run.Meta[domain.MetaDegraded])
}

func TestRetrieve_UnhydratedIndexDegrades(t *testing.T) {
	svc, cs, lex, vec, _, _ := newRetrievalFixture()
	// Embedded chunks exist but the in-process index was never filled,
	// as in a fresh process that skipped hydration.
	cs.embedded = []string{"doc1:0", "doc1:1"}
	require.Equal(t, 0, vec.Len())
	lex.hits = []driven.SearchHit{{ChunkID: "doc1:0", DocumentID: "doc1", Score: 2.0}}

	run, err := svc.Retrieve(context.Background(), "fox", hybridOpts())
	require.NoError(t, err)

	require.Len(t, run.Hits, 1)
	assert.Nil(t, run.Hits[0].VectorDistance)
	assert.Equal(t, domain.MetaDegradedVector, run.Meta[domain.MetaDegraded],
		"a silently empty index must not record a clean hybrid run")
}

func TestRetrieve_VectorOnlyUnhydratedIndexFails(t *testing.T) {
	svc, cs, _, _, _, _ := newRetrievalFixture()
	cs.embedded = []string{"doc1:0"}

	_, err := svc.Retrieve(context.Background(), "fox", domain.RetrievalOptions{UseVector: true})
	assert.ErrorIs(t, err, domain.ErrRetrievalUnavailable)
}

func TestRetrieve_HydratedIndexPassesCheck(t *testing.T) {
	svc, cs, _, vec, _, _ := newRetrievalFixture()
	cs.embedded = []string{"doc1:0"}
	require.NoError(t, vec.Add(context.Background(), "doc1:0", []float32{1, 0, 0}))
	vec.hits = []driven.VectorHit{{ChunkID: "doc1:0", Distance: 0.2}}

	run, err := svc.Retrieve(context.Background(), "fox", domain.RetrievalOptions{UseVector: true})
	require.NoError(t, err)
	require.Len(t, run.Hits, 1)
	assert.NotContains(t, run.Meta, domain.MetaDegraded)
}

func TestRetrieve_LexicalFailureIsFatal(t *testing.T) {
	svc, _, lex, _, _, _ := newRetrievalFixture()
	lex.searchErr = errors.New("disk I/O error")

	_, err := svc.Retrieve(context.Background(), "fox", hybridOpts())
	assert.Error(t, err)
}

func TestRetrieve_DeadlineMapsToTimeout(t *testing.T) {
	svc, _, lex, _, _, _ := newRetrievalFixture()
	lex.searchErr = context.DeadlineExceeded

	_, err := svc.Retrieve(context.Background(), "fox", lexicalOnlyOpts())
	assert.ErrorIs(t, err, domain.ErrRetrievalTimeout)
}

// ==================== Replay Tests ====================

func TestReplay_ReturnsRecordedRun(t *testing.T) {
	svc, _, lex, _, _, _ := newRetrievalFixture()
	lex.hits = []driven.SearchHit{{ChunkID: "doc1:0", DocumentID: "doc1", Score: 2.0}}

	run, err := svc.Retrieve(context.Background(), "quick fox", lexicalOnlyOpts())
	require.NoError(t, err)

	replayed, err := svc.Replay(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, replayed)
}

func TestReplay_UnknownRun(t *testing.T) {
	svc, _, _, _, _, _ := newRetrievalFixture()

	_, err := svc.Replay(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

// ==================== Fusion Unit Tests ====================

func TestMergeCandidates_KeepsBestPerSignal(t *testing.T) {
	lexHits := []driven.SearchHit{
		{ChunkID: "a", DocumentID: "d", Score: 1.0},
		{ChunkID: "a", DocumentID: "d", Score: 2.5},
	}
	vecHits := []driven.VectorHit{
		{ChunkID: "a", Distance: 0.4},
		{ChunkID: "a", Distance: 0.2},
		{ChunkID: "b", Distance: 0.9},
	}

	merged := mergeCandidates(lexHits, vecHits)
	require.Len(t, merged, 2)

	a := merged["a"]
	require.NotNil(t, a.ftsScore)
	assert.InDelta(t, 2.5, *a.ftsScore, 1e-9)
	require.NotNil(t, a.vectorDist)
	assert.InDelta(t, 0.2, *a.vectorDist, 1e-9)

	b := merged["b"]
	assert.Nil(t, b.ftsScore)
	require.NotNil(t, b.vectorDist)
}

func TestFuseScore(t *testing.T) {
	lex := 3.0
	dist := 0.25

	both := &candidate{ftsScore: &lex, vectorDist: &dist}
	assert.InDelta(t, 0.6*0.75+0.4*0.8, fuseScore(both), 1e-9)

	lexOnly := &candidate{ftsScore: &lex}
	assert.InDelta(t, 0.75, fuseScore(lexOnly), 1e-9)

	vecOnly := &candidate{vectorDist: &dist}
	assert.InDelta(t, 0.8, fuseScore(vecOnly), 1e-9)
}

// ==================== Run Creation Time ====================

func TestRetrieve_RecordsCreationTime(t *testing.T) {
	svc, _, lex, _, _, _ := newRetrievalFixture()
	lex.hits = []driven.SearchHit{{ChunkID: "doc1:0", DocumentID: "doc1", Score: 2.0}}

	before := time.Now().UTC().Add(-time.Second)
	run, err := svc.Retrieve(context.Background(), "fox", lexicalOnlyOpts())
	require.NoError(t, err)
	after := time.Now().UTC().Add(time.Second)

	assert.True(t, run.CreatedAt.After(before) && run.CreatedAt.Before(after))
}
