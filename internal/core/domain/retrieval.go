package domain

import "time"

// AlgoVersionHybridV2 tags runs produced by the current fusion formula:
//
//	lex   = s / (1 + s)        s = negated FTS5 bm25, higher is better
//	vec   = 1 / (1 + distance) distance = cosine distance, lower is better
//	fused = 0.6*lex + 0.4*vec  when both signals are present
//
// A chunk matched by only one index is scored by that normalized signal
// alone, so single-signal and dual-signal hits share the [0,1] scale.
// Changing any part of this formula requires a new version tag.
const AlgoVersionHybridV2 = "hybrid_v2"

// MetaDegraded is the run meta key set when a retrieval call fell back to
// lexical-only because the embedding provider was unavailable.
const MetaDegraded = "degraded"

// MetaDegradedVector is the MetaDegraded value for a lexical-only fallback.
const MetaDegradedVector = "vector_unavailable"

// RetrievalFilter narrows a retrieval call to a subset of the corpus.
// Zero values mean "no constraint".
type RetrievalFilter struct {
	// DocumentID restricts hits to chunks of one document.
	DocumentID string `json:"document_id,omitempty"`

	// MIME restricts hits to documents of one media type (exact match).
	MIME string `json:"mime,omitempty"`

	// DateFrom and DateTo restrict by the document's ingest date,
	// inclusive, formatted YYYY-MM-DD.
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

// Empty reports whether the filter constrains nothing.
func (f RetrievalFilter) Empty() bool {
	return f == RetrievalFilter{}
}

// RetrievalOptions configures one retrieval invocation.
type RetrievalOptions struct {
	// TopN is the number of ranked hits to return (default 10).
	TopN int

	// Filters optionally narrows the searched corpus.
	Filters RetrievalFilter

	// UseFTS enables the lexical (FTS5 BM25) signal.
	UseFTS bool

	// UseVector enables the semantic (ANN) signal.
	UseVector bool
}

// RetrievalRun is the immutable record of one retrieval invocation: its
// inputs, the fused ranking it produced, and the citations extracted for
// each hit. Replaying a run returns exactly this data, independent of any
// later index mutation.
type RetrievalRun struct {
	// ID is an opaque unique token.
	ID string

	// CreatedAt is when the run was recorded.
	CreatedAt time.Time

	// Query is the raw query string as received.
	Query string

	// TopN is the requested result count.
	TopN int

	// Filters is the filter set the run was executed with.
	Filters RetrievalFilter

	// UseFTS and UseVector record which signals were requested.
	UseFTS    bool
	UseVector bool

	// AlgoVersion tags the fusion formula that ranked the hits.
	AlgoVersion string

	// Meta carries auxiliary run facts, e.g. the degradation flag.
	Meta map[string]string

	// Hits are the ranked results, dense rank 0..len-1.
	Hits []RetrievalHit
}

// RetrievalHit is one ranked result within a run. A chunk appears at most
// once per run; a signal the chunk was not matched by stays nil rather than
// defaulting to zero.
type RetrievalHit struct {
	// Rank is the dense 0-based position within the run.
	Rank int

	// ChunkID is the matched chunk.
	ChunkID string

	// DocumentID is the chunk's owning document.
	DocumentID string

	// Score is the fused relevance score on [0,1].
	Score float64

	// FTSScore is the lexical signal (negated bm25, higher is better),
	// nil when the chunk was not matched lexically.
	FTSScore *float64

	// VectorDistance is the cosine distance (lower is better), nil when
	// the chunk was not matched by the vector index.
	VectorDistance *float64

	// Citations are verified quote spans inside the chunk text,
	// dense idx 0..len-1.
	Citations []Citation
}

// Citation is a verified text span supporting a hit. Offsets address the
// chunk's text, and Quote equals chunkText[Start:End] at extraction time.
type Citation struct {
	// Idx is the dense 0-based position within the hit.
	Idx int

	// Quote is the cited text.
	Quote string

	// Start and End are the half-open span [Start, End) in the chunk text.
	Start int
	End   int

	// SourceURL optionally links to the original document.
	SourceURL string
}
