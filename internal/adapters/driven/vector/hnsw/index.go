// Package hnsw provides an in-process approximate nearest neighbour index
// over chunk embeddings, implementing the VectorIndex driven port.
//
// The graph lives in memory and is derived state: it is rebuilt from the
// chunk store's embedding metadata at startup. The underlying library has
// no delete operation, so removals are tombstoned and skipped at search
// time; a rebuild compacts the graph.
package hnsw

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	surface "github.com/kshard/vector"

	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
)

// Default HNSW graph parameters.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 50
)

// Config holds configuration for the HNSW index.
type Config struct {
	// Dim is the expected embedding dimension. Vectors of any other
	// dimension are rejected.
	Dim int

	// M is the maximum number of bi-directional links per node.
	M int

	// EfConstruction is the candidate list size during insertion.
	EfConstruction int

	// EfSearch is the candidate list size during search.
	EfSearch int
}

// Index implements driven.VectorIndex using a cosine-distance HNSW graph.
type Index struct {
	mu      sync.RWMutex
	graph   *hnsw.HNSW[vector.VF32]
	cfg     Config
	idToKey map[string]uint32
	keyToID map[uint32]string
	vectors map[uint32][]float32
	deleted map[uint32]bool
	nextKey uint32
	closed  bool
}

var _ driven.VectorIndex = (*Index)(nil)

// New creates an empty index for vectors of the given dimension.
func New(cfg Config) (*Index, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive: %w", domain.ErrInvalidInput)
	}
	if cfg.M <= 0 {
		cfg.M = DefaultM
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = DefaultEfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = DefaultEfSearch
	}

	return &Index{
		graph: hnsw.New(
			vector.SurfaceVF32(surface.Cosine()),
			hnsw.WithM(cfg.M),
			hnsw.WithEfConstruction(cfg.EfConstruction),
		),
		cfg:     cfg,
		idToKey: make(map[string]uint32),
		keyToID: make(map[uint32]string),
		vectors: make(map[uint32][]float32),
		deleted: make(map[uint32]bool),
		nextKey: 1,
	}, nil
}

// Add inserts or replaces the vector for the given chunk ID. Replacement
// tombstones the old graph node and inserts a fresh one under a new key.
func (x *Index) Add(_ context.Context, chunkID string, embedding []float32) error {
	if len(embedding) != x.cfg.Dim {
		return fmt.Errorf("vector for %s has dim %d, index expects %d: %w",
			chunkID, len(embedding), x.cfg.Dim, domain.ErrDimensionMismatch)
	}

	vec := normalize(embedding)

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("vector index closed: %w", domain.ErrIndexUnavailable)
	}

	if old, ok := x.idToKey[chunkID]; ok {
		x.deleted[old] = true
		delete(x.keyToID, old)
		delete(x.vectors, old)
	}

	key := x.nextKey
	x.nextKey++

	x.graph.Insert(vector.VF32{Key: key, Vec: vec})
	x.idToKey[chunkID] = key
	x.keyToID[key] = chunkID
	x.vectors[key] = vec
	return nil
}

// Delete tombstones a chunk's vector. Deleting an absent ID is a no-op.
func (x *Index) Delete(_ context.Context, chunkID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("vector index closed: %w", domain.ErrIndexUnavailable)
	}

	key, ok := x.idToKey[chunkID]
	if !ok {
		return nil
	}
	x.deleted[key] = true
	delete(x.idToKey, chunkID)
	delete(x.keyToID, key)
	delete(x.vectors, key)
	return nil
}

// Search returns the k nearest live vectors by cosine distance, nearest
// first. The library returns neighbours without scores, so distances are
// recomputed from the stored vectors.
func (x *Index) Search(_ context.Context, query []float32, k int) ([]driven.VectorHit, error) {
	if len(query) != x.cfg.Dim {
		return nil, fmt.Errorf("query has dim %d, index expects %d: %w",
			len(query), x.cfg.Dim, domain.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	q := normalize(query)

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("vector index closed: %w", domain.ErrIndexUnavailable)
	}
	if len(x.idToKey) == 0 {
		return nil, nil
	}

	// Over-fetch to compensate for tombstoned nodes in the graph.
	fetch := k + len(x.deleted)
	neighbours := x.graph.Search(vector.VF32{Key: 0, Vec: q}, fetch, x.cfg.EfSearch)

	hits := make([]driven.VectorHit, 0, k)
	for _, n := range neighbours {
		id, ok := x.keyToID[n.Key]
		if !ok {
			continue // tombstoned
		}
		hits = append(hits, driven.VectorHit{
			ChunkID:  id,
			Distance: cosineDistance(q, x.vectors[n.Key]),
		})
		if len(hits) >= k {
			break
		}
	}
	return hits, nil
}

// Len reports the number of live vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.idToKey)
}

// Close marks the index unusable.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	return nil
}

// normalize returns the unit-length copy of v, so stored vectors and
// queries share a scale and cosine distance is a plain dot product away.
func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		norm = 1
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// cosineDistance computes 1 - cos(a, b) for unit vectors.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(b) == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	d := 1 - dot
	if d < 0 {
		d = 0
	}
	return d
}
