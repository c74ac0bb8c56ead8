package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
)

// runStore implements driven.RunStore. Runs are write-once; there is no
// update or delete statement anywhere in this file.
type runStore struct {
	store *Store
}

var _ driven.RunStore = (*runStore)(nil)

// SaveRun persists the run with all hits and citations in one transaction.
func (s *runStore) SaveRun(ctx context.Context, run *domain.RetrievalRun) error {
	if run.ID == "" {
		return domain.ErrInvalidInput
	}

	filtersJSON, err := nullableJSON(run.Filters, run.Filters.Empty())
	if err != nil {
		return fmt.Errorf("marshalling filters: %w", err)
	}
	metaJSON, err := nullableJSON(run.Meta, len(run.Meta) == 0)
	if err != nil {
		return fmt.Errorf("marshalling meta: %w", err)
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO retrieval_runs (id, created_at, query, top_n, filters_json, use_fts, use_vector, algo_version, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, formatTime(run.CreatedAt), run.Query, run.TopN, filtersJSON,
		boolToInt(run.UseFTS), boolToInt(run.UseVector), run.AlgoVersion, metaJSON); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	insertHit, err := tx.PrepareContext(ctx, `
		INSERT INTO retrieval_run_hits (run_id, rank, chunk_id, document_id, score, fts_score, vector_distance)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing hit insert: %w", err)
	}
	defer insertHit.Close()

	insertCitation, err := tx.PrepareContext(ctx, `
		INSERT INTO retrieval_run_citations (hit_id, idx, quote, "start", "end", source_url)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing citation insert: %w", err)
	}
	defer insertCitation.Close()

	for _, hit := range run.Hits {
		res, err := insertHit.ExecContext(ctx, run.ID, hit.Rank, hit.ChunkID, hit.DocumentID,
			hit.Score, nullableFloat(hit.FTSScore), nullableFloat(hit.VectorDistance))
		if err != nil {
			return fmt.Errorf("inserting hit rank %d: %w", hit.Rank, err)
		}
		hitID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading hit id: %w", err)
		}
		for _, c := range hit.Citations {
			if _, err := insertCitation.ExecContext(ctx, hitID, c.Idx, c.Quote, c.Start, c.End,
				nullableString(c.SourceURL)); err != nil {
				return fmt.Errorf("inserting citation %d of hit %d: %w", c.Idx, hit.Rank, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetRun loads a run with hits in rank order and citations in idx order.
func (s *runStore) GetRun(ctx context.Context, runID string) (*domain.RetrievalRun, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, created_at, query, top_n, filters_json, use_fts, use_vector, algo_version, meta_json
		FROM retrieval_runs WHERE id = ?
	`, runID)

	run, err := scanRun(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}

	hitRows, err := s.store.db.QueryContext(ctx, `
		SELECT id, rank, chunk_id, document_id, score, fts_score, vector_distance
		FROM retrieval_run_hits
		WHERE run_id = ?
		ORDER BY rank ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying hits: %w", err)
	}
	defer hitRows.Close()

	var hitIDs []int64
	for hitRows.Next() {
		var hitID int64
		var hit domain.RetrievalHit
		var ftsScore, vectorDistance sql.NullFloat64
		if err := hitRows.Scan(&hitID, &hit.Rank, &hit.ChunkID, &hit.DocumentID,
			&hit.Score, &ftsScore, &vectorDistance); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		if ftsScore.Valid {
			v := ftsScore.Float64
			hit.FTSScore = &v
		}
		if vectorDistance.Valid {
			v := vectorDistance.Float64
			hit.VectorDistance = &v
		}
		run.Hits = append(run.Hits, hit)
		hitIDs = append(hitIDs, hitID)
	}
	if err := hitRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hits: %w", err)
	}

	for i, hitID := range hitIDs {
		citations, err := s.loadCitations(ctx, hitID)
		if err != nil {
			return nil, err
		}
		run.Hits[i].Citations = citations
	}

	return run, nil
}

// ListRuns returns run records without hits, newest first.
func (s *runStore) ListRuns(ctx context.Context, limit int) ([]domain.RetrievalRun, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, created_at, query, top_n, filters_json, use_fts, use_vector, algo_version, meta_json
		FROM retrieval_runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RetrievalRun //nolint:prealloc // size unknown from query
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	return runs, nil
}

// loadCitations returns a hit's citations in idx order.
func (s *runStore) loadCitations(ctx context.Context, hitID int64) ([]domain.Citation, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT idx, quote, "start", "end", source_url
		FROM retrieval_run_citations
		WHERE hit_id = ?
		ORDER BY idx ASC
	`, hitID)
	if err != nil {
		return nil, fmt.Errorf("querying citations: %w", err)
	}
	defer rows.Close()

	var citations []domain.Citation //nolint:prealloc // size unknown from query
	for rows.Next() {
		var c domain.Citation
		var sourceURL sql.NullString
		if err := rows.Scan(&c.Idx, &c.Quote, &c.Start, &c.End, &sourceURL); err != nil {
			return nil, fmt.Errorf("scanning citation: %w", err)
		}
		c.SourceURL = sourceURL.String
		citations = append(citations, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating citations: %w", err)
	}

	return citations, nil
}

// scanRun scans the run columns shared by GetRun and ListRuns.
func scanRun(scan func(...any) error) (*domain.RetrievalRun, error) {
	var run domain.RetrievalRun
	var createdAt string
	var filtersJSON, metaJSON sql.NullString
	var useFTS, useVector int
	if err := scan(&run.ID, &createdAt, &run.Query, &run.TopN, &filtersJSON,
		&useFTS, &useVector, &run.AlgoVersion, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	run.CreatedAt = parseTime(createdAt)
	run.UseFTS = useFTS != 0
	run.UseVector = useVector != 0

	if filtersJSON.Valid {
		if err := json.Unmarshal([]byte(filtersJSON.String), &run.Filters); err != nil {
			return nil, fmt.Errorf("unmarshalling filters: %w", err)
		}
	}
	if metaJSON.Valid {
		if err := json.Unmarshal([]byte(metaJSON.String), &run.Meta); err != nil {
			return nil, fmt.Errorf("unmarshalling meta: %w", err)
		}
	}

	return &run, nil
}

func nullableJSON(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
