package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
)

// lexicalIndex implements driven.LexicalIndex over the chunks_fts FTS5
// table. Index membership is maintained by the triggers in the schema, so
// every chunk write carries its lexical entry in the same transaction; this
// type only reads and rebuilds.
type lexicalIndex struct {
	store *Store
}

var _ driven.LexicalIndex = (*lexicalIndex)(nil)

// Search runs a BM25 keyword query. The raw query is compiled into an FTS5
// match expression (quoted phrases kept, bare words quoted) so user input
// can never produce an FTS5 syntax error. Scores are negated bm25() values:
// higher is better.
func (l *lexicalIndex) Search(ctx context.Context, query string, limit int, filter domain.RetrievalFilter) ([]driven.SearchHit, error) {
	match := buildMatchExpr(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	where := []string{"chunks_fts MATCH ?"}
	params := []any{match}

	if filter.DocumentID != "" {
		where = append(where, "c.document_id = ?")
		params = append(params, filter.DocumentID)
	}
	if filter.MIME != "" {
		where = append(where, "d.mime = ?")
		params = append(params, filter.MIME)
	}
	if filter.DateFrom != "" {
		where = append(where, "substr(d.created_at, 1, 10) >= ?")
		params = append(params, filter.DateFrom)
	}
	if filter.DateTo != "" {
		where = append(where, "substr(d.created_at, 1, 10) <= ?")
		params = append(params, filter.DateTo)
	}
	params = append(params, limit)

	rows, err := l.store.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, -bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON chunks_fts.rowid = c.rowid
		JOIN documents d ON c.document_id = d.id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY bm25(chunks_fts) ASC, c.id ASC
		LIMIT ?
	`, params...)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w: %v", domain.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var hits []driven.SearchHit //nolint:prealloc // size unknown from query
	for rows.Next() {
		var hit driven.SearchHit
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scanning fts hit: %w", err)
		}
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fts hits: %w: %v", domain.ErrIndexUnavailable, err)
	}

	return hits, nil
}

// Rebuild reconstructs the FTS5 index from the chunks table.
func (l *lexicalIndex) Rebuild(ctx context.Context) error {
	if _, err := l.store.db.ExecContext(ctx,
		"INSERT INTO chunks_fts(chunks_fts) VALUES ('rebuild')"); err != nil {
		return fmt.Errorf("rebuilding fts index: %w: %v", domain.ErrIndexUnavailable, err)
	}
	return nil
}

// buildMatchExpr compiles a raw user query into a safe FTS5 match
// expression. Phrases in double quotes stay phrases; every other
// whitespace-delimited token becomes a quoted term. Terms are ANDed
// implicitly by FTS5.
func buildMatchExpr(query string) string {
	var terms []string
	rest := query
	for {
		open := strings.Index(rest, `"`)
		if open < 0 {
			break
		}
		end := strings.Index(rest[open+1:], `"`)
		if end < 0 {
			break
		}
		phrase := rest[open+1 : open+1+end]
		for _, w := range strings.Fields(rest[:open]) {
			terms = append(terms, quoteTerm(w))
		}
		if p := strings.TrimSpace(phrase); p != "" {
			terms = append(terms, `"`+strings.ReplaceAll(p, `"`, `""`)+`"`)
		}
		rest = rest[open+end+2:]
	}
	for _, w := range strings.Fields(rest) {
		terms = append(terms, quoteTerm(w))
	}
	return strings.Join(terms, " ")
}

func quoteTerm(w string) string {
	return `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
}
