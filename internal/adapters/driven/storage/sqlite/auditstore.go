package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
)

// auditStore implements driven.AuditStore. Append-only: no UPDATE or DELETE
// statement exists in this file, matching the interface contract.
type auditStore struct {
	store *Store
}

var _ driven.AuditStore = (*auditStore)(nil)

// AppendEntry inserts the entry and returns its assigned ID.
func (s *auditStore) AppendEntry(ctx context.Context, entry *domain.AuditEntry) (int64, error) {
	res, err := s.store.db.ExecContext(ctx, `
		INSERT INTO audit_log (created_at, event, model, pack_version, retrieval_run_id, params_json, output_json, output_sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, formatTime(entry.CreatedAt), entry.Event, entry.Model, entry.PackVersion,
		nullableString(entry.RetrievalRunID), entry.Params, entry.Output, entry.OutputSHA256)
	if err != nil {
		return 0, fmt.Errorf("appending audit entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading audit entry id: %w", err)
	}
	return id, nil
}

// GetEntry loads an entry by ID.
func (s *auditStore) GetEntry(ctx context.Context, id int64) (*domain.AuditEntry, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, created_at, event, model, pack_version, retrieval_run_id, params_json, output_json, output_sha256
		FROM audit_log WHERE id = ?
	`, id)

	entry, err := scanAuditEntry(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListEntries returns entries, newest first.
func (s *auditStore) ListEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, created_at, event, model, pack_version, retrieval_run_id, params_json, output_json, output_sha256
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry //nolint:prealloc // size unknown from query
	for rows.Next() {
		entry, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return entries, nil
}

// scanAuditEntry scans the audit columns shared by GetEntry and ListEntries.
func scanAuditEntry(scan func(...any) error) (*domain.AuditEntry, error) {
	var entry domain.AuditEntry
	var createdAt string
	var runID sql.NullString
	if err := scan(&entry.ID, &createdAt, &entry.Event, &entry.Model, &entry.PackVersion,
		&runID, &entry.Params, &entry.Output, &entry.OutputSHA256); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning audit entry: %w", err)
	}
	entry.CreatedAt = parseTime(createdAt)
	entry.RetrievalRunID = runID.String
	return &entry, nil
}
