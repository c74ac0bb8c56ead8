package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/lexcore/internal/core/domain"
	"github.com/custodia-labs/lexcore/internal/core/ports/driven"
	"github.com/custodia-labs/lexcore/internal/core/ports/driving"
	"github.com/custodia-labs/lexcore/internal/logger"
)

// Ensure AuditService implements the interface.
var _ driving.AuditService = (*AuditService)(nil)

// AuditService records generation events in the append-only audit log.
type AuditService struct {
	auditStore driven.AuditStore
	runStore   driven.RunStore
}

// NewAuditService creates a new audit service.
// The runStore validates run references; it can be nil to skip that check.
func NewAuditService(auditStore driven.AuditStore, runStore driven.RunStore) *AuditService {
	return &AuditService{
		auditStore: auditStore,
		runStore:   runStore,
	}
}

// Append canonicalizes the request payloads, hashes the output and
// persists the entry. Returns the assigned entry ID.
func (s *AuditService) Append(ctx context.Context, req driving.AuditRequest) (int64, error) {
	if strings.TrimSpace(req.Event) == "" {
		return 0, fmt.Errorf("%w: audit event is required", domain.ErrInvalidInput)
	}

	if req.RetrievalRunID != "" && s.runStore != nil {
		if _, err := s.runStore.GetRun(ctx, req.RetrievalRunID); err != nil {
			return 0, fmt.Errorf("audit run reference: %w", err)
		}
	}

	params, err := canonicalJSON(req.Params)
	if err != nil {
		return 0, fmt.Errorf("canonicalize params: %w", err)
	}
	output, err := canonicalJSON(req.Output)
	if err != nil {
		return 0, fmt.Errorf("canonicalize output: %w", err)
	}

	entry := &domain.AuditEntry{
		CreatedAt:      time.Now().UTC(),
		Event:          req.Event,
		Model:          req.Model,
		PackVersion:    req.PackVersion,
		RetrievalRunID: req.RetrievalRunID,
		Params:         params,
		Output:         output,
		OutputSHA256:   hashHex(output),
	}

	id, err := s.auditStore.AppendEntry(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	logger.Debug("Audit entry %d recorded (event %q)", id, req.Event)
	return id, nil
}

// Verify recomputes the hash of the stored output and compares it to the
// recorded digest. False means the payload was modified after writing.
func (s *AuditService) Verify(ctx context.Context, entryID int64) (bool, error) {
	entry, err := s.auditStore.GetEntry(ctx, entryID)
	if err != nil {
		return false, fmt.Errorf("get audit entry %d: %w", entryID, err)
	}

	// Re-canonicalize before hashing so cosmetic JSON edits (key order,
	// whitespace) are not mistaken for integrity failures, while any
	// value change is.
	var payload any
	if err := json.Unmarshal([]byte(entry.Output), &payload); err != nil {
		return false, fmt.Errorf("%w: stored output is not valid JSON: %w", domain.ErrAuditVerification, err)
	}
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrAuditVerification, err)
	}

	return hashHex(canonical) == entry.OutputSHA256, nil
}

// List returns recorded entries, newest first.
func (s *AuditService) List(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	entries, err := s.auditStore.ListEntries(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// canonicalJSON serializes v deterministically: object keys sorted, no
// insignificant whitespace. Equal data always yields equal bytes, which
// is what makes the stored hashes meaningful.
func canonicalJSON(v any) (string, error) {
	// Round-trip through the generic representation so struct field
	// order does not leak into the encoding; encoding/json writes map
	// keys in sorted order.
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("remarshal: %w", err)
	}
	return string(out), nil
}

// hashHex returns the lowercase hex sha256 of s.
func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
