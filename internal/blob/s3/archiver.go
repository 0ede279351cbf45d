package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// HistoryArchiveStore provides read access to funding history for archival
// purposes. The Postgres FundingHistoryStore satisfies it.
type HistoryArchiveStore interface {
	// ListBefore returns all outcomes with a timestamp strictly before the
	// given cutoff time, oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.FundingOutcome, error)
}

// ArchiveImpl implements domain.Archiver. It exports funding history to
// JSONL files in object storage and records each export in the audit log.
//
// Deletion of archived rows is NOT performed here. The caller deletes only
// after the upload has succeeded.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	history HistoryArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, history HistoryArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		history: history,
		audit:   audit,
	}
}

// ArchiveFundingHistory uploads every outcome older than before to
// archive/funding_history/YYYY-MM/<cutoff>.jsonl and returns the number of
// records archived. Nothing is uploaded when there is nothing to archive.
func (a *ArchiveImpl) ArchiveFundingHistory(ctx context.Context, before time.Time) (int64, error) {
	outcomes, err := a.history.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive funding history query: %w", err)
	}
	if len(outcomes) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(outcomes)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive funding history marshal: %w", err)
	}

	path := archivePath("funding_history", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive funding history upload: %w", err)
	}

	count := int64(len(outcomes))

	if err := a.audit.Log(ctx, "archive.funding_history", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive funding history audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff and named by the cutoff itself so repeated runs
// within a month do not overwrite each other.
//
//	archive/funding_history/2025-01/20250115T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
