package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

// AuditSource is the part of the audit store the archiver drains.
type AuditSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
	DeleteThrough(ctx context.Context, before time.Time, maxID int64) (int64, error)
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Blobs is the object storage the archiver writes to.
type Blobs interface {
	domain.BlobWriter
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// Archiver moves old audit entries into monthly JSONL objects and then
// deletes them from the database.
type Archiver struct {
	blobs    Blobs
	audit    AuditSource
	partSize int64
}

// NewArchiver creates an Archiver.
func NewArchiver(blobs Blobs, audit AuditSource) *Archiver {
	return &Archiver{blobs: blobs, audit: audit, partSize: minPartSize}
}

// ArchiveAudit uploads entries created before the cutoff, grouped by the
// month they were created in, to archive/audit/YYYY-MM.jsonl. An existing
// monthly object is extended rather than replaced. Rows are deleted only
// after every upload succeeded. It returns the number of archived entries.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var (
		months []string
		byPath = make(map[string][]domain.AuditEntry)
		maxID  int64
	)
	for _, e := range entries {
		path := archivePath("audit", e.CreatedAt)
		if _, ok := byPath[path]; !ok {
			months = append(months, path)
		}
		byPath[path] = append(byPath[path], e)
		maxID = max(maxID, e.ID)
	}

	for _, path := range months {
		if err := a.appendJSONL(ctx, path, byPath[path]); err != nil {
			return 0, err
		}
	}

	count := int64(len(entries))
	if _, err := a.audit.DeleteThrough(ctx, before, maxID); err != nil {
		return count, fmt.Errorf("s3blob: archive audit prune: %w", err)
	}
	if err := a.audit.Log(ctx, domain.AuditArchive, map[string]any{
		"objects": months,
		"count":   count,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

func (a *Archiver) appendJSONL(ctx context.Context, path string, entries []domain.AuditEntry) error {
	var buf bytes.Buffer

	existing, err := a.blobs.Get(ctx, path)
	switch {
	case err == nil:
		_, err = io.Copy(&buf, existing)
		existing.Close()
		if err != nil {
			return fmt.Errorf("s3blob: read %s: %w", path, err)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("s3blob: archive audit: %w", err)
	}

	if err := writeJSONL(&buf, entries); err != nil {
		return fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	if int64(buf.Len()) > a.partSize {
		err = a.blobs.PutMultipart(ctx, path, &buf, a.partSize)
	} else {
		err = a.blobs.Put(ctx, path, &buf, "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive audit upload: %w", err)
	}
	return nil
}

// archivePath builds the object key for a month of records, e.g.
// archive/audit/2026-01.jsonl.
func archivePath(kind string, t time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, t.UTC().Format("2006-01"))
}

// writeJSONL appends one compact JSON line per record.
func writeJSONL[T any](w io.Writer, records []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return nil
}

var _ domain.Archiver = (*Archiver)(nil)
