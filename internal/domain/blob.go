package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves audit entries older than a cutoff into cold storage and
// returns how many were moved.
type Archiver interface {
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}
