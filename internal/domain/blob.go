package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies settled history from the database to cold storage.
type Archiver interface {
	// ArchiveDay exports every transaction created on the UTC day containing
	// day and returns how many were written.
	ArchiveDay(ctx context.Context, day time.Time) (int64, error)
	// ArchivedDays lists the UTC days that already have an archive object.
	ArchivedDays(ctx context.Context) ([]time.Time, error)
}
