package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	archivePageSize  = 500
)

var _ domain.Archiver = (*TransactionArchiver)(nil)

// ArchiverOptions configures a TransactionArchiver.
type ArchiverOptions struct {
	// Prefix is the key prefix, e.g. "transactions".
	Prefix string
	// Overwrite re-uploads days that already have an object, merging the
	// stored rows with the current ones.
	Overwrite bool
}

// TransactionArchiver exports one UTC day of transactions as JSONL to
// {prefix}/YYYY/MM/DD.jsonl. Rows are never removed from the database.
type TransactionArchiver struct {
	txs    domain.TransactionStore
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	opts   ArchiverOptions
	logger *slog.Logger
}

// NewArchiver wires an archiver. reader and audit may be nil.
func NewArchiver(txs domain.TransactionStore, writer domain.BlobWriter, reader domain.BlobReader,
	audit domain.AuditStore, opts ArchiverOptions, logger *slog.Logger) *TransactionArchiver {
	return &TransactionArchiver{
		txs:    txs,
		writer: writer,
		reader: reader,
		audit:  audit,
		opts:   opts,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveDay uploads every transaction whose timestamp falls on day's UTC
// date. When the object already exists and Overwrite is off it uploads
// nothing and returns 0. With Overwrite on, stored rows missing from the
// database are kept and the rest are replaced by their current state.
func (a *TransactionArchiver) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	d := day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	key := ArchiveKey(a.opts.Prefix, start)

	if !a.opts.Overwrite && a.reader != nil {
		exists, err := a.reader.Exists(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", key, err)
		}
		if exists {
			a.logger.InfoContext(ctx, "archive exists, skipping", slog.String("key", key))
			return 0, nil
		}
	}

	var all []domain.Transaction
	for offset := 0; ; offset += archivePageSize {
		batch, err := a.txs.List(ctx, domain.TransactionFilter{}, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: offset,
			Since:  &start,
			Until:  &end,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive query %s: %w", start.Format(time.DateOnly), err)
		}
		all = append(all, batch...)
		if len(batch) < archivePageSize {
			break
		}
	}
	if len(all) == 0 {
		return 0, nil
	}

	if a.opts.Overwrite && a.reader != nil {
		stored, err := a.readArchive(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", key, err)
		}
		all = mergeTransactions(stored, all)
	}

	// Oldest first reads naturally in a log file.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].ID < all[j].ID
		}
		return all[i].Timestamp.Before(all[j].Timestamp)
	})

	buf, err := marshalJSONL(all)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	count := int64(len(all))
	a.logger.InfoContext(ctx, "archived transactions",
		slog.String("key", key),
		slog.Int64("count", count),
		slog.Int("bytes", len(buf)),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.transactions", map[string]any{
			"key":   key,
			"count": count,
			"day":   start.Format(time.DateOnly),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit: %w", err)
		}
	}
	return count, nil
}

// ArchivedDays lists the days stored under the prefix, oldest first. Keys
// that do not follow the archive layout are ignored.
func (a *TransactionArchiver) ArchivedDays(ctx context.Context) ([]time.Time, error) {
	if a.reader == nil {
		return nil, nil
	}
	prefix := strings.TrimSuffix(a.opts.Prefix, "/")
	infos, err := a.reader.List(ctx, prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: archived days: %w", err)
	}
	days := make([]time.Time, 0, len(infos))
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Path, prefix+"/")
		day, err := time.Parse("2006/01/02.jsonl", rest)
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// readArchive decodes the stored object at key. A missing object is empty.
func (a *TransactionArchiver) readArchive(ctx context.Context, key string) ([]domain.Transaction, error) {
	body, err := a.reader.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return unmarshalJSONL[domain.Transaction](body)
}

// mergeTransactions keeps stored rows and replaces those present in current.
func mergeTransactions(stored, current []domain.Transaction) []domain.Transaction {
	seen := make(map[string]bool, len(current))
	for _, tx := range current {
		seen[tx.ID] = true
	}
	out := current
	for _, tx := range stored {
		if !seen[tx.ID] {
			out = append(out, tx)
		}
	}
	return out
}

// ArchiveKey is the object key for the UTC day containing day.
//
//	transactions/2026/03/14.jsonl
func ArchiveKey(prefix string, day time.Time) string {
	d := day.UTC()
	return path.Join(prefix, d.Format("2006"), d.Format("01"), d.Format("02")+".jsonl")
}

// marshalJSONL encodes records one compact JSON object per line.
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

// unmarshalJSONL decodes one JSON object per line.
func unmarshalJSONL[T any](r io.Reader) ([]T, error) {
	dec := json.NewDecoder(r)
	var out []T
	for {
		var rec T
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("jsonl decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}
