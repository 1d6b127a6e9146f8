package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// archiveBatchLimit bounds one archival query. The fee ledger is
// append-only, so repeated runs with advancing cutoffs drain it in order.
const archiveBatchLimit = 10_000

// FeeArchiveStore is the narrow read access the archiver needs; the fee
// stores satisfy it through ListSince.
type FeeArchiveStore interface {
	ListSince(ctx context.Context, since time.Time, limit int) ([]domain.FeeRecord, error)
}

// Archiver serializes fee records to NDJSON and uploads them to object
// storage. Records are never deleted from the primary store here; pruning
// is a separate, explicit step after an archive is verified.
type Archiver struct {
	writer *Writer
	fees   FeeArchiveStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer *Writer, fees FeeArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		fees:   fees,
		logger: logger,
	}
}

// ArchiveFees uploads fee records created at or after since to
// archive/fees/YYYY-MM-DD.jsonl and returns the archived count.
func (a *Archiver) ArchiveFees(ctx context.Context, since time.Time) (int64, error) {
	records, err := a.fees.ListSince(ctx, since, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fees query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fees marshal: %w", err)
	}

	path := archivePath("fees", since)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive fees upload: %w", err)
	}

	count := int64(len(records))
	a.logger.InfoContext(ctx, "s3blob: fee records archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the day
// of the cutoff time.
func archivePath(kind string, since time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, since.Format("2006-01-02"))
}

// marshalJSONL serializes records as newline-delimited JSON, one compact
// line per record.
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
