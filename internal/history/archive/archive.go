package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/sqlagent/sqlagent/internal/history"
	"github.com/sqlagent/sqlagent/internal/storage"
)

const ContentType = "application/vnd.apache.parquet"

// archiveRow is one transcript turn with the invocation columns repeated.
// An invocation without turns is stored as a single row with seq -1.
type archiveRow struct {
	InvocationID    string `parquet:"invocation_id"`
	Question        string `parquet:"question"`
	Status          string `parquet:"status"`
	Answer          string `parquet:"answer"`
	Reason          string `parquet:"reason"`
	Iterations      int32  `parquet:"iterations"`
	ModelCalls      int32  `parquet:"model_calls"`
	StartedAtUnixMs int64  `parquet:"started_at_unix_ms"`
	FinishedUnixMs  int64  `parquet:"finished_at_unix_ms"`
	ElapsedMs       int64  `parquet:"elapsed_ms"`
	Seq             int32  `parquet:"seq"`
	Kind            string `parquet:"kind"`
	Variant         string `parquet:"variant"`
	Content         string `parquet:"content"`
}

type EncodeResult struct {
	Data     []byte
	RowCount int64
}

func Encode(record history.Record) (EncodeResult, error) {
	if record.InvocationID == "" {
		return EncodeResult{}, fmt.Errorf("invocation id is required")
	}

	base := archiveRow{
		InvocationID:    record.InvocationID,
		Question:        record.Question,
		Status:          record.Status,
		Answer:          record.Answer,
		Reason:          record.Reason,
		Iterations:      int32(record.Iterations),
		ModelCalls:      int32(record.ModelCalls),
		StartedAtUnixMs: record.StartedAt.UnixMilli(),
		FinishedUnixMs:  record.FinishedAt.UnixMilli(),
		ElapsedMs:       record.Elapsed.Milliseconds(),
		Seq:             -1,
	}
	rows := make([]archiveRow, 0, max(1, len(record.Turns)))
	for _, turn := range record.Turns {
		row := base
		row.Seq = int32(turn.Seq)
		row.Kind = turn.Kind
		row.Variant = turn.Variant
		row.Content = turn.Content
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		rows = append(rows, base)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[archiveRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return EncodeResult{Data: buf.Bytes(), RowCount: int64(len(rows))}, nil
}

func Decode(data []byte) (history.Record, error) {
	reader := parquet.NewGenericReader[archiveRow](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	total := reader.NumRows()
	if total == 0 {
		return history.Record{}, fmt.Errorf("archive has no rows")
	}
	rows := make([]archiveRow, total)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return history.Record{}, fmt.Errorf("read parquet rows: %w", err)
	}
	rows = rows[:count]

	first := rows[0]
	record := history.Record{
		InvocationID: first.InvocationID,
		Question:     first.Question,
		Status:       first.Status,
		Answer:       first.Answer,
		Reason:       first.Reason,
		Iterations:   int(first.Iterations),
		ModelCalls:   int(first.ModelCalls),
		StartedAt:    time.UnixMilli(first.StartedAtUnixMs).UTC(),
		FinishedAt:   time.UnixMilli(first.FinishedUnixMs).UTC(),
		Elapsed:      time.Duration(first.ElapsedMs) * time.Millisecond,
		Turns:        make([]history.Turn, 0, len(rows)),
	}
	for _, row := range rows {
		if row.Seq < 0 {
			continue
		}
		record.Turns = append(record.Turns, history.Turn{
			Seq:     int(row.Seq),
			Kind:    row.Kind,
			Variant: row.Variant,
			Content: row.Content,
		})
	}
	return record, nil
}

// Sink archives each record as one parquet object in the object store.
type Sink struct {
	store storage.ObjectStore
	now   func() time.Time
}

func NewSink(store storage.ObjectStore) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Sink{store: store, now: time.Now}, nil
}

func (s *Sink) Key(record history.Record) (string, error) {
	finishedAt := record.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = s.now()
	}
	return storage.BuildArchivePath(record.InvocationID, finishedAt)
}

func (s *Sink) Save(ctx context.Context, record history.Record) error {
	key := record.ArchiveKey
	if key == "" {
		var err error
		if key, err = s.Key(record); err != nil {
			return err
		}
	}
	encoded, err := Encode(record)
	if err != nil {
		return err
	}
	if _, err := s.store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: ContentType,
		Metadata: map[string]string{
			"invocation-id": record.InvocationID,
			"status":        record.Status,
		},
	}); err != nil {
		return fmt.Errorf("archive invocation %s: %w", record.InvocationID, err)
	}
	return nil
}

func (s *Sink) Load(ctx context.Context, key string) (history.Record, error) {
	reader, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return history.Record{}, history.ErrNotFound
		}
		return history.Record{}, err
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return history.Record{}, fmt.Errorf("read archive %q: %w", key, err)
	}
	record, err := Decode(data)
	if err != nil {
		return history.Record{}, fmt.Errorf("decode archive %q: %w", key, err)
	}
	record.ArchiveKey = key
	return record, nil
}

// Prune deletes archived transcripts whose partition day is before the day
// of cutoff. Keys outside the archive layout are left alone.
func (s *Sink) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	objects, err := s.store.List(ctx, storage.ArchiveRoot+"/")
	if err != nil {
		return 0, err
	}
	cutoffDay := cutoff.UTC().Truncate(24 * time.Hour)

	deleted := 0
	for _, obj := range objects {
		day, ok := storage.ParseArchiveDate(obj.Key)
		if !ok || !day.Before(cutoffDay) {
			continue
		}
		if err := s.store.Delete(ctx, obj.Key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
