package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sqlagent/sqlagent/internal/history"
	"github.com/sqlagent/sqlagent/internal/storage"
)

type memoryStore struct {
	objects  map[string][]byte
	metadata map[string]map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	m.metadata[key] = opts.Metadata
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func sampleRecord() history.Record {
	finished := time.Date(2026, time.February, 20, 9, 30, 0, 0, time.UTC)
	return history.Record{
		InvocationID: "inv-42",
		Question:     "Which users are in IT?",
		Status:       "answered",
		Answer:       "Alice Smith and Charlie Brown",
		Iterations:   1,
		ModelCalls:   2,
		StartedAt:    finished.Add(-2 * time.Second),
		FinishedAt:   finished,
		Elapsed:      2 * time.Second,
		Turns: []history.Turn{
			{Seq: 0, Kind: "action", Variant: "run_query", Content: "SELECT u.name FROM usermaster u JOIN department d ON u.department_id = d.id WHERE d.name = 'IT'"},
			{Seq: 1, Kind: "observation", Variant: "rows", Content: "name\nAlice Smith\nCharlie Brown"},
			{Seq: 2, Kind: "action", Variant: "final_answer", Content: "Alice Smith and Charlie Brown"},
		},
	}
}

func TestEncodeDecodeKeepsTurnOrder(t *testing.T) {
	record := sampleRecord()
	encoded, err := Encode(record)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if encoded.RowCount != 3 || len(encoded.Data) == 0 {
		t.Fatalf("encoded = %d rows, %d bytes", encoded.RowCount, len(encoded.Data))
	}

	decoded, err := Decode(encoded.Data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.InvocationID != "inv-42" || decoded.Answer != record.Answer || !decoded.FinishedAt.Equal(record.FinishedAt) {
		t.Fatalf("decoded = %#v", decoded)
	}
	if len(decoded.Turns) != 3 || decoded.Turns[1].Content != "name\nAlice Smith\nCharlie Brown" {
		t.Fatalf("Turns = %#v", decoded.Turns)
	}
}

func TestEncodeWithoutTurnsWritesHeaderRow(t *testing.T) {
	record := history.Record{InvocationID: "inv-0", Status: "failed", Reason: "model unavailable"}
	encoded, err := Encode(record)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if encoded.RowCount != 1 {
		t.Fatalf("RowCount = %d", encoded.RowCount)
	}
	decoded, err := Decode(encoded.Data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Reason != "model unavailable" || len(decoded.Turns) != 0 {
		t.Fatalf("decoded = %#v", decoded)
	}

	if _, err := Encode(history.Record{}); err == nil {
		t.Fatal("expected error for missing invocation id")
	}
}

func TestSinkSavesUnderDatePartitionAndLoads(t *testing.T) {
	store := newMemoryStore()
	sink, err := NewSink(store)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}

	record := sampleRecord()
	if err := sink.Save(context.Background(), record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	key := "invocations/date=2026-02-20/inv-42.parquet"
	if _, ok := store.objects[key]; !ok {
		t.Fatalf("objects = %v, want %q", store.objects, key)
	}
	if store.metadata[key]["status"] != "answered" {
		t.Fatalf("metadata = %#v", store.metadata[key])
	}

	loaded, err := sink.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ArchiveKey != key || len(loaded.Turns) != 3 {
		t.Fatalf("loaded = %#v", loaded)
	}

	if _, err := sink.Load(context.Background(), "invocations/date=2026-02-20/missing.parquet"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestPruneDeletesPartitionsBeforeCutoffDay(t *testing.T) {
	store := newMemoryStore()
	store.objects["invocations/date=2026-01-01/a.parquet"] = []byte("a")
	store.objects["invocations/date=2026-01-31/b.parquet"] = []byte("b")
	store.objects["invocations/date=2026-02-01/c.parquet"] = []byte("c")
	store.objects["invocations/readme.txt"] = []byte("keep")
	sink, err := NewSink(store)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}

	deleted, err := sink.Prune(context.Background(), time.Date(2026, time.February, 1, 15, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	if _, ok := store.objects["invocations/date=2026-02-01/c.parquet"]; !ok {
		t.Fatal("cutoff day partition should be kept")
	}
	if _, ok := store.objects["invocations/readme.txt"]; !ok {
		t.Fatal("non-partition keys should be kept")
	}
}
