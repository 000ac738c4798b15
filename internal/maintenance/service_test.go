package maintenance

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sqlagent/sqlagent/internal/history"
	"github.com/sqlagent/sqlagent/internal/storage"
)

func TestRunRetentionOnceDeletesHistoryAndArchives(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	historyStore := &fakeHistory{deleted: 4}
	pruner := &fakePruner{deleted: 3}
	svc := &Service{
		History: historyStore,
		Archive: pruner,
		Config:  Config{RetentionAge: 48 * time.Hour},
		Clock:   func() time.Time { return now },
	}

	summary, err := svc.RunRetentionOnce(context.Background())
	if err != nil {
		t.Fatalf("RunRetentionOnce() error = %v", err)
	}
	wantCutoff := now.Add(-48 * time.Hour)
	if !historyStore.cutoff.Equal(wantCutoff) || !pruner.cutoff.Equal(wantCutoff) {
		t.Fatalf("cutoffs = %v / %v, want %v", historyStore.cutoff, pruner.cutoff, wantCutoff)
	}
	if summary.InvocationsDeleted != 4 || summary.ArchivesDeleted != 3 || summary.Failures != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunRetentionOnceReportsFailuresButKeepsGoing(t *testing.T) {
	historyStore := &fakeHistory{deleteErr: errors.New("connection refused")}
	pruner := &fakePruner{deleted: 2}
	svc := &Service{History: historyStore, Archive: pruner}

	summary, err := svc.RunRetentionOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "delete invocations") {
		t.Fatalf("RunRetentionOnce() error = %v", err)
	}
	if summary.Failures != 1 || summary.ArchivesDeleted != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if svc.Config.RetentionAge != DefaultRetentionAge {
		t.Fatalf("RetentionAge = %s", svc.Config.RetentionAge)
	}
}

func TestRunRetentionOnceRequiresHistory(t *testing.T) {
	if _, err := (&Service{}).RunRetentionOnce(context.Background()); err == nil {
		t.Fatal("expected error without history store")
	}
}

func TestRunIntegrityCheckOnceCountsMissingArchives(t *testing.T) {
	svc := &Service{
		History: &fakeHistory{recent: []history.Record{
			{InvocationID: "a", ArchiveKey: "invocations/date=2026-02-01/a.parquet"},
			{InvocationID: "b", ArchiveKey: "invocations/date=2026-02-01/b.parquet"},
			{InvocationID: "c"},
		}},
		ObjectStore: &fakeObjectStore{existing: map[string]bool{"invocations/date=2026-02-01/a.parquet": true}},
	}

	summary, err := svc.RunIntegrityCheckOnce(context.Background())
	if err != nil {
		t.Fatalf("RunIntegrityCheckOnce() error = %v", err)
	}
	if summary.InvocationsScanned != 3 || summary.ArchivesChecked != 2 || summary.MissingArchives != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunIntegrityCheckOnceReportsStatFailures(t *testing.T) {
	svc := &Service{
		History:     &fakeHistory{recent: []history.Record{{InvocationID: "a", ArchiveKey: "invocations/date=2026-02-01/a.parquet"}}},
		ObjectStore: &fakeObjectStore{statErr: errors.New("access denied")},
	}

	summary, err := svc.RunIntegrityCheckOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if summary.OperationalFailures != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &Service{History: &fakeHistory{}, ObjectStore: &fakeObjectStore{}}
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

type fakeHistory struct {
	recent    []history.Record
	deleted   int64
	deleteErr error
	cutoff    time.Time
}

func (f *fakeHistory) ListRecent(_ context.Context, _ int) ([]history.Record, error) {
	return f.recent, nil
}

func (f *fakeHistory) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.deleteErr
}

type fakePruner struct {
	deleted int
	cutoff  time.Time
}

func (f *fakePruner) Prune(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return f.deleted, nil
}

type fakeObjectStore struct {
	existing map[string]bool
	statErr  error
}

func (f *fakeObjectStore) Put(_ context.Context, key string, _ io.Reader, size int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (f *fakeObjectStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func (f *fakeObjectStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	if f.statErr != nil {
		return storage.ObjectInfo{}, f.statErr
	}
	if !f.existing[key] {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key}, nil
}

func (f *fakeObjectStore) Delete(context.Context, string) error {
	return nil
}

func (f *fakeObjectStore) List(context.Context, string) ([]storage.ObjectInfo, error) {
	return nil, nil
}
