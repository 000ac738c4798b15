package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sqlagent/sqlagent/internal/history"
)

const insertInvocationSQL = `
INSERT INTO invocation (invocation_id, question, status, answer, reason, iterations, model_calls, started_at, finished_at, elapsed_ms, archive_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))
ON CONFLICT (invocation_id) DO NOTHING`

const insertTurnSQL = `
INSERT INTO invocation_turn (invocation_id, seq, kind, variant, content)
VALUES ($1, $2, $3, $4, $5)`

const selectInvocationColumns = `invocation_id, question, status, answer, reason, iterations, model_calls, started_at, finished_at, elapsed_ms, COALESCE(archive_key, '')`

var invocationColumns = []string{"invocation_id", "question", "status", "answer", "reason", "iterations", "model_calls", "started_at", "finished_at", "elapsed_ms", "archive_key"}

func sampleRecord(now time.Time) history.Record {
	return history.Record{
		InvocationID: "inv-1",
		Question:     "What is the average rating for Python?",
		Status:       "answered",
		Answer:       "4",
		Iterations:   1,
		ModelCalls:   2,
		StartedAt:    now.Add(-1500 * time.Millisecond),
		FinishedAt:   now,
		Elapsed:      1500 * time.Millisecond,
		ArchiveKey:   "invocations/date=2026-02-20/inv-1.parquet",
		Turns: []history.Turn{
			{Seq: 0, Kind: "action", Variant: "run_query", Content: "SELECT AVG(rating) FROM userskillandratings WHERE skill = 'Python'"},
			{Seq: 1, Kind: "observation", Variant: "rows", Content: "avg\n4"},
			{Seq: 2, Kind: "action", Variant: "final_answer", Content: "4"},
		},
	}
}

func TestSaveWritesInvocationAndTurnsInTransaction(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Date(2026, time.February, 20, 10, 0, 0, 0, time.UTC)
	record := sampleRecord(now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertInvocationSQL)).
		WithArgs("inv-1", record.Question, "answered", "4", "", 1, 2, record.StartedAt, now, int64(1500), record.ArchiveKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, turn := range record.Turns {
		mock.ExpectExec(regexp.QuoteMeta(insertTurnSQL)).
			WithArgs("inv-1", turn.Seq, turn.Kind, turn.Variant, turn.Content).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestSaveSkipsTurnsForDuplicateInvocation(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	record := sampleRecord(time.Now().UTC())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertInvocationSQL)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestSaveRollsBackOnTurnFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	record := sampleRecord(time.Now().UTC())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertInvocationSQL)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertTurnSQL)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if err := repo.Save(context.Background(), record); err == nil {
		t.Fatal("expected error")
	}
	assertSQLMock(t, mock)
}

func TestSaveRequiresInvocationID(t *testing.T) {
	db, mock := newSQLMock(t)
	if err := NewRepository(db).Save(context.Background(), history.Record{}); err == nil {
		t.Fatal("expected error for missing invocation id")
	}
	assertSQLMock(t, mock)
}

func TestGetReturnsRecordWithTurns(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Date(2026, time.February, 20, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT ` + selectInvocationColumns + `
FROM invocation
WHERE invocation_id = $1`)).
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows(invocationColumns).
			AddRow("inv-1", "q", "exhausted", "", "agent stopped due to iteration limit or time limit", 10, 10, now.Add(-time.Minute), now, int64(60000), ""))
	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT seq, kind, variant, content
FROM invocation_turn
WHERE invocation_id = $1
ORDER BY seq ASC`)).
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "kind", "variant", "content"}).
			AddRow(0, "action", "malformed", "hmm").
			AddRow(1, "observation", "parse_error", "Check your output and make sure it conforms to the expected format!"))

	record, err := repo.Get(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record.Status != "exhausted" || record.Elapsed != time.Minute {
		t.Fatalf("record = %#v", record)
	}
	if len(record.Turns) != 2 || record.Turns[1].Variant != "parse_error" {
		t.Fatalf("Turns = %#v", record.Turns)
	}
	assertSQLMock(t, mock)
}

func TestGetReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM invocation
WHERE invocation_id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestListRecentDefaultsLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT ` + selectInvocationColumns + `
FROM invocation
ORDER BY finished_at DESC
LIMIT $1`)).
		WithArgs(DefaultListLimit).
		WillReturnRows(sqlmock.NewRows(invocationColumns).
			AddRow("inv-2", "q2", "failed", "", "model unavailable", 0, 1, now, now, int64(12), "").
			AddRow("inv-1", "q1", "answered", "4", "", 1, 2, now, now, int64(900), "invocations/date=2026-02-20/inv-1.parquet"))

	records, err := repo.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(records) != 2 || records[0].InvocationID != "inv-2" || records[1].ArchiveKey == "" {
		t.Fatalf("records = %#v", records)
	}
	assertSQLMock(t, mock)
}

func TestDeleteOlderThan(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	cutoff := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM invocation
WHERE finished_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := repo.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 7 {
		t.Fatalf("deleted = %d, want 7", deleted)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
