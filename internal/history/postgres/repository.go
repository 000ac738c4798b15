package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sqlagent/sqlagent/internal/history"
)

const DefaultListLimit = 50

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

// Save writes the invocation and its turns in one transaction. Saving the
// same invocation twice is a no-op.
func (r *Repository) Save(ctx context.Context, record history.Record) error {
	if record.InvocationID == "" {
		return fmt.Errorf("invocation id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
INSERT INTO invocation (invocation_id, question, status, answer, reason, iterations, model_calls, started_at, finished_at, elapsed_ms, archive_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))
ON CONFLICT (invocation_id) DO NOTHING`,
		record.InvocationID,
		record.Question,
		record.Status,
		record.Answer,
		record.Reason,
		record.Iterations,
		record.ModelCalls,
		record.StartedAt.UTC(),
		record.FinishedAt.UTC(),
		record.Elapsed.Milliseconds(),
		record.ArchiveKey,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert invocation rows affected: %w", err)
	}
	if inserted == 0 {
		return nil
	}

	for _, turn := range record.Turns {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO invocation_turn (invocation_id, seq, kind, variant, content)
VALUES ($1, $2, $3, $4, $5)`, record.InvocationID, turn.Seq, turn.Kind, turn.Variant, turn.Content); err != nil {
			return fmt.Errorf("insert invocation turn %d: %w", turn.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit invocation: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, invocationID string) (history.Record, error) {
	query := `
SELECT invocation_id, question, status, answer, reason, iterations, model_calls, started_at, finished_at, elapsed_ms, COALESCE(archive_key, '')
FROM invocation
WHERE invocation_id = $1`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, invocationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return history.Record{}, history.ErrNotFound
		}
		return history.Record{}, fmt.Errorf("get invocation: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT seq, kind, variant, content
FROM invocation_turn
WHERE invocation_id = $1
ORDER BY seq ASC`, invocationID)
	if err != nil {
		return history.Record{}, fmt.Errorf("list invocation turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	record.Turns = make([]history.Turn, 0)
	for rows.Next() {
		var turn history.Turn
		if err := rows.Scan(&turn.Seq, &turn.Kind, &turn.Variant, &turn.Content); err != nil {
			return history.Record{}, fmt.Errorf("scan invocation turn: %w", err)
		}
		record.Turns = append(record.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return history.Record{}, fmt.Errorf("iterate invocation turns: %w", err)
	}
	return record, nil
}

// ListRecent returns the newest invocations without their turns.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT invocation_id, question, status, answer, reason, iterations, model_calls, started_at, finished_at, elapsed_ms, COALESCE(archive_key, '')
FROM invocation
ORDER BY finished_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]history.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invocation row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocation rows: %w", err)
	}
	return records, nil
}

// DeleteOlderThan removes invocations finished before cutoff. Turns go with
// them through the foreign key cascade.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM invocation
WHERE finished_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete invocations: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete invocations rows affected: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (history.Record, error) {
	var (
		record    history.Record
		elapsedMS int64
	)
	if err := row.Scan(
		&record.InvocationID,
		&record.Question,
		&record.Status,
		&record.Answer,
		&record.Reason,
		&record.Iterations,
		&record.ModelCalls,
		&record.StartedAt,
		&record.FinishedAt,
		&elapsedMS,
		&record.ArchiveKey,
	); err != nil {
		return history.Record{}, err
	}
	record.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return record, nil
}
