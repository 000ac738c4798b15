package postgres

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sqlagent/sqlagent/internal/query"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestNewGatewayAppliesPostgresDefaults(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gateway := NewGateway(db, query.Options{ReadOnly: true, RowLimit: 50})
	opts := gateway.Options()
	if opts.Dialect != Dialect {
		t.Fatalf("Dialect = %q", opts.Dialect)
	}
	if opts.SchemaName != DefaultSchema {
		t.Fatalf("SchemaName = %q", opts.SchemaName)
	}
	if !opts.ReadOnlyTx {
		t.Fatal("ReadOnlyTx = false, want true when read-only")
	}
	if opts.RowLimit != 50 {
		t.Fatalf("RowLimit = %d", opts.RowLimit)
	}
}
