package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sqlagent/sqlagent/internal/query"
)

const (
	Dialect       = "duckdb"
	DefaultSchema = "main"
)

type Config struct {
	// Path is the database file. Empty opens an in-memory database.
	Path string
	// ParquetTables exposes local parquet files as views, keyed by view name.
	ParquetTables map[string][]string
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	tableNames := make([]string, 0, len(cfg.ParquetTables))
	for name := range cfg.ParquetTables {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)
	for _, name := range tableNames {
		if err := AttachParquet(ctx, db, name, cfg.ParquetTables[name]); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func AttachParquet(ctx context.Context, db *sql.DB, tableName string, paths []string) error {
	if strings.TrimSpace(tableName) == "" {
		return fmt.Errorf("parquet view name is required")
	}
	if len(paths) == 0 {
		return fmt.Errorf("parquet view %q has no files", tableName)
	}
	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(paths))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		return fmt.Errorf("create view for table %q: %w", tableName, err)
	}
	return nil
}

// NewGateway wraps db for model-issued statements. DuckDB does not support
// read-only transactions, so read-only mode relies on the statement check.
func NewGateway(db *sql.DB, opts query.Options) *query.SQLGateway {
	opts.Dialect = Dialect
	if opts.SchemaName == "" {
		opts.SchemaName = DefaultSchema
	}
	opts.ReadOnlyTx = false
	return query.NewSQLGateway(db, opts)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
