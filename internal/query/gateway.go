package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultRowLimit   = 200
	DefaultSampleRows = 3
)

type Options struct {
	Dialect string
	// ReadOnly rejects statements that are not reads before they reach the
	// engine. ReadOnlyTx additionally runs every statement inside a read-only
	// transaction; only enable it for engines that support one.
	ReadOnly         bool
	ReadOnlyTx       bool
	RowLimit         int
	StatementTimeout time.Duration
	SchemaName       string
	IncludeTables    []string
	SampleRows       int
}

// SQLGateway executes model-issued statements against a pooled *sql.DB.
type SQLGateway struct {
	db   *sql.DB
	opts Options
}

func NewSQLGateway(db *sql.DB, opts Options) *SQLGateway {
	if opts.RowLimit < 0 {
		opts.RowLimit = 0
	}
	if opts.SampleRows < 0 {
		opts.SampleRows = 0
	}
	return &SQLGateway{db: db, opts: opts}
}

func (g *SQLGateway) Options() Options {
	return g.opts
}

func (g *SQLGateway) HealthCheck(ctx context.Context) error {
	if g.db == nil {
		return fmt.Errorf("database is not configured")
	}
	return g.db.PingContext(ctx)
}

// Execute runs one statement. Engine failures, timeouts and panics come back
// as *ExecutionError; cancellation of ctx comes back wrapping context.Canceled.
func (g *SQLGateway) Execute(ctx context.Context, sqlText string) (result Rows, err error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return Rows{}, newExecutionError(sqlText, "sql is required")
	}
	if g.db == nil {
		return Rows{}, newExecutionError(sqlText, "database is not configured")
	}
	if g.opts.ReadOnly {
		if HasMultipleStatements(sqlText) {
			return Rows{}, newExecutionError(sqlText, "only a single statement is allowed in read-only mode")
		}
		if !IsReadStatement(sqlText) {
			return Rows{}, newExecutionError(sqlText, "only read-only statements (SELECT, WITH, EXPLAIN, SHOW, VALUES, TABLE) are allowed")
		}
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result = Rows{}
			err = newExecutionError(sqlText, "engine panic: %v", recovered)
		}
	}()

	stmtCtx := ctx
	if g.opts.StatementTimeout > 0 {
		var cancel context.CancelFunc
		stmtCtx, cancel = context.WithTimeout(ctx, g.opts.StatementTimeout)
		defer cancel()
	}

	start := time.Now()
	var rows *sql.Rows
	if g.opts.ReadOnlyTx {
		tx, txErr := g.db.BeginTx(stmtCtx, &sql.TxOptions{ReadOnly: true})
		if txErr != nil {
			return Rows{}, g.classify(ctx, stmtCtx, sqlText, fmt.Errorf("begin read-only transaction: %w", txErr))
		}
		defer func() { _ = tx.Rollback() }()
		rows, err = tx.QueryContext(stmtCtx, sqlText)
	} else {
		rows, err = g.db.QueryContext(stmtCtx, sqlText)
	}
	if err != nil {
		return Rows{}, g.classify(ctx, stmtCtx, sqlText, err)
	}
	defer func() { _ = rows.Close() }()

	result, err = scanRows(rows, g.opts.RowLimit)
	if err != nil {
		return Rows{}, g.classify(ctx, stmtCtx, sqlText, err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (g *SQLGateway) classify(ctx, stmtCtx context.Context, sqlText string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("execute query: %w", ctx.Err())
	}
	if ctx.Err() != nil || stmtCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		execErr := newExecutionError(sqlText, "query timed out")
		if g.opts.StatementTimeout > 0 && ctx.Err() == nil {
			execErr.Message = fmt.Sprintf("query timed out after %s", g.opts.StatementTimeout)
		}
		execErr.Timeout = true
		return execErr
	}
	return newExecutionError(sqlText, "%s", err.Error())
}

func (g *SQLGateway) DescribeSchema(ctx context.Context) (SchemaDescription, error) {
	if g.db == nil {
		return SchemaDescription{}, fmt.Errorf("database is not configured")
	}
	description := SchemaDescription{Dialect: g.opts.Dialect}

	rows, err := g.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`, g.opts.SchemaName)
	if err != nil {
		return SchemaDescription{}, fmt.Errorf("query information_schema.columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	include := map[string]bool{}
	for _, name := range g.opts.IncludeTables {
		include[name] = true
	}

	indexByTable := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return SchemaDescription{}, fmt.Errorf("scan column: %w", err)
		}
		if len(include) > 0 && !include[tableName] {
			continue
		}
		index, ok := indexByTable[tableName]
		if !ok {
			index = len(description.Tables)
			indexByTable[tableName] = index
			description.Tables = append(description.Tables, Table{Name: tableName})
		}
		description.Tables[index].Columns = append(description.Tables[index].Columns, Column{Name: columnName, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return SchemaDescription{}, fmt.Errorf("iterate columns: %w", err)
	}
	_ = rows.Close()

	missing := make([]string, 0)
	for name := range include {
		if _, ok := indexByTable[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return SchemaDescription{}, fmt.Errorf("include tables not found in schema %q: %s", g.opts.SchemaName, strings.Join(missing, ", "))
	}

	if g.opts.SampleRows > 0 {
		for i := range description.Tables {
			samples, err := g.sampleRows(ctx, description.Tables[i].Name)
			if err != nil {
				if ctx.Err() != nil {
					return SchemaDescription{}, fmt.Errorf("sample rows for %q: %w", description.Tables[i].Name, ctx.Err())
				}
				continue
			}
			description.Tables[i].SampleRows = samples
		}
	}

	return description, nil
}

func (g *SQLGateway) sampleRows(ctx context.Context, tableName string) ([][]any, error) {
	name := quoteIdent(tableName)
	if g.opts.SchemaName != "" {
		name = quoteIdent(g.opts.SchemaName) + "." + name
	}
	rows, err := g.db.QueryContext(ctx, "SELECT * FROM "+name+" LIMIT "+strconv.Itoa(g.opts.SampleRows))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result, err := scanRows(rows, g.opts.SampleRows)
	if err != nil {
		return nil, err
	}
	return result.Values, nil
}

func scanRows(rows *sql.Rows, limit int) (Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Rows{}, fmt.Errorf("query columns: %w", err)
	}

	result := Rows{Columns: columns, Values: make([][]any, 0)}
	for rows.Next() {
		if limit > 0 && len(result.Values) >= limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Rows{}, fmt.Errorf("scan row: %w", err)
		}
		result.Values = append(result.Values, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Rows{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
