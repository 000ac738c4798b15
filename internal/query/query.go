package query

import (
	"context"
	"fmt"
	"time"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	SampleRows [][]any  `json:"sample_rows,omitempty"`
}

type SchemaDescription struct {
	Dialect string  `json:"dialect"`
	Tables  []Table `json:"tables"`
}

// Rows is the materialised result of one statement. Truncated reports that the
// statement produced more rows than the gateway's row limit.
type Rows struct {
	Columns   []string      `json:"columns"`
	Values    [][]any       `json:"values"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

// ExecutionError is a statement failure the caller can show to the model.
type ExecutionError struct {
	SQL     string
	Message string
	Timeout bool
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func newExecutionError(sqlText string, format string, args ...any) *ExecutionError {
	return &ExecutionError{SQL: sqlText, Message: fmt.Sprintf(format, args...)}
}

type Gateway interface {
	Execute(ctx context.Context, sql string) (Rows, error)
	DescribeSchema(ctx context.Context) (SchemaDescription, error)
}

func (s SchemaDescription) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}
