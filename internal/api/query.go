package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sqlagent/sqlagent/internal/query"
)

type queryRequest struct {
	SQL string `json:"sql"`
}

type queryResponse struct {
	Columns   []string       `json:"columns"`
	Rows      [][]any        `json:"rows"`
	Truncated bool           `json:"truncated"`
	Stats     map[string]any `json:"stats"`
}

// handleQuery runs one read-only statement directly, bypassing the agent.
func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Gateway == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query gateway is not configured", false, nil)
		return
	}

	var request queryRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if !query.IsReadStatement(request.SQL) || query.HasMultipleStatements(request.SQL) {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only a single read-only statement is allowed", false, nil)
		return
	}

	result, err := deps.Gateway.Execute(r.Context(), request.SQL)
	if err != nil {
		var execErr *query.ExecutionError
		switch {
		case errors.As(err, &execErr) && execErr.Timeout:
			writeError(r.Context(), w, http.StatusGatewayTimeout, "QUERY_TIMEOUT", execErr.Message, true, nil)
		case errors.As(err, &execErr):
			writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": execErr.Message})
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "QUERY_ERROR", "query gateway failed", true, map[string]any{"details": err.Error()})
		}
		return
	}

	rows := result.Values
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Columns:   result.Columns,
		Rows:      rows,
		Truncated: result.Truncated,
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
			"row_count":   len(rows),
		},
	})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Gateway == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query gateway is not configured", false, nil)
		return
	}
	schema, err := deps.Gateway.DescribeSchema(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_ERROR", "failed to describe schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, schema)
}
