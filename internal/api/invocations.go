package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sqlagent/sqlagent/internal/history"
)

const maxListLimit = 500

type invocationResponse struct {
	InvocationID string         `json:"invocation_id"`
	Question     string         `json:"question"`
	Status       string         `json:"status"`
	Answer       string         `json:"answer,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Iterations   int            `json:"iterations"`
	ModelCalls   int            `json:"model_calls"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	ElapsedMs    int64          `json:"elapsed_ms"`
	ArchiveKey   string         `json:"archive_key,omitempty"`
	Transcript   []turnResponse `json:"transcript,omitempty"`
}

func handleListInvocations(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "invocation history is not configured", false, nil)
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxListLimit {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and "+strconv.Itoa(maxListLimit), false, nil)
			return
		}
		limit = parsed
	}

	records, err := deps.History.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to list invocations", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]invocationResponse, 0, len(records))
	for _, record := range records {
		items = append(items, newInvocationResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string]any{"invocations": items})
}

func handleGetInvocation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "invocation history is not configured", false, nil)
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	record, err := deps.History.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "INVOCATION_NOT_FOUND", "invocation was not found", false, map[string]any{"invocation_id": id})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to load invocation", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, newInvocationResponse(record))
}

func newInvocationResponse(record history.Record) invocationResponse {
	response := invocationResponse{
		InvocationID: record.InvocationID,
		Question:     record.Question,
		Status:       record.Status,
		Answer:       record.Answer,
		Reason:       record.Reason,
		Iterations:   record.Iterations,
		ModelCalls:   record.ModelCalls,
		StartedAt:    record.StartedAt,
		FinishedAt:   record.FinishedAt,
		ElapsedMs:    record.Elapsed.Milliseconds(),
		ArchiveKey:   record.ArchiveKey,
	}
	if len(record.Turns) > 0 {
		response.Transcript = turnsResponse(record.Turns)
	}
	return response
}
