package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sqlagent/sqlagent/internal/agent"
	"github.com/sqlagent/sqlagent/internal/history"
	"github.com/sqlagent/sqlagent/internal/llm"
	"github.com/sqlagent/sqlagent/internal/observability"
)

type askRequest struct {
	Question      string `json:"question"`
	MaxIterations int    `json:"max_iterations"`
	MaxWallTimeMs int64  `json:"max_wall_time_ms"`
}

type turnResponse struct {
	Seq     int    `json:"seq"`
	Kind    string `json:"kind"`
	Variant string `json:"variant"`
	Content string `json:"content"`
}

type askResponse struct {
	InvocationID string         `json:"invocation_id"`
	Status       string         `json:"status"`
	Text         string         `json:"text"`
	Reason       string         `json:"reason,omitempty"`
	Iterations   int            `json:"iterations"`
	ModelCalls   int            `json:"model_calls"`
	ElapsedMs    int64          `json:"elapsed_ms"`
	Transcript   []turnResponse `json:"transcript"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "agent is not configured", false, nil)
		return
	}

	var request askRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", agent.ErrEmptyQuestion.Error(), false, nil)
		return
	}
	if request.MaxIterations < 0 || request.MaxWallTimeMs < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BUDGET", "budget overrides must not be negative", false, nil)
		return
	}

	// Callers may only tighten the configured budget.
	budget := deps.Agent.Budget().Tighten(agent.Budget{
		MaxIterations: request.MaxIterations,
		MaxWallTime:   time.Duration(request.MaxWallTimeMs) * time.Millisecond,
	})
	result := deps.Agent.Run(r.Context(), request.Question, budget)
	observability.SetInvocationID(r.Context(), result.InvocationID)
	w.Header().Set(observability.InvocationHeader, result.InvocationID)

	if err := deps.Recorder.Record(r.Context(), result); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "invocation history not recorded",
			slog.String("invocation_id", result.InvocationID),
			slog.String("error", err.Error()),
		)
	}

	response := newAskResponse(result)
	if result.Status != agent.StatusFailed {
		writeJSON(w, http.StatusOK, response)
		return
	}

	extra := map[string]any{
		"invocation_id": response.InvocationID,
		"iterations":    response.Iterations,
		"transcript":    response.Transcript,
	}
	switch {
	case errors.Is(result.Err, llm.ErrModelUnavailable):
		writeError(r.Context(), w, http.StatusServiceUnavailable, "MODEL_UNAVAILABLE", result.Reason, true, extra)
	case errors.Is(result.Err, agent.ErrCancelled):
		writeError(r.Context(), w, http.StatusServiceUnavailable, "INVOCATION_CANCELLED", result.Reason, true, extra)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "INVOCATION_FAILED", result.Reason, false, extra)
	}
}

func newAskResponse(result agent.Result) askResponse {
	record := history.FromResult(result)
	return askResponse{
		InvocationID: result.InvocationID,
		Status:       string(result.Status),
		Text:         result.Text,
		Reason:       result.Reason,
		Iterations:   result.Iterations,
		ModelCalls:   result.ModelCalls,
		ElapsedMs:    result.Elapsed.Milliseconds(),
		Transcript:   turnsResponse(record.Turns),
	}
}

func turnsResponse(turns []history.Turn) []turnResponse {
	out := make([]turnResponse, 0, len(turns))
	for _, turn := range turns {
		out = append(out, turnResponse{
			Seq:     turn.Seq,
			Kind:    turn.Kind,
			Variant: turn.Variant,
			Content: turn.Content,
		})
	}
	return out
}
