package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sqlagent/sqlagent/internal/config"
	"github.com/sqlagent/sqlagent/internal/history"
)

func sampleRecord(id string) history.Record {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return history.Record{
		InvocationID: id,
		Question:     "How many departments?",
		Status:       "answered",
		Answer:       "3",
		Iterations:   1,
		ModelCalls:   2,
		StartedAt:    started,
		FinishedAt:   started.Add(1500 * time.Millisecond),
		Elapsed:      1500 * time.Millisecond,
		Turns: []history.Turn{
			{Seq: 0, Kind: "action", Variant: "run_query", Content: "SELECT COUNT(*) FROM department"},
			{Seq: 1, Kind: "observation", Variant: "rows", Content: "count\n3"},
			{Seq: 2, Kind: "action", Variant: "final_answer", Content: "3"},
		},
	}
}

func TestGetInvocation(t *testing.T) {
	cfg, err := config.Load("sqlagent-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{History: newFakeHistory(sampleRecord("inv-1"))})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/invocations/inv-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body invocationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.InvocationID != "inv-1" || body.ElapsedMs != 1500 || len(body.Transcript) != 3 {
		t.Fatalf("body = %#v", body)
	}

	missing := httptest.NewRecorder()
	h.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/v1/invocations/nope", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", missing.Code)
	}
}

func TestListInvocations(t *testing.T) {
	cfg, err := config.Load("sqlagent-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	store := newFakeHistory(sampleRecord("inv-1"), sampleRecord("inv-2"))
	h := NewHandler(cfg, Dependencies{History: store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/invocations?limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Invocations []invocationResponse `json:"invocations"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(body.Invocations) != 2 || body.Invocations[1].InvocationID != "inv-2" {
		t.Fatalf("body = %#v", body)
	}
	if len(store.limits) != 1 || store.limits[0] != 5 {
		t.Fatalf("limits = %#v", store.limits)
	}

	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, httptest.NewRequest(http.MethodGet, "/v1/invocations?limit=0", nil))
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", bad.Code)
	}
}

func TestListInvocationsStoreError(t *testing.T) {
	cfg, err := config.Load("sqlagent-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	store := newFakeHistory()
	store.err = errors.New("connection refused")
	h := NewHandler(cfg, Dependencies{History: store})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/invocations", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeErrorBody(t, rr); body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}
}
