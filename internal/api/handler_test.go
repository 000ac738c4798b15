package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sqlagent/sqlagent/internal/agent"
	"github.com/sqlagent/sqlagent/internal/auth"
	"github.com/sqlagent/sqlagent/internal/config"
	"github.com/sqlagent/sqlagent/internal/history"
	"github.com/sqlagent/sqlagent/internal/query"
)

func TestHealthEndpoint(t *testing.T) {
	cfg, err := config.Load("sqlagent-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["service"] != "sqlagent-api" {
		t.Fatalf("service = %v", body["service"])
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg, err := config.Load("sqlagent-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		Readiness: func(rctx context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeErrorBody(t, rr)
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}
	if body["trace_id"] == "" {
		t.Fatal("expected trace id in error envelope")
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg, err := config.Load("sqlagent-api", mapLookup(map[string]string{
		"SQLAGENT_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:asker")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Gateway:        &fakeGateway{},
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d, body=%s", authResp.Code, authResp.Body.String())
	}

	var schema query.SchemaDescription
	if err := json.Unmarshal(authResp.Body.Bytes(), &schema); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if schema.Dialect != "duckdb" || len(schema.Tables) != 1 {
		t.Fatalf("schema = %#v", schema)
	}
}

func TestProtectedRouteChecksRole(t *testing.T) {
	cfg, err := config.Load("sqlagent-api", mapLookup(map[string]string{
		"SQLAGENT_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:asker")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	gateway := &fakeGateway{}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Gateway:        gateway,
	})

	req := newJSONRequest(http.MethodPost, "/v1/query", `{"sql":"SELECT 1"}`)
	req.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if len(gateway.executed) != 0 {
		t.Fatalf("gateway executed %d statements", len(gateway.executed))
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg, err := config.Load("sqlagent-api", mapLookup(map[string]string{
		"SQLAGENT_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{Gateway: &fakeGateway{}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestUnconfiguredDependenciesReturn501(t *testing.T) {
	cfg, err := config.Load("sqlagent-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{})

	tests := []struct {
		method string
		path   string
		body   string
		code   string
	}{
		{method: http.MethodPost, path: "/v1/ask", body: `{"question":"q"}`, code: "AGENT_NOT_CONFIGURED"},
		{method: http.MethodGet, path: "/v1/schema", code: "QUERY_NOT_CONFIGURED"},
		{method: http.MethodGet, path: "/v1/invocations", code: "HISTORY_NOT_CONFIGURED"},
		{method: http.MethodPost, path: "/v1/retention/run", code: "MAINTENANCE_NOT_CONFIGURED"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, newJSONRequest(tt.method, tt.path, tt.body))
			if rr.Code != http.StatusNotImplemented {
				t.Fatalf("status = %d", rr.Code)
			}
			if body := decodeErrorBody(t, rr); body["error_code"] != tt.code {
				t.Fatalf("error_code = %v, want %s", body["error_code"], tt.code)
			}
		})
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckObjectStoreConfigOnlyAppliesWithArchive(t *testing.T) {
	cfg, err := config.Load("sqlagent-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	cfg.ObjectStore.Bucket = ""
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("archive disabled: error = %v", err)
	}
	cfg.History.ArchiveEnabled = true
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func newJSONRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeErrorBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v body=%s", err, rr.Body.String())
	}
	return body
}

type fakeGateway struct {
	mu       sync.Mutex
	executed []string
	rows     query.Rows
	err      error
}

func (g *fakeGateway) Execute(_ context.Context, sqlText string) (query.Rows, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executed = append(g.executed, sqlText)
	if g.err != nil {
		return query.Rows{}, g.err
	}
	if g.rows.Columns == nil {
		return query.Rows{Columns: []string{"n"}, Values: [][]any{{int64(1)}}, Duration: 3 * time.Millisecond}, nil
	}
	return g.rows, nil
}

func (g *fakeGateway) DescribeSchema(context.Context) (query.SchemaDescription, error) {
	return query.SchemaDescription{
		Dialect: "duckdb",
		Tables: []query.Table{{
			Name:    "usermaster",
			Columns: []query.Column{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "VARCHAR"}},
		}},
	}, nil
}

type fakeAsker struct {
	budget  agent.Budget
	result  agent.Result
	budgets []agent.Budget
}

func (a *fakeAsker) Run(_ context.Context, question string, budget agent.Budget) agent.Result {
	a.budgets = append(a.budgets, budget)
	result := a.result
	result.Question = question
	return result
}

func (a *fakeAsker) Budget() agent.Budget {
	return a.budget
}

type fakeHistory struct {
	mu      sync.Mutex
	records map[string]history.Record
	order   []string
	saved   []history.Record
	err     error
	limits  []int
}

func newFakeHistory(records ...history.Record) *fakeHistory {
	h := &fakeHistory{records: map[string]history.Record{}}
	for _, record := range records {
		h.records[record.InvocationID] = record
		h.order = append(h.order, record.InvocationID)
	}
	return h
}

func (h *fakeHistory) Save(_ context.Context, record history.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = append(h.saved, record)
	return h.err
}

func (h *fakeHistory) Get(_ context.Context, invocationID string) (history.Record, error) {
	if h.err != nil {
		return history.Record{}, h.err
	}
	record, ok := h.records[invocationID]
	if !ok {
		return history.Record{}, history.ErrNotFound
	}
	return record, nil
}

func (h *fakeHistory) ListRecent(_ context.Context, limit int) ([]history.Record, error) {
	h.limits = append(h.limits, limit)
	if h.err != nil {
		return nil, h.err
	}
	out := make([]history.Record, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.records[id])
	}
	return out, nil
}
