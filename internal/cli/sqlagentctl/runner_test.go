package sqlagentctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunAskCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"answered","text":"The average rating for Python is 4.","iterations":1}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"-max-iterations", "3",
		"-max-wall-time", "20s",
		"ask", "What is the average", "rating for Python?",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/ask" || gotAPIKey != "k1" {
		t.Fatalf("request = %s %s key=%q", gotMethod, gotPath, gotAPIKey)
	}
	if gotBody["question"] != "What is the average rating for Python?" {
		t.Fatalf("question = %v", gotBody["question"])
	}
	if gotBody["max_iterations"] != float64(3) || gotBody["max_wall_time_ms"] != float64(20000) {
		t.Fatalf("body = %#v", gotBody)
	}
	if strings.TrimSpace(stdout.String()) != "The average rating for Python is 4." {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunAskCommandReportsExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"exhausted","text":"agent stopped","reason":"agent stopped due to iteration limit or time limit","iterations":10}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "ask", "loop"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(stdout.String(), "No answer: exhausted after 10 iteration(s)") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunInvocationCommands(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.RequestURI())
		_, _ = w.Write([]byte(`{"invocations":[]}`))
	}))
	defer srv.Close()

	if code := Run(context.Background(), []string{"-base-url", srv.URL, "-limit", "5", "invocations"}, Options{}); code != 0 {
		t.Fatalf("invocations exit code = %d", code)
	}
	if code := Run(context.Background(), []string{"-base-url", srv.URL, "invocation", "abc-123"}, Options{}); code != 0 {
		t.Fatalf("invocation exit code = %d", code)
	}
	if len(gotPaths) != 2 || gotPaths[0] != "/v1/invocations?limit=5" || gotPaths[1] != "/v1/invocations/abc-123" {
		t.Fatalf("paths = %#v", gotPaths)
	}
}

func TestRunIntegrityCommand(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"status":"completed"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "integrity-run"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/integrity/run" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if !strings.Contains(stdout.String(), `"status": "completed"`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error_code":"FORBIDDEN"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "query", "SELECT 1"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{{"unknown"}, {"ask"}, {"query", "  "}, {}} {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Stderr: &stderr})
		if code != 2 {
			t.Fatalf("%v exit code = %d", args, code)
		}
		if stderr.Len() == 0 {
			t.Fatalf("%v: expected usage output", args)
		}
	}
}
