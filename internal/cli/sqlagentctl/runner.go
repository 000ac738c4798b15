package sqlagentctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sqlagentctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sqlagent API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 90s)")
	maxIterations := fs.Int("max-iterations", 0, "lower the iteration budget for ask")
	maxWallTime := fs.Duration("max-wall-time", 0, "lower the wall time budget for ask")
	limit := fs.Int("limit", 0, "number of invocations to list")
	rawJSON := fs.Bool("json", false, "print the raw JSON response for ask")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	operand := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	method := ""
	path := ""
	var payload any
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "schema":
		method, path = http.MethodGet, "/v1/schema"
	case "ask":
		if operand == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		method, path = http.MethodPost, "/v1/ask"
		payload = map[string]any{
			"question":         operand,
			"max_iterations":   *maxIterations,
			"max_wall_time_ms": maxWallTime.Milliseconds(),
		}
	case "query":
		if operand == "" {
			_, _ = fmt.Fprintln(stderr, "query requires a SQL statement")
			return 2
		}
		method, path = http.MethodPost, "/v1/query"
		payload = map[string]any{"sql": operand}
	case "invocations":
		method, path = http.MethodGet, "/v1/invocations"
		if *limit > 0 {
			path += fmt.Sprintf("?limit=%d", *limit)
		}
	case "invocation":
		if operand == "" {
			_, _ = fmt.Fprintln(stderr, "invocation requires an id")
			return 2
		}
		method, path = http.MethodGet, "/v1/invocations/"+url.PathEscape(operand)
	case "retention-run":
		method, path = http.MethodPost, "/v1/retention/run"
	case "integrity-run":
		method, path = http.MethodPost, "/v1/integrity/run"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if command == "ask" && !*rawJSON {
		if text, ok := answerText(responseBody); ok {
			_, _ = fmt.Fprintln(stdout, text)
			return 0
		}
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// answerText renders an ask response the way a person reads it: the answer,
// or the reason no answer was produced.
func answerText(raw []byte) (string, bool) {
	var response struct {
		Status     string `json:"status"`
		Text       string `json:"text"`
		Reason     string `json:"reason"`
		Iterations int    `json:"iterations"`
	}
	if err := json.Unmarshal(raw, &response); err != nil || response.Status == "" {
		return "", false
	}
	if response.Status == "answered" {
		return response.Text, true
	}
	return fmt.Sprintf("No answer: %s after %d iteration(s)\nReason: %s", response.Status, response.Iterations, response.Reason), true
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqlagentctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health               GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema               GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  ask <question>       POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  query <sql>          POST /v1/query")
	_, _ = fmt.Fprintln(w, "  invocations          GET /v1/invocations")
	_, _ = fmt.Fprintln(w, "  invocation <id>      GET /v1/invocations/{id}")
	_, _ = fmt.Fprintln(w, "  retention-run        POST /v1/retention/run")
	_, _ = fmt.Fprintln(w, "  integrity-run        POST /v1/integrity/run")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
