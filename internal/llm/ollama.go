package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const DefaultOllamaURL = "http://localhost:11434"

type OllamaClient struct {
	api         *api.Client
	model       string
	temperature float64
	stop        []string
}

func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	rawURL := strings.TrimSpace(cfg.BaseURL)
	if rawURL == "" {
		rawURL = DefaultOllamaURL
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base URL: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &OllamaClient{
		api:         api.NewClient(baseURL, &http.Client{Timeout: timeout}),
		model:       model,
		temperature: cfg.Temperature,
		stop:        cfg.Stop,
	}, nil
}

func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	stream := false
	options := map[string]any{"temperature": c.temperature}
	if len(c.stop) > 0 {
		options["stop"] = c.stop
	}
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Options:  options,
	}

	var content strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", unavailableErr("ollama chat", err)
	}
	return content.String(), nil
}

func (c *OllamaClient) Heartbeat(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return unavailableErr("ollama heartbeat", err)
	}
	return nil
}
