package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrModelUnavailable marks transport failures: the model could not be reached
// or did not return a usable response. It is distinct from an empty completion.
var ErrModelUnavailable = errors.New("model unavailable")

// DefaultStop keeps the model from writing its own observations.
var DefaultStop = []string{"\nObservation:"}

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type ClientFunc func(ctx context.Context, prompt string) (string, error)

func (f ClientFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type Config struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
	Stop              []string
}

func New(cfg Config) (Client, error) {
	if cfg.Stop == nil {
		cfg.Stop = DefaultStop
	}

	var (
		client Client
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOllama, "":
		client, err = NewOllamaClient(cfg)
	case ProviderOpenAI:
		client, err = NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute > 0 {
		client = NewRateLimited(client, cfg.RequestsPerMinute)
	}
	return client, nil
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrModelUnavailable, fmt.Sprintf(format, args...))
}

func unavailableErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrModelUnavailable, op, err)
}
