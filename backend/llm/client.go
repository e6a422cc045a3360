// Package llm talks to the language model that analyses agreements.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AnTengye/contractplaybook/backend/config"
)

// Client sends one system+user prompt pair and returns the raw completion
// text. Implementations honour ctx cancellation and deadlines.
type Client interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Recorder receives one observation per completion call
type Recorder interface {
	LLMCall(provider, outcome string, elapsed time.Duration)
}

// Option configures New
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   Recorder
}

// WithHTTPClient sets the HTTP client used by the provider adapters
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder reports every call to r
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// New builds the client for cfg.Provider, wrapped with retries when
// cfg.Retry allows more than one attempt and with call instrumentation
func New(cfg *config.LLMConfig, opts ...Option) (Client, error) {
	o := options{
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "llm", "provider", cfg.Provider, "model", cfg.Model)

	var client Client
	switch cfg.Provider {
	case "openai", "local":
		client = NewOpenAIClient(cfg, o.httpClient)
	case "anthropic":
		client = NewAnthropicClient(cfg, o.httpClient)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	if cfg.Retry.MaxAttempts > 1 {
		client = NewRetryingClient(client, cfg.Retry, logger)
	}
	return NewInstrumentedClient(client, cfg.Provider, o.recorder, logger), nil
}
