package llm

import (
	"context"
	"log/slog"
	"time"
)

// InstrumentedClient logs and records every call
type InstrumentedClient struct {
	next     Client
	provider string
	recorder Recorder
	logger   *slog.Logger
}

// NewInstrumentedClient wraps next. recorder may be nil.
func NewInstrumentedClient(next Client, provider string, recorder Recorder, logger *slog.Logger) *InstrumentedClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentedClient{next: next, provider: provider, recorder: recorder, logger: logger}
}

// Generate implements Client
func (c *InstrumentedClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	out, err := c.next.Generate(ctx, systemPrompt, userPrompt)
	elapsed := time.Since(start)
	outcome := Outcome(err)

	if c.recorder != nil {
		c.recorder.LLMCall(c.provider, outcome, elapsed)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "llm call failed", "outcome", outcome, "elapsed", elapsed, "error", err)
	} else {
		c.logger.DebugContext(ctx, "llm call completed",
			"elapsed", elapsed,
			"prompt_chars", len(userPrompt),
			"response_chars", len(out),
		)
	}
	return out, err
}
