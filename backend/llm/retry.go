package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnTengye/contractplaybook/backend/config"
	"github.com/cenkalti/backoff/v4"
)

// RetryingClient retries rate-limit and availability failures with
// exponential backoff. Timeouts and rejected requests are returned as is.
type RetryingClient struct {
	next   Client
	cfg    config.RetryConfig
	logger *slog.Logger
}

// NewRetryingClient wraps next
func NewRetryingClient(next Client, cfg config.RetryConfig, logger *slog.Logger) *RetryingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingClient{next: next, cfg: cfg, logger: logger}
}

func (c *RetryingClient) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffBase
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	retries := c.cfg.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Generate implements Client
func (c *RetryingClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	attempt := 0
	op := func() (string, error) {
		attempt++
		out, err := c.next.Generate(ctx, systemPrompt, userPrompt)
		if err != nil && !IsRetryable(err) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "llm call failed, retrying",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	out, err := backoff.RetryNotifyWithData(op, c.policy(ctx), notify)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return "", fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return out, err
}
