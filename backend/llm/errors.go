package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Errors returned by every Client. Provider detail is wrapped with %w so
// callers match with errors.Is.
var (
	ErrServiceUnavailable = errors.New("llm service unavailable")
	ErrTimeout            = errors.New("llm call timed out")
	ErrRateLimited        = errors.New("llm rate limited")
	ErrRequestRejected    = errors.New("llm request rejected")
	ErrEmptyResponse      = errors.New("llm returned no content")
)

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServiceUnavailable)
}

// Outcome is the short label used in metrics and logs
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRequestRejected):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// classifyStatus maps a non-2xx provider status to a sentinel
func classifyStatus(statusCode int, detail string) error {
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d): %s", ErrRateLimited, statusCode, detail)
	case statusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w (status %d): %s", ErrTimeout, statusCode, detail)
	case statusCode >= 500, statusCode == 0:
		return fmt.Errorf("%w (status %d): %s", ErrServiceUnavailable, statusCode, detail)
	default:
		return fmt.Errorf("%w (status %d): %s", ErrRequestRejected, statusCode, detail)
	}
}

// transportError classifies a failure that happened before any response
func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}
