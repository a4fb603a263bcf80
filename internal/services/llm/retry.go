package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vidflow/internal/services"
)

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, snippet(e.Body))
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

type emptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Op, e.FinishReason, e.Refusal, e.Snippet)
}

// classify tags the final error of a request with a services marker.
func classify(op string, attempts int, err error) error {
	if err == nil {
		err = errors.New("unknown retry failure")
	}
	var statusErr *StatusError
	var emptyErr *emptyContentError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, "llm", op, "request deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return services.Wrap(services.ErrCanceled, "llm", op, "request canceled", err)
	case errors.As(err, &statusErr):
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
			return services.Wrap(services.ErrConfiguration, "llm", op, "api key rejected", err)
		case statusErr.retryable():
			return services.Wrap(services.ErrTransient, "llm", op, fmt.Sprintf("failed after %d attempts", attempts), err)
		default:
			return services.Wrap(services.ErrValidation, "llm", op, "request rejected", err)
		}
	case errors.As(err, &emptyErr):
		return services.Wrap(services.ErrTransient, "llm", op, fmt.Sprintf("failed after %d attempts", attempts), err)
	case isTimeout(err):
		return services.Wrap(services.ErrTimeout, "llm", op, "request timed out", err)
	}
	return services.Wrap(services.ErrExternalTool, "llm", op, "request failed", err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) retryAttempts() int {
	if c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if err == nil || attempt >= maxAttempts || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var emptyErr *emptyContentError
	if errors.As(err, &emptyErr) {
		return c.backoffDelay(attempt), true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if !statusErr.retryable() {
			return 0, false
		}
		if statusErr.RetryAfter > 0 {
			return c.capDelay(statusErr.RetryAfter), true
		}
		return c.backoffDelay(attempt), true
	}
	if isTimeout(err) {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

// backoffDelay doubles from the base per attempt: base, base*2, base*4, ...
func (c *Client) backoffDelay(attempt int) time.Duration {
	if c.retryBaseDelay <= 0 {
		return 0
	}
	delay := c.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if c.retryMaxDelay > 0 && delay > c.retryMaxDelay/2 {
			return c.retryMaxDelay
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	return min(delay, maxDelay)
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}
