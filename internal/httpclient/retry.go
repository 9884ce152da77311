// Package httpclient holds the HTTP plumbing shared by the capability clients:
// a tuned *http.Client, status errors, retryable-error classification and an
// exponential backoff retry loop.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// New returns an *http.Client with pooled keep-alive connections.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// ReadBody reads a response body and turns non-2xx statuses into *StatusError.
// Error bodies are truncated to 512 bytes.
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(body)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(msg)}
	}
	return body, nil
}

// IsRetryable reports whether a request may succeed if repeated:
// timeouts, 5xx, 429 and connection-level failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, s := range []string{"connection", "timeout", "refused", "reset", "EOF"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Retry runs a function with exponential backoff.
type Retry struct {
	MaxRetries  int
	BaseBackoff time.Duration // first delay; doubled per attempt
	MaxBackoff  time.Duration

	// OnRetry, when set, is called before each repeated attempt.
	OnRetry func(attempt int, err error)
}

// Backoff returns the delay before the given attempt (1-based retries).
func (r Retry) Backoff(attempt int) time.Duration {
	base := r.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	max := r.MaxBackoff
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, ctx ends or
// MaxRetries retries are used up. It returns the number of attempts made.
func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			if r.OnRetry != nil {
				r.OnRetry(attempt, lastErr)
			}
			select {
			case <-time.After(r.Backoff(attempt)):
			case <-ctx.Done():
				return attempts, ctx.Err()
			}
		}

		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		if !IsRetryable(err) {
			break
		}
	}

	return attempts, lastErr
}
