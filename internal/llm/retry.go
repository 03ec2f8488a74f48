package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig returns sensible defaults for rate limit retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryProvider wraps a provider with automatic retry on transient errors.
//
// A retried attempt is a new invocation: its cumulative text starts over,
// which downstream consumers detect as a shorter cumulative length. Once a
// tool call has been forwarded the attempt is no longer retried, since the
// call may already be queued for execution.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// WrapWithRetry wraps a provider with retry logic.
func WrapWithRetry(p Provider, config RetryConfig) Provider {
	return &RetryProvider{inner: p, config: config, sleep: sleepContext}
}

func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

func (r *RetryProvider) Capabilities() Capabilities {
	return r.inner.Capabilities()
}

func (r *RetryProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		var lastErr error

		for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
			stream, err := r.inner.Stream(ctx, req)
			toolForwarded := false
			if err != nil {
				if !isRetryable(err) {
					return err
				}
				lastErr = err
			} else {
				toolForwarded, err = r.forwardEvents(ctx, stream, events)
				if err == nil {
					return nil
				}
				if toolForwarded || !isRetryable(err) {
					return err
				}
				lastErr = err
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= r.config.MaxAttempts {
				break
			}

			wait := r.calculateBackoff(attempt, lastErr)
			slog.Warn("retrying provider stream", "provider", r.inner.Name(), "attempt", attempt, "wait", wait, "error", lastErr)

			if err := send(ctx, events, Event{
				Type:             EventRetry,
				RetryAttempt:     attempt,
				RetryMaxAttempts: r.config.MaxAttempts,
				RetryWaitSecs:    wait.Seconds(),
			}); err != nil {
				return err
			}
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
		}

		return lastErr
	}), nil
}

// forwardEvents reads events from the inner stream and forwards them.
// It reports whether any tool call event was forwarded.
func (r *RetryProvider) forwardEvents(ctx context.Context, stream Stream, events chan<- Event) (bool, error) {
	defer stream.Close()

	toolForwarded := false
	for {
		if err := ctx.Err(); err != nil {
			return toolForwarded, err
		}

		event, err := stream.Recv()
		if err == io.EOF {
			return toolForwarded, nil
		}
		if err != nil {
			return toolForwarded, err
		}

		// Error events mid-stream (e.g., 429 during streaming)
		if event.Type == EventError && event.Err != nil {
			return toolForwarded, event.Err
		}

		if event.Type == EventToolCall || event.Type == EventToolInProgress {
			toolForwarded = true
		}
		if err := send(ctx, events, event); err != nil {
			return toolForwarded, err
		}
	}
}

// isRetryable returns true if the error is a transient error worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// HTTP status codes and rate limit messages
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "overloaded") {
		return true
	}

	// Connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "no such host") {
		return true
	}

	return false
}

// retryAfterRegex matches Retry-After values in error messages.
var retryAfterRegex = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// calculateBackoff computes the wait duration for a retry attempt.
func (r *RetryProvider) calculateBackoff(attempt int, err error) time.Duration {
	if err != nil {
		if matches := retryAfterRegex.FindStringSubmatch(err.Error()); len(matches) > 1 {
			if secs, parseErr := strconv.Atoi(matches[1]); parseErr == nil && secs > 0 {
				wait := time.Duration(secs) * time.Second
				if wait > r.config.MaxBackoff {
					wait = r.config.MaxBackoff
				}
				return wait
			}
		}
	}

	// Exponential backoff: base * 2^(attempt-1)
	backoff := float64(r.config.BaseBackoff) * math.Pow(2, float64(attempt-1))

	// Add jitter: +/- 25%
	jitter := (rand.Float64() - 0.5) * 0.5 * backoff
	backoff += jitter

	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}

	return time.Duration(backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
