// Package retry wraps remote operations with classification-aware backoff.
package retry

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"time"
)

const (
	genericMaxDelay = 10 * time.Second
	batchBaseDelay  = 10 * time.Second
	batchMaxDelay   = 45 * time.Second
)

// Schedule returns the wait before the next attempt, given the 1-based
// attempt number that just failed.
type Schedule func(attempt int) time.Duration

// Generic waits min(2^n, 10) seconds after attempt n.
func Generic(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > genericMaxDelay {
		return genericMaxDelay
	}
	return delay
}

// Batch waits min(10 * 2^(n-1), 45) seconds after attempt n. Used for
// evaluation batches, which hit the backend much harder than single calls.
func Batch(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := batchBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > batchMaxDelay {
		return batchMaxDelay
	}
	return delay
}

// statusCoder is implemented by remote API errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// Retryable classifies an error. Timeouts, connection failures, 5xx, 429,
// the run-conflict rejection, and empty-result responses are retryable;
// other 4xx are not. Unclassified errors default to retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var coder statusCoder
	if errors.As(err, &coder) {
		status := coder.HTTPStatus()
		if status == 429 || status >= 500 {
			return true
		}
		switch status {
		case 400, 401, 403, 404:
			// A run-conflict comes back as a 400 but must be retried: the
			// prior run just needs time to reach a terminal state.
			return isRunConflict(err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if isRunConflict(err) {
		return true
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") {
		return true
	}
	if strings.Contains(msg, "no results") || strings.Contains(msg, "zero results") {
		return true
	}
	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return true
	}
	if strings.Contains(msg, "status 4") || strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "not found") || strings.Contains(msg, "unauthorized") {
		return false
	}

	return true
}

func isRunConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "while a run") && strings.Contains(msg, "active") ||
		strings.Contains(msg, "run is active") ||
		strings.Contains(msg, "already has an active run")
}

// Runner executes operations with retries. The zero value is usable; Sleep
// exists so tests can observe waits without actually sleeping.
type Runner struct {
	Sleep func(ctx context.Context, d time.Duration) error
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r != nil && r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op up to maxAttempts times, sleeping per schedule between failed
// attempts. Non-retryable errors abort immediately without sleeping. The
// last error is returned once attempts are exhausted.
func (r *Runner) Do(ctx context.Context, name string, maxAttempts int, schedule Schedule, op func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if schedule == nil {
		schedule = Generic
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		delay := schedule(attempt)
		log.Printf("retry op=%s attempt=%d/%d delay=%s error=%v", name, attempt, maxAttempts, delay, lastErr)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// DoOK is Do in no-raise mode: it reports success as a bool so callers in
// cleanup paths can log and move on instead of aborting a larger sweep.
func (r *Runner) DoOK(ctx context.Context, name string, maxAttempts int, schedule Schedule, op func(ctx context.Context) error) bool {
	if err := r.Do(ctx, name, maxAttempts, schedule, op); err != nil {
		log.Printf("retry op=%s exhausted: %v", name, err)
		return false
	}
	return true
}
