package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type apiErr struct {
	status int
	msg    string
}

func (e *apiErr) Error() string   { return fmt.Sprintf("status %d: %s", e.status, e.msg) }
func (e *apiErr) HTTPStatus() int { return e.status }

func TestGenericSchedule(t *testing.T) {
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, expected := range want {
		if got := Generic(i + 1); got != expected {
			t.Errorf("Generic(%d) = %s, want %s", i+1, got, expected)
		}
	}
	if got := Generic(0); got != 2*time.Second {
		t.Errorf("Generic(0) = %s, want 2s", got)
	}
}

func TestBatchSchedule(t *testing.T) {
	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		45 * time.Second,
		45 * time.Second,
	}
	for i, expected := range want {
		if got := Batch(i + 1); got != expected {
			t.Errorf("Batch(%d) = %s, want %s", i+1, got, expected)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"http 500", &apiErr{status: 500, msg: "server error"}, true},
		{"http 503", &apiErr{status: 503, msg: "unavailable"}, true},
		{"http 429", &apiErr{status: 429, msg: "too many requests"}, true},
		{"http 400", &apiErr{status: 400, msg: "bad request"}, false},
		{"http 401", &apiErr{status: 401, msg: "unauthorized"}, false},
		{"http 403", &apiErr{status: 403, msg: "forbidden"}, false},
		{"http 404", &apiErr{status: 404, msg: "not found"}, false},
		{"run conflict 400", &apiErr{status: 400, msg: "can't add messages to thread while a run is active"}, true},
		{"run conflict plain", errors.New("thread already has an active run"), true},
		{"rate limit text", errors.New("rate limit exceeded"), true},
		{"zero results", errors.New("run produced zero results"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"timeout text", errors.New("client timeout waiting for response"), true},
		{"invalid text", errors.New("invalid checklist payload"), false},
		{"unclassified", errors.New("something odd happened"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var sleeps []time.Duration
	r := &Runner{Sleep: func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}}

	attempts := 0
	err := r.Do(context.Background(), "op", 3, Generic, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep %d = %s, want %s", i, sleeps[i], want[i])
		}
	}
}

func TestDoNonRetryableAbortsImmediately(t *testing.T) {
	var sleeps int
	r := &Runner{Sleep: func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}}

	attempts := 0
	cause := &apiErr{status: 404, msg: "not found"}
	err := r.Do(context.Background(), "op", 3, Generic, func(ctx context.Context) error {
		attempts++
		return cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("Do error = %v, want %v", err, cause)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if sleeps != 0 {
		t.Errorf("sleeps = %d, want 0", sleeps)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	r := &Runner{Sleep: func(ctx context.Context, d time.Duration) error { return nil }}

	attempts := 0
	cause := errors.New("connection reset")
	err := r.Do(context.Background(), "op", 3, Batch, func(ctx context.Context) error {
		attempts++
		return cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("Do error = %v, want last error %v", err, cause)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoStopsWhenSleepCanceled(t *testing.T) {
	r := &Runner{Sleep: func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}}

	attempts := 0
	err := r.Do(context.Background(), "op", 3, Generic, func(ctx context.Context) error {
		attempts++
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDoOK(t *testing.T) {
	r := &Runner{Sleep: func(ctx context.Context, d time.Duration) error { return nil }}

	if ok := r.DoOK(context.Background(), "op", 2, Generic, func(ctx context.Context) error {
		return nil
	}); !ok {
		t.Error("DoOK = false for succeeding op, want true")
	}

	if ok := r.DoOK(context.Background(), "op", 2, Generic, func(ctx context.Context) error {
		return errors.New("timeout")
	}); ok {
		t.Error("DoOK = true for failing op, want false")
	}
}
