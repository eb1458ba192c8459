package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func newPoller(clock *fakeClock, fetch func(ctx context.Context) (Status, error), sleeps *[]time.Duration) *Poller {
	return &Poller{
		Fetch: fetch,
		Now:   func() time.Time { return clock.now },
		Sleep: func(ctx context.Context, d time.Duration) error {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
			clock.now = clock.now.Add(d)
			return nil
		},
	}
}

func TestStatusTerminal(t *testing.T) {
	cases := []struct {
		name    string
		status  Status
		outcome Outcome
		done    bool
	}{
		{"all pending", Status{InProgress: 2}, "", false},
		{"nothing observed", Status{}, "", false},
		{"one failed wins", Status{InProgress: 0, Completed: 3, Failed: 1}, OutcomeFailed, true},
		{"failed while running", Status{InProgress: 2, Failed: 1}, OutcomeFailed, true},
		{"all completed", Status{InProgress: 0, Completed: 1}, OutcomeCompleted, true},
		{"still running", Status{InProgress: 1, Completed: 1}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, done := tc.status.Terminal()
			if outcome != tc.outcome || done != tc.done {
				t.Errorf("Terminal() = (%q, %v), want (%q, %v)", outcome, done, tc.outcome, tc.done)
			}
		})
	}
}

func TestRunCompletes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	var sleeps []time.Duration
	calls := 0
	p := newPoller(clock, func(ctx context.Context) (Status, error) {
		calls++
		if calls < 3 {
			return Status{InProgress: 1}, nil
		}
		return Status{Completed: 1}, nil
	}, &sleeps)

	outcome := p.Run(context.Background(), Config{BaseInterval: 3 * time.Second, Timeout: 600 * time.Second})
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed", outcome)
	}
	if calls != 3 {
		t.Errorf("fetch calls = %d, want 3", calls)
	}
	for i, d := range sleeps {
		if d != 3*time.Second {
			t.Errorf("sleep %d = %s, want 3s", i, d)
		}
	}
}

func TestRunFailed(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	p := newPoller(clock, func(ctx context.Context) (Status, error) {
		return Status{Failed: 1}, nil
	}, nil)

	outcome := p.Run(context.Background(), Config{BaseInterval: 3 * time.Second, Timeout: 600 * time.Second})
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", outcome)
	}
}

func TestRunTimesOut(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	calls := 0
	p := newPoller(clock, func(ctx context.Context) (Status, error) {
		calls++
		return Status{InProgress: 1}, nil
	}, nil)

	outcome := p.Run(context.Background(), Config{BaseInterval: 3 * time.Second, Timeout: 10 * time.Second})
	if outcome != OutcomeTimeout {
		t.Fatalf("outcome = %q, want timeout", outcome)
	}
	if calls == 0 {
		t.Error("fetch never called before timeout")
	}
}

func TestRunSwallowsTransportErrors(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	calls := 0
	p := newPoller(clock, func(ctx context.Context) (Status, error) {
		calls++
		if calls < 4 {
			return Status{}, errors.New("connection reset")
		}
		return Status{Completed: 2}, nil
	}, nil)

	outcome := p.Run(context.Background(), Config{BaseInterval: 3 * time.Second, Timeout: 600 * time.Second})
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed despite fetch errors", outcome)
	}
	if calls != 4 {
		t.Errorf("fetch calls = %d, want 4", calls)
	}
}

func TestRunSlowsDownAfterAMinute(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	var sleeps []time.Duration
	calls := 0
	p := newPoller(clock, func(ctx context.Context) (Status, error) {
		calls++
		if calls < 13 {
			return Status{InProgress: 1}, nil
		}
		return Status{Completed: 1}, nil
	}, &sleeps)

	outcome := p.Run(context.Background(), Config{BaseInterval: 6 * time.Second, Timeout: 600 * time.Second})
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed", outcome)
	}
	if len(sleeps) != 12 {
		t.Fatalf("sleeps = %d, want 12", len(sleeps))
	}
	for i := 0; i < 10; i++ {
		if sleeps[i] != 6*time.Second {
			t.Errorf("sleep %d = %s, want 6s", i, sleeps[i])
		}
	}
	// 2 * 6s would be 12s; the interval is capped at 10s.
	for i := 10; i < 12; i++ {
		if sleeps[i] != 10*time.Second {
			t.Errorf("sleep %d = %s, want capped 10s", i, sleeps[i])
		}
	}
}

type recordingObserver struct {
	statuses []Status
}

func (r *recordingObserver) StatusChanged(status Status, elapsed time.Duration) {
	r.statuses = append(r.statuses, status)
}

func TestObserverFiresOncePerDistinctStatus(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	sequence := []Status{
		{InProgress: 2},
		{InProgress: 2},
		{InProgress: 1, Completed: 1},
		{InProgress: 1, Completed: 1},
		{Completed: 2},
	}
	calls := 0
	p := newPoller(clock, func(ctx context.Context) (Status, error) {
		status := sequence[calls]
		calls++
		return status, nil
	}, nil)

	obs := &recordingObserver{}
	outcome := p.RunWithObserver(context.Background(), Config{BaseInterval: 3 * time.Second, Timeout: 600 * time.Second}, obs)
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed", outcome)
	}
	want := []Status{
		{InProgress: 2},
		{InProgress: 1, Completed: 1},
		{Completed: 2},
	}
	if len(obs.statuses) != len(want) {
		t.Fatalf("observer notified %d times, want %d: %+v", len(obs.statuses), len(want), obs.statuses)
	}
	for i := range want {
		if obs.statuses[i] != want[i] {
			t.Errorf("observer call %d = %+v, want %+v", i, obs.statuses[i], want[i])
		}
	}
}
