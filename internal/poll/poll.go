// Package poll implements a bounded status-polling loop with an adaptive
// interval, used to wait for remote index builds to settle.
package poll

import (
	"context"
	"time"
)

// Outcome is the terminal result of a polling session.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
)

const (
	slowdownAfter = 60 * time.Second
	maxInterval   = 10 * time.Second
)

// Status is one observation of the polled resource.
type Status struct {
	State      string
	InProgress int
	Completed  int
	Failed     int
}

// Terminal reports whether the observation decides the session: all files
// settled with at least one success means completed, any failure means
// failed.
func (s Status) Terminal() (Outcome, bool) {
	if s.Failed > 0 {
		return OutcomeFailed, true
	}
	if s.InProgress == 0 && s.Completed > 0 {
		return OutcomeCompleted, true
	}
	return "", false
}

// Observer is notified at most once per distinct status observed.
type Observer interface {
	StatusChanged(status Status, elapsed time.Duration)
}

// Config bounds one polling session.
type Config struct {
	BaseInterval time.Duration
	Timeout      time.Duration
}

// Poller drives polling sessions against a fetch function. Now and Sleep
// are injectable for tests and default to real time.
type Poller struct {
	Fetch func(ctx context.Context) (Status, error)
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run polls until a terminal observation or the timeout elapses. Transport
// errors from Fetch are swallowed and polling continues; only the timeout
// is a hard exit. The interval doubles (capped at 10s) once the session
// has run for a minute.
func (p *Poller) Run(ctx context.Context, cfg Config) Outcome {
	return p.RunWithObserver(ctx, cfg, nil)
}

// RunWithObserver is Run with a change-triggered observer attached.
func (p *Poller) RunWithObserver(ctx context.Context, cfg Config, obs Observer) Outcome {
	start := p.now()
	var last Status
	seen := false

	for {
		elapsed := p.now().Sub(start)
		if elapsed > cfg.Timeout {
			return OutcomeTimeout
		}

		status, err := p.Fetch(ctx)
		if err == nil {
			if obs != nil && (!seen || status != last) {
				obs.StatusChanged(status, elapsed)
			}
			last = status
			seen = true

			if outcome, done := status.Terminal(); done {
				return outcome
			}
		}

		interval := cfg.BaseInterval
		if elapsed >= slowdownAfter {
			interval = 2 * cfg.BaseInterval
			if interval > maxInterval {
				interval = maxInterval
			}
		}
		if err := p.sleep(ctx, interval); err != nil {
			return OutcomeTimeout
		}
	}
}
