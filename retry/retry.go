// Package retry provides the bounded-attempt and fixed-interval polling
// loops used by the gate cycle. Waiting goes through a Clock so the policy
// can be exercised without real time passing.
package retry

import (
	"context"
	"errors"
	"time"
)

var (
	ErrExhausted = errors.New("attempts exhausted")
	ErrTimeout   = errors.New("poll timed out")
)

// Clock is the time source used for waits.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock uses the wall clock.
var RealClock Clock = realClock{}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, clk Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}

// Policy is a fixed number of attempts with a fixed delay between them.
type Policy struct {
	Attempts int
	Interval time.Duration
	Clock    Clock
}

// Do calls fn until it reports done, returns an error, or the attempts run
// out. The delay only happens between attempts, never after the last one.
// It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(attempt int) (bool, error)) (int, error) {
	clk := p.Clock
	if clk == nil {
		clk = RealClock
	}
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return i - 1, err
		}
		done, err := fn(i)
		if err != nil {
			return i, err
		}
		if done {
			return i, nil
		}
		if i < attempts {
			if err := Sleep(ctx, clk, p.Interval); err != nil {
				return i, err
			}
		}
	}
	return attempts, ErrExhausted
}

// Until calls cond every interval until it returns true. A zero timeout
// waits indefinitely; otherwise ErrTimeout is returned once timeout has
// elapsed on clk.
func Until(ctx context.Context, clk Clock, interval, timeout time.Duration, cond func() (bool, error)) error {
	if clk == nil {
		clk = RealClock
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = clk.Now().Add(timeout)
	}

	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !deadline.IsZero() && !clk.Now().Before(deadline) {
			return ErrTimeout
		}
		if err := Sleep(ctx, clk, interval); err != nil {
			return err
		}
	}
}
