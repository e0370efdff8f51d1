// Package trigger carries the vehicle-detected signal between the gate
// machine and the camera machine, and the captured frame back again.
package trigger

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum spacing of accepted triggers.
const DefaultCooldown = 5 * time.Second

// Cooldown accepts an event only when the window has passed since the last
// accepted one. Rejected events do not move the window.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	last   time.Time
	seen   bool
}

// NewCooldown creates a Cooldown; a nil now uses the wall clock.
func NewCooldown(window time.Duration, now func() time.Time) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Cooldown{window: window, now: now}
}

// Allow reports whether an event arriving now is accepted, recording it if so.
func (c *Cooldown) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now()
	if c.seen && t.Sub(c.last) <= c.window {
		return false
	}
	c.last, c.seen = t, true
	return true
}

// Remaining is how long until the next event would be accepted.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seen {
		return 0
	}
	if d := c.window - c.now().Sub(c.last); d > 0 {
		return d
	}
	return 0
}
