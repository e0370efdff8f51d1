// Package sensor reads the vehicle presence sensor. The sensor output is
// active-low: the line is pulled up and a vehicle pulls it to ground.
package sensor

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNotSupported = errors.New("gpio sensor not supported on this platform")

// Sensor reports whether a vehicle is present.
type Sensor interface {
	Present() (bool, error)
	Release() error
}

// Config holds configuration for the presence sensor.
type Config struct {
	Type       string `yaml:"type"`        // "cdev" (default), "mem", "sim", "none"
	Chip       string `yaml:"chip"`        // cdev: default "gpiochip0"
	Pin        int    `yaml:"pin"`         // BCM line number, e.g. 17
	DebounceMs int    `yaml:"debounce_ms"` // cdev only, default 20
	ActiveHigh bool   `yaml:"active_high"` // invert for sensors that drive high on detection
}

// New creates a Sensor based on the provided configuration.
func New(cfg Config) (Sensor, error) {
	switch cfg.Type {
	case "none":
		return &Noop{}, nil
	case "sim":
		return &Simulated{}, nil
	case "mem":
		return newMem(cfg)
	case "cdev", "":
		if cfg.Chip == "" {
			cfg.Chip = "gpiochip0"
		}
		if cfg.DebounceMs == 0 {
			cfg.DebounceMs = 20
		}
		return newCdev(cfg)
	default:
		return nil, fmt.Errorf("unknown sensor type %q", cfg.Type)
	}
}

// present maps a raw line level to presence.
func present(level int, activeHigh bool) bool {
	if activeHigh {
		return level != 0
	}
	return level == 0
}

// Noop never sees a vehicle.
type Noop struct{}

func (*Noop) Present() (bool, error) { return false, nil }
func (*Noop) Release() error         { return nil }

// Simulated is set from outside, by the event pipe or by tests.
type Simulated struct {
	mu      sync.Mutex
	present bool
	err     error
}

func (s *Simulated) Present() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present, s.err
}

// Set changes the simulated presence.
func (s *Simulated) Set(present bool) {
	s.mu.Lock()
	s.present = present
	s.mu.Unlock()
}

// SetErr makes subsequent reads fail with err; nil clears it.
func (s *Simulated) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (*Simulated) Release() error { return nil }
