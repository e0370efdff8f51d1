package door

import (
	"fmt"

	"github.com/hjkoskel/govattu"
)

// Gate is the interface for all gate actuators.
type Gate interface {
	// Open raises the barrier.
	Open() error

	// Close lowers the barrier.
	Close() error

	// Release returns the actuator to a safe state and frees the hardware.
	Release() error
}

// Config holds configuration for gate actuators.
type Config struct {
	Type       string `yaml:"type"`        // "servo", "gpio_high", "gpio_low", "none"
	Pin        *int   `yaml:"pin"`         // GPIO pin number, 18 for PWM0
	OpenAngle  int    `yaml:"open_angle"`  // servo degrees, default 90
	CloseAngle int    `yaml:"close_angle"` // servo degrees, default 0
	SettleMs   int    `yaml:"settle_ms"`   // servo drive time before the pulse stops, default 500
}

// New creates a Gate based on the provided configuration.
func New(cfg Config) (Gate, error) {
	if cfg.Pin == nil || cfg.Type == "none" {
		return &Noop{}, nil
	}

	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	switch cfg.Type {
	case "servo", "":
		if cfg.OpenAngle == 0 {
			cfg.OpenAngle = 90
		}
		if cfg.SettleMs == 0 {
			cfg.SettleMs = 500
		}
		return NewServo(hw, uint8(*cfg.Pin), cfg.OpenAngle, cfg.CloseAngle, cfg.SettleMs)
	case "gpio_high", "openhigh":
		return NewGPIO(hw, uint8(*cfg.Pin), true)
	case "gpio_low", "openlow":
		return NewGPIO(hw, uint8(*cfg.Pin), false)
	default:
		hw.Close()
		return nil, fmt.Errorf("unknown gate type %q", cfg.Type)
	}
}
