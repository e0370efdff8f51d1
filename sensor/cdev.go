//go:build linux

package sensor

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"github.com/warthog618/gpio"
)

// Cdev reads the sensor through the GPIO character device.
type Cdev struct {
	line       *gpiocdev.Line
	activeHigh bool
}

func newCdev(cfg Config) (Sensor, error) {
	bias := gpiocdev.WithPullUp
	if cfg.ActiveHigh {
		bias = gpiocdev.WithPullDown
	}
	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Pin,
		gpiocdev.AsInput,
		bias,
		gpiocdev.WithDebounce(time.Duration(cfg.DebounceMs)*time.Millisecond),
		gpiocdev.WithConsumer("sags-sensor"))
	if err != nil {
		return nil, fmt.Errorf("request sensor line %s:%d: %w", cfg.Chip, cfg.Pin, err)
	}
	return &Cdev{line: line, activeHigh: cfg.ActiveHigh}, nil
}

func (c *Cdev) Present() (bool, error) {
	v, err := c.line.Value()
	if err != nil {
		return false, err
	}
	return present(v, c.activeHigh), nil
}

func (c *Cdev) Release() error {
	return c.line.Close()
}

// Mem reads the sensor through /dev/gpiomem, for kernels without the
// character device uAPI.
type Mem struct {
	pin        *gpio.Pin
	activeHigh bool
}

func newMem(cfg Config) (Sensor, error) {
	if err := gpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpiomem: %w", err)
	}
	pin := gpio.NewPin(cfg.Pin)
	pin.Input()
	if cfg.ActiveHigh {
		pin.PullDown()
	} else {
		pin.PullUp()
	}
	return &Mem{pin: pin, activeHigh: cfg.ActiveHigh}, nil
}

func (m *Mem) Present() (bool, error) {
	level := 0
	if m.pin.Read() == gpio.High {
		level = 1
	}
	return present(level, m.activeHigh), nil
}

func (m *Mem) Release() error {
	return gpio.Close()
}
