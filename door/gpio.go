package door

import (
	"github.com/hjkoskel/govattu"
)

// GPIO drives a barrier whose motor controller takes a single raise/lower
// line, usually through a relay board.
type GPIO struct {
	hw       govattu.Vattu
	pin      uint8
	raiseLvl bool // line level that raises the barrier
}

// NewGPIO claims pin as an output and lowers the barrier.
func NewGPIO(hw govattu.Vattu, pin uint8, raiseHigh bool) (*GPIO, error) {
	hw.PinMode(pin, govattu.ALToutput)
	g := &GPIO{hw: hw, pin: pin, raiseLvl: raiseHigh}
	g.drive(false)
	return g, nil
}

func (g *GPIO) drive(raise bool) {
	if raise == g.raiseLvl {
		g.hw.PinSet(g.pin)
	} else {
		g.hw.PinClear(g.pin)
	}
}

func (g *GPIO) Open() error {
	g.drive(true)
	return nil
}

func (g *GPIO) Close() error {
	g.drive(false)
	return nil
}

// Release leaves the barrier down before unmapping the registers.
func (g *GPIO) Release() error {
	g.drive(false)
	return g.hw.Close()
}
