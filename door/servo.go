package door

import (
	"fmt"
	"time"

	"github.com/hjkoskel/govattu"
)

// pwmRange is one 20ms servo period at the 1MHz PWM clock set below.
const pwmRange = 20000

// pulse returns the PWM value for a servo angle: a duty cycle of
// 2% + angle/18 %, so 0 degrees is 400us and 90 degrees is 1400us.
func pulse(angle int) uint32 {
	return uint32(pwmRange * (2 + float64(angle)/18) / 100)
}

// Servo implements Gate using a hobby servo on PWM0.
type Servo struct {
	hw       govattu.Vattu
	pin      uint8
	openPos  uint32
	closePos uint32
	settle   time.Duration
	isOpen   bool
}

// NewServo creates a servo gate and drives it to the closed angle.
func NewServo(hw govattu.Vattu, pin uint8, openAngle, closeAngle, settleMs int) (*Servo, error) {
	if openAngle < 0 || openAngle > 180 || closeAngle < 0 || closeAngle > 180 {
		hw.Close()
		return nil, fmt.Errorf("servo angles %d/%d outside 0-180", openAngle, closeAngle)
	}
	hw.PinMode(pin, govattu.ALT5) // ALT5 for PWM0
	hw.PwmSetMode(true, true, false, false)
	hw.PwmSetClock(19)
	hw.Pwm0SetRange(pwmRange)

	s := &Servo{
		hw:       hw,
		pin:      pin,
		openPos:  pulse(openAngle),
		closePos: pulse(closeAngle),
		settle:   time.Duration(settleMs) * time.Millisecond,
	}

	s.hw.Pwm0Set(s.closePos)
	time.Sleep(s.settle)
	s.hw.Pwm0Set(0)
	return s, nil
}

// Open implements Gate.Open.
func (s *Servo) Open() error {
	s.moveFromTo(s.closePos, s.openPos)
	s.isOpen = true
	return nil
}

// Close implements Gate.Close.
func (s *Servo) Close() error {
	s.moveFromTo(s.openPos, s.closePos)
	s.isOpen = false
	return nil
}

// Release lowers the arm if it is up, stops the pulse and frees the
// registers.
func (s *Servo) Release() error {
	if s.isOpen {
		s.Close()
	}
	s.hw.Pwm0Set(0)
	return s.hw.Close()
}

// moveFromTo sweeps the pulse, holds the end position for the settle time
// and then stops driving so the servo does not jitter.
func (s *Servo) moveFromTo(from, to uint32) {
	step := int64(10)
	if to < from {
		step = -step
	}
	for i := int64(from); (step > 0 && i < int64(to)) || (step < 0 && i > int64(to)); i += step {
		s.hw.Pwm0Set(uint32(i))
		time.Sleep(2 * time.Millisecond)
	}
	s.hw.Pwm0Set(to)
	time.Sleep(s.settle)
	s.hw.Pwm0Set(0)
}
