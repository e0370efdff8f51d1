package reader

import (
	"errors"
	"fmt"
	"io"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
)

const defaultBaud = 115200

// Port is the byte link to a reader. Read must return (0, nil) when no
// data arrives within the driver's read timeout.
type Port interface {
	io.ReadWriteCloser

	// ResetInput discards anything buffered by the driver.
	ResetInput() error
}

// Opener opens a fresh Port, used again when a session is restarted.
type Opener func() (Port, error)

// SerialOpener returns an Opener for the configured serial device.
func SerialOpener(cfg Config) Opener {
	return func() (Port, error) { return OpenSerial(cfg) }
}

// OpenSerial opens the reader's serial device with the configured driver.
func OpenSerial(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("no serial device configured")
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = defaultBaud
	}

	switch cfg.Driver {
	case "tarm":
		return openTarm(cfg.Device, baud)
	case "bugst", "":
		return openBugst(cfg.Device, baud)
	default:
		return nil, fmt.Errorf("unknown serial driver %q", cfg.Driver)
	}
}

type bugstPort struct {
	serial.Port
}

func openBugst(device string, baud int) (*bugstPort, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	if err := p.SetReadTimeout(50 * time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout %s: %w", device, err)
	}

	bp := &bugstPort{Port: p}
	_ = bp.ResetInput()
	return bp, nil
}

func (p *bugstPort) ResetInput() error {
	return p.Port.ResetInputBuffer()
}

type tarmPort struct {
	*tarm.Port
}

func openTarm(device string, baud int) (*tarmPort, error) {
	c := &tarm.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	}
	p, err := tarm.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	return &tarmPort{Port: p}, nil
}

// Read maps the driver's EOF-on-timeout to an empty read.
func (p *tarmPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

func (p *tarmPort) ResetInput() error {
	return p.Port.Flush()
}
