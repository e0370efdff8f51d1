package reader

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/kenshaw/evdev"

	"sags/frame"
	"sags/tagcache"
)

// Keyboard is a Source for USB readers that type the tag's hex identifier
// followed by Enter.
type Keyboard struct {
	slot

	device    *evdev.Evdev
	numDigits int // expected number of digits (0 = any)
	logger    *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKeyboard opens the input device. digits, when non-zero, rejects lines
// of any other length.
func NewKeyboard(device string, digits int, cache *tagcache.Cache, maxAge time.Duration, logger *log.Logger) (*Keyboard, error) {
	dev, err := evdev.OpenFile(device)
	if err != nil {
		return nil, fmt.Errorf("%w: open evdev %s: %v", ErrTransport, device, err)
	}
	if logger == nil {
		logger = log.Default()
	}

	logger.Printf("Opened keyboard device: %s", dev.Name())
	logger.Printf("Vendor: 0x%04x, Product: 0x%04x", dev.ID().Vendor, dev.ID().Product)

	k := &Keyboard{device: dev, numDigits: digits, logger: logger}
	k.init(cache, maxAge, nil)
	return k, nil
}

// Start implements Source.Start.
func (k *Keyboard) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.done != nil {
		return nil
	}
	ctx, k.cancel = context.WithCancel(ctx)
	k.done = make(chan struct{})
	go k.run(ctx, k.done)
	go k.cache.Run(ctx, 0)
	return nil
}

func (k *Keyboard) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ch := k.device.Poll(ctx)
	var line strings.Builder

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			if event == nil {
				k.setErr(fmt.Errorf("%w: keyboard device closed", ErrTransport))
				return
			}
			if _, ok := event.Type.(evdev.KeyType); !ok || event.Value != 1 {
				continue
			}
			if event.Type == evdev.KeyEnter {
				k.line(line.String())
				line.Reset()
				continue
			}
			line.WriteString(evdev.KeyType(event.Code).String())
		}
	}
}

// line handles one Enter-terminated line of typed characters.
func (k *Keyboard) line(s string) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return
	}
	if k.numDigits > 0 && len(s) != k.numDigits {
		k.logger.Printf("Bad badge: expected %d digits, got %d (%q)", k.numDigits, len(s), s)
		return
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789ABCDEF", c) {
			k.logger.Printf("Bad badge line %q: not hex", s)
			return
		}
	}
	if k.offer(s, frame.Tag{EPC: strings.ToLower(s)}) {
		k.logger.Printf("RFID tag: %s (keyboard)", s)
	}
}

// Stop implements Source.Stop.
func (k *Keyboard) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		k.cancel()
		<-k.done
		k.cancel, k.done = nil, nil
	}
	if k.device == nil {
		return nil
	}
	err := k.device.Close()
	k.device = nil
	return err
}
