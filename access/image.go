package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sags/camera"
	"sags/retry"
)

// ErrNoUpload is returned when the peer accepted a trigger but no frame
// arrived in time.
var ErrNoUpload = errors.New("no frame uploaded")

// FrameSource is the latest-frame slot.
type FrameSource interface {
	Latest() ([]byte, time.Time, error)
}

// SlotImage persists the latest local frame for the cycle, for a machine
// that has both the camera and the gate.
type SlotImage struct {
	Frames FrameSource
	Path   string
	Clock  retry.Clock
}

func (si *SlotImage) Image(ctx context.Context, s *Session) (string, error) {
	frame, _, err := si.Frames.Latest()
	if err != nil {
		return "", err
	}
	if err := camera.WriteAtomic(si.Path, frame); err != nil {
		return "", fmt.Errorf("persist frame: %w", err)
	}
	if si.Clock != nil {
		s.LastTriggerAt = si.Clock.Now()
	} else {
		s.LastTriggerAt = time.Now()
	}
	return si.Path, nil
}

// Triggerer asks the camera machine for a frame.
type Triggerer interface {
	SendTrigger(ctx context.Context) error
}

// PeerImage triggers the camera machine and waits for the frame it uploads
// back. The upload handler hands arriving files to Deliver.
type PeerImage struct {
	trigger Triggerer
	wait    time.Duration
	clock   retry.Clock

	mu      sync.Mutex
	waiting chan string
}

func NewPeerImage(t Triggerer, wait time.Duration, clk retry.Clock) *PeerImage {
	if wait <= 0 {
		wait = 10 * time.Second
	}
	if clk == nil {
		clk = retry.RealClock
	}
	return &PeerImage{trigger: t, wait: wait, clock: clk}
}

func (p *PeerImage) Image(ctx context.Context, s *Session) (string, error) {
	ch := make(chan string, 1)
	p.mu.Lock()
	p.waiting = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.waiting = nil
		p.mu.Unlock()
	}()

	s.LastTriggerAt = p.clock.Now()
	if err := p.trigger.SendTrigger(ctx); err != nil {
		return "", err
	}

	select {
	case path := <-ch:
		return path, nil
	default:
	}
	select {
	case path := <-ch:
		return path, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.clock.After(p.wait):
		return "", fmt.Errorf("%w within %s", ErrNoUpload, p.wait)
	}
}

// Deliver passes an uploaded frame to the cycle waiting for one. It returns
// false when no cycle is waiting.
func (p *PeerImage) Deliver(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waiting == nil {
		return false
	}
	select {
	case p.waiting <- path:
		return true
	default:
		return false
	}
}
