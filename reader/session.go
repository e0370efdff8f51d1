package reader

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"sags/frame"
	"sags/tagcache"
)

// idleDelay paces the drain loop when the port has nothing to offer.
const idleDelay = 10 * time.Millisecond

// SessionOptions configures a Session.
type SessionOptions struct {
	Cache     *tagcache.Cache
	IDMode    frame.IDMode
	MaxTagAge time.Duration
	Logger    *log.Logger
	Now       func() time.Time
}

// Session owns a reader's serial link. A single goroutine drains the port
// and decodes frames; everything else reads the latest-tag slot.
type Session struct {
	slot

	open   Opener
	idMode frame.IDMode
	logger *log.Logger

	ctl    sync.Mutex
	port   Port
	cancel context.CancelFunc
	done   chan struct{}

	// owned by the drain goroutine
	buf     []byte
	readBuf []byte
}

// NewSession creates a session that opens its port with open on Start.
func NewSession(open Opener, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.IDMode == "" {
		opts.IDMode = frame.IDLegacy
	}
	s := &Session{
		open:    open,
		idMode:  opts.IDMode,
		logger:  opts.Logger,
		readBuf: make([]byte, 512),
	}
	s.init(opts.Cache, opts.MaxTagAge, opts.Now)
	return s
}

// Start implements Source.Start: it sends start-inventory and launches the
// drain goroutine.
func (s *Session) Start(ctx context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if s.done != nil {
		return errors.New("session already started")
	}
	if s.port == nil {
		p, err := s.open()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		s.port = p
	}
	s.setErr(nil)
	s.buf = s.buf[:0]

	cmd := frame.Command(frame.CodeStartInventory, nil)
	s.logger.Printf("start inventory: %x", cmd)
	if _, err := s.port.Write(cmd); err != nil {
		return fmt.Errorf("%w: start inventory: %v", ErrTransport, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.port, s.done)
	go s.cache.Run(ctx, 0)
	return nil
}

// Stop implements Source.Stop: it ends the drain goroutine, sends
// stop-inventory and closes the port.
func (s *Session) Stop() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel, s.done = nil, nil
	}
	if s.port == nil {
		return nil
	}

	cmd := frame.Command(frame.CodeStopInventory, nil)
	s.logger.Printf("stop inventory: %x", cmd)
	_, werr := s.port.Write(cmd)
	cerr := s.port.Close()
	s.port = nil
	return errors.Join(werr, cerr)
}

// Restart closes and reopens the device, for recovering after ErrTransport.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		s.logger.Printf("reader stop before restart: %v", err)
	}
	return s.Start(ctx)
}

func (s *Session) loop(ctx context.Context, port Port, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		n, err := s.drain(port)
		if err != nil {
			if errors.Is(err, ErrTransport) {
				s.logger.Printf("reader down: %v", err)
				s.setErr(err)
				return
			}
			s.logger.Printf("reader frame dropped: %v", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(idleDelay):
			}
		}
	}
}

// drain performs one read from port and decodes every complete frame now
// buffered. New tags land in the slot. It returns the number of bytes read
// and the last error met; decode errors only drop their own frame.
func (s *Session) drain(port Port) (int, error) {
	n, err := port.Read(s.readBuf)
	if err != nil {
		return n, fmt.Errorf("%w: read: %v", ErrTransport, err)
	}
	s.buf = append(s.buf, s.readBuf[:n]...)
	return n, s.decode()
}

func (s *Session) decode() error {
	var lastErr error

	for {
		f, used, err := frame.TryDecode(s.buf)
		switch {
		case errors.Is(err, frame.ErrIncomplete):
			return lastErr
		case errors.Is(err, frame.ErrNoMarker):
			skip := resync(s.buf)
			s.logger.Printf("leftover data: %s, length = %d", hex.EncodeToString(s.buf[:skip]), skip)
			s.buf = s.buf[skip:]
			continue
		case err != nil:
			s.buf = s.buf[used:]
			lastErr = err
			continue
		}
		s.buf = s.buf[used:]

		if !f.IsTagNotification() {
			continue
		}
		tag, err := frame.ParseTag(f)
		if err != nil {
			lastErr = err
			continue
		}
		id, err := tag.Identifier(s.idMode)
		if err != nil {
			lastErr = err
			continue
		}
		if s.offer(id, tag) {
			s.logger.Printf("RFID tag: %s (rssi %d)", id, tag.RSSI)
		}
	}
}

// resync returns how many leading bytes to discard to reach the next
// possible frame marker.
func resync(buf []byte) int {
	if i := bytes.Index(buf[1:], []byte(frame.Marker)); i >= 0 {
		return i + 1
	}
	if buf[len(buf)-1] == frame.Marker[0] {
		return len(buf) - 1
	}
	return len(buf)
}
