package reader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"sags/frame"
	"sags/tagcache"
)

// ErrTransport marks a failure of the device link itself. A source that
// reports it stays down until it is restarted.
var ErrTransport = errors.New("reader transport error")

// Observation is a tag the cache judged new.
type Observation struct {
	ID  string
	Tag frame.Tag
	At  time.Time
}

// Source is the interface for all tag sources.
// A source owns its device; callers only ever see observations through Poll.
type Source interface {
	// Start opens the device if needed and begins reading in the background.
	Start(ctx context.Context) error

	// Poll takes the freshest new tag, if any. It never blocks on the device.
	// A non-nil error means the source is down (ErrTransport).
	Poll() (Observation, bool, error)

	// Stop ends reading and releases the device.
	Stop() error
}

// Injector is implemented by sources that accept simulated reads.
type Injector interface {
	Inject(id string) bool
}

// Config holds configuration for tag sources.
type Config struct {
	Type          string `yaml:"type"`             // "serial", "keyboard", "manual"
	Driver        string `yaml:"driver"`           // serial driver: "bugst" (default) or "tarm"
	Device        string `yaml:"device"`           // e.g. "/dev/ttyUSB0", "/dev/input/event0"
	Baud          int    `yaml:"baud"`             // default 115200
	IDMode        string `yaml:"id_mode"`          // "legacy" (default) or "epc"
	CacheTTLSecs  int    `yaml:"cache_ttl_secs"`   // dedup window, default 5
	MaxTagAgeSecs int    `yaml:"max_tag_age_secs"` // older observations are discarded, default 10
	Digits        int    `yaml:"digits"`           // keyboard: expected hex digits, 0 = any
}

// New creates a Source based on the provided configuration. Serial devices
// are opened immediately so that a missing reader fails at startup.
func New(cfg Config, logger *log.Logger) (Source, error) {
	if logger == nil {
		logger = log.Default()
	}

	ttl := time.Duration(cfg.CacheTTLSecs) * time.Second
	maxAge := 10 * time.Second
	if cfg.MaxTagAgeSecs > 0 {
		maxAge = time.Duration(cfg.MaxTagAgeSecs) * time.Second
	}
	cache := tagcache.New(ttl)

	switch cfg.Type {
	case "keyboard":
		return NewKeyboard(cfg.Device, cfg.Digits, cache, maxAge, logger)
	case "manual", "none":
		return NewManual(cache, maxAge), nil
	case "serial", "":
		port, err := OpenSerial(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		s := NewSession(SerialOpener(cfg), SessionOptions{
			Cache:     cache,
			IDMode:    frame.IDMode(cfg.IDMode),
			MaxTagAge: maxAge,
			Logger:    logger,
		})
		s.port = port
		return s, nil
	default:
		return nil, fmt.Errorf("unknown reader type %q", cfg.Type)
	}
}

// slot holds the most recent new observation for the gate cycle to take.
// Writers go through the dedup cache first.
type slot struct {
	mu     sync.Mutex
	cache  *tagcache.Cache
	now    func() time.Time
	maxAge time.Duration
	obs    *Observation
	err    error
}

func (s *slot) init(cache *tagcache.Cache, maxAge time.Duration, now func() time.Time) {
	if cache == nil {
		cache = tagcache.New(0)
	}
	if now == nil {
		now = time.Now
	}
	s.cache, s.maxAge, s.now = cache, maxAge, now
}

// offer stores the tag if the cache has not seen it recently.
func (s *slot) offer(id string, tag frame.Tag) bool {
	if !s.cache.Observe(id) {
		return false
	}
	s.mu.Lock()
	s.obs = &Observation{ID: id, Tag: tag, At: s.now()}
	s.mu.Unlock()
	return true
}

// Poll implements Source.Poll.
func (s *slot) Poll() (Observation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.obs != nil {
		obs := *s.obs
		s.obs = nil
		if s.maxAge <= 0 || s.now().Sub(obs.At) <= s.maxAge {
			return obs, true, nil
		}
	}
	return Observation{}, false, s.err
}

// Inject feeds a simulated read through the cache.
func (s *slot) Inject(id string) bool {
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return false
	}
	return s.offer(id, frame.Tag{EPC: strings.ToLower(id)})
}

// Err returns the error that took the source down, if any.
func (s *slot) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *slot) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Manual is a Source fed only through Inject, for bench setups without a reader.
type Manual struct {
	slot
}

// NewManual creates a Manual source.
func NewManual(cache *tagcache.Cache, maxAge time.Duration) *Manual {
	m := &Manual{}
	m.init(cache, maxAge, nil)
	return m
}

// Start implements Source.Start.
func (m *Manual) Start(ctx context.Context) error { return nil }

// Stop implements Source.Stop.
func (m *Manual) Stop() error { return nil }
