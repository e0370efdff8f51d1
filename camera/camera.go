// Package camera keeps the most recent JPEG frame from an IP camera and
// persists frames without ever exposing a partial file.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoFrame is returned when no frame has been captured yet.
var ErrNoFrame = errors.New("no frame captured")

type Config struct {
	SnapshotURL string `yaml:"snapshot_url"` // HTTP JPEG snapshot endpoint
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	IntervalMs  int    `yaml:"interval_ms"` // capture period, default 200
	FramePath   string `yaml:"frame_path"`  // where a triggered frame is persisted, default "captured_image.jpg"
}

// Slot holds the latest frame. Capture writes it; any number of readers
// take copies.
type Slot struct {
	mu    sync.RWMutex
	frame []byte
	at    time.Time
}

// Set stores a copy of frame as the latest.
func (s *Slot) Set(frame []byte, at time.Time) {
	b := append([]byte(nil), frame...)
	s.mu.Lock()
	s.frame, s.at = b, at
	s.mu.Unlock()
}

// Latest returns a copy of the latest frame and its capture time.
func (s *Slot) Latest() ([]byte, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil, time.Time{}, ErrNoFrame
	}
	return append([]byte(nil), s.frame...), s.at, nil
}

// Camera polls a snapshot URL into a Slot.
type Camera struct {
	cfg    Config
	slot   *Slot
	client *http.Client
	logger *log.Logger
}

func New(cfg Config, slot *Slot, logger *log.Logger) *Camera {
	if logger == nil {
		logger = log.Default()
	}
	return &Camera{
		cfg:    cfg,
		slot:   slot,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// Snapshot fetches one frame.
func (c *Camera) Snapshot(ctx context.Context) ([]byte, error) {
	u, err := url.Parse(c.cfg.SnapshotURL)
	if err != nil {
		return nil, err
	}
	if c.cfg.Username != "" {
		u.User = url.UserPassword(c.cfg.Username, c.cfg.Password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

// Capture fills the slot until ctx is done. Failed snapshots are logged
// once per outage.
func (c *Camera) Capture(ctx context.Context) {
	interval := time.Duration(c.cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	failing := false
	for {
		frame, err := c.Snapshot(ctx)
		switch {
		case err != nil && !failing:
			c.logger.Printf("camera snapshot failed: %v", err)
			failing = true
		case err == nil:
			if failing {
				c.logger.Printf("camera snapshot restored")
				failing = false
			}
			c.slot.Set(frame, time.Now())
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// WriteAtomic writes data to path through a temporary file in the same
// directory that is synced and then renamed over path.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		return err
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
