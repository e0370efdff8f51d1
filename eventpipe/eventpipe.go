// Package eventpipe reads simulated gate events from a named pipe, for
// bench testing without a vehicle, a reader or the peer machine.
package eventpipe

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Config holds configuration for the event pipe.
type Config struct {
	Path string `yaml:"path"` // Path to named pipe (e.g., "/tmp/sags-events")
}

// EventType identifies what a pipe line simulates.
type EventType int

const (
	EventSensor EventType = iota
	EventTag
	EventTrigger
)

// Event is one simulated hardware or peer event.
type Event struct {
	Type    EventType
	Present bool   // EventSensor
	TagID   string // EventTag
}

// EventHandler is called when an event is received from the pipe.
type EventHandler func(Event)

// EventPipe listens for events on a named pipe.
type EventPipe struct {
	path    string
	handler EventHandler
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a new EventPipe. Returns nil if path is empty.
func New(cfg Config, handler EventHandler) (*EventPipe, error) {
	if cfg.Path == "" {
		return nil, nil
	}

	// Remove existing pipe if it exists
	os.Remove(cfg.Path)

	// Create the named pipe
	if err := syscall.Mkfifo(cfg.Path, 0666); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPipe{
		path:    cfg.Path,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}

	return ep, nil
}

// Start begins listening for events on the pipe.
// This should be called as a goroutine.
func (ep *EventPipe) Start() {
	log.Printf("Event pipe listening on %s", ep.path)

	for {
		select {
		case <-ep.ctx.Done():
			return
		default:
		}

		// Open pipe for reading (blocks until writer connects)
		// We open in non-blocking mode first, then switch to blocking
		// This allows us to check for context cancellation
		file, err := os.OpenFile(ep.path, os.O_RDONLY, 0)
		if err != nil {
			if ep.ctx.Err() != nil {
				return
			}
			log.Printf("Event pipe open error: %v", err)
			continue
		}

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			select {
			case <-ep.ctx.Done():
				file.Close()
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			event, err := parseLine(line)
			if err != nil {
				log.Printf("Event pipe parse error: %v", err)
				continue
			}

			if ep.handler != nil {
				ep.handler(event)
			}
		}

		file.Close()
		// Writer closed the pipe, loop back to wait for next writer
	}
}

// Close stops the event pipe listener and removes the pipe.
func (ep *EventPipe) Close() error {
	ep.cancel()
	return os.Remove(ep.path)
}

// parseLine parses a command line into an Event.
// Command format:
//
//	sensor <0|1>                    - Vehicle sensor (1=vehicle present)
//	tag <epc>                       - Tag read, hex identifier
//	rfid <epc>                      - Alias for tag
//	trigger                         - Peer trigger, as if POST /trigger arrived
func parseLine(line string) (Event, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return Event{}, fmt.Errorf("empty command")
	}

	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "sensor":
		if len(parts) < 2 {
			return Event{}, fmt.Errorf("sensor requires <0|1>")
		}
		present, err := strconv.ParseBool(parts[1])
		if err != nil {
			return Event{}, fmt.Errorf("invalid sensor state: %s", parts[1])
		}
		return Event{Type: EventSensor, Present: present}, nil

	case "rfid", "tag":
		if len(parts) < 2 {
			return Event{}, fmt.Errorf("tag requires tag ID")
		}
		id := strings.ToUpper(parts[1])
		if _, err := hex.DecodeString(id); err != nil {
			return Event{}, fmt.Errorf("invalid tag ID: %s", parts[1])
		}
		return Event{Type: EventTag, TagID: id}, nil

	case "trigger":
		return Event{Type: EventTrigger}, nil

	default:
		return Event{}, fmt.Errorf("unknown command: %s", cmd)
	}
}
