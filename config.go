package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"sags/access"
	"sags/camera"
	"sags/door"
	"sags/eventpipe"
	"sags/indicator"
	"sags/mqtt"
	"sags/plate"
	"sags/reader"
	"sags/registry"
	"sags/sensor"
	"sags/trigger"
)

// Roles a node can run as.
const (
	RoleGate       = "gate"       // sensor, reader, gate; receives uploads
	RoleCamera     = "camera"     // captures frames; receives triggers
	RoleStandalone = "standalone" // everything in one process
)

// Config is the main configuration structure for SAGS.
type Config struct {
	ClientID string `yaml:"client_id"`
	Role     string `yaml:"role"`

	MQTT      mqtt.Config      `yaml:"mqtt"`
	Reader    reader.Config    `yaml:"reader"`
	Door      door.Config      `yaml:"door"`
	Sensor    sensor.Config    `yaml:"sensor"`
	Indicator indicator.Config `yaml:"indicator"`
	Registry  registry.Config  `yaml:"registry"`
	Plate     plate.Config     `yaml:"plate"`
	Camera    camera.Config    `yaml:"camera"`
	Trigger   trigger.Config   `yaml:"trigger"`
	Access    access.Config    `yaml:"access"`
	EventPipe eventpipe.Config `yaml:"event_pipe"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id missing in config file")
	}
	switch cfg.Role {
	case "":
		cfg.Role = RoleStandalone
	case RoleGate, RoleCamera, RoleStandalone:
	default:
		return nil, fmt.Errorf("unknown role %q", cfg.Role)
	}
	if cfg.Role == RoleGate && cfg.Trigger.PeerURL == "" {
		return nil, fmt.Errorf("role gate needs trigger.peer_url")
	}
	if cfg.Role == RoleCamera && cfg.Trigger.PeerURL == "" {
		return nil, fmt.Errorf("role camera needs trigger.peer_url")
	}
	return &cfg, nil
}

func (c *Config) hasGate() bool   { return c.Role != RoleCamera }
func (c *Config) hasCamera() bool { return c.Role != RoleGate }
