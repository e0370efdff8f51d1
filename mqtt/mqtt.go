// Package mqtt publishes gate events to the broker and receives remote open
// commands. An empty host yields a disabled client whose calls are no-ops.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Client is a gate node's link to the site broker.
type Client struct {
	client   paho.Client
	clientID string
	cfg      Config
	enabled  bool
	h        Handlers
}

// Config holds the broker address and the gate node's credentials.
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`

	// OpenSecret is the base64 HMAC key for remote open requests; empty
	// disables remote open.
	OpenSecret string `yaml:"open_secret"`
	// OpenGate is the gate name a remote open request must carry.
	OpenGate string `yaml:"open_gate"`
	// PingSecs is the interval between ping messages, default 120.
	PingSecs int `yaml:"ping_secs"`
}

// Handlers are called from paho's goroutines. OnConnect runs after every
// (re)connect, so it is where the node subscribes to its control topics.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
	OnMessage    func(topic string, payload []byte)
}

// New builds the client for node clientID. With no host configured the
// node runs offline and New returns a disabled client.
func New(cfg Config, clientID string, handlers Handlers) (*Client, error) {
	c := &Client{clientID: clientID, cfg: cfg, h: handlers}
	if cfg.Host == "" {
		log.Println("MQTT disabled (no host configured)")
		return c, nil
	}
	c.enabled = true

	broker, tlsConfig, err := brokerURL(cfg)
	if err != nil {
		return nil, err
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(c.lost).
		SetOnConnectHandler(c.connected).
		SetDefaultPublishHandler(c.control)
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	c.client = paho.NewClient(opts)

	paho.ERROR = log.New(os.Stdout, "[MQTT ERROR] ", 0)
	paho.CRITICAL = log.New(os.Stdout, "[MQTT CRIT] ", 0)
	paho.WARN = log.New(os.Stdout, "[MQTT WARN] ", 0)

	return c, nil
}

// brokerURL picks ssl:// when any certificate is configured, tcp:// on
// port 1883 otherwise.
func brokerURL(cfg Config) (string, *tls.Config, error) {
	if cfg.CACert == "" && cfg.ClientCert == "" {
		if cfg.Port == 0 {
			cfg.Port = 1883
		}
		log.Println("MQTT using non-TLS connection")
		return fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port), nil, nil
	}

	tlsConfig := &tls.Config{}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return "", nil, fmt.Errorf("read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(pem)
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return "", nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port), tlsConfig, nil
}

// Connect blocks until the first connection to the broker succeeds. An
// offline node reports itself connected at once so the indicator shows
// Ready rather than Offline.
func (c *Client) Connect() error {
	if !c.enabled {
		if c.h.OnConnect != nil {
			c.h.OnConnect()
		}
		return nil
	}
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	log.Println("MQTT connected")
	return nil
}

func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// Subscribe listens on a control topic at QoS 0.
func (c *Client) Subscribe(topic string) error {
	if !c.enabled {
		return nil
	}
	if token := c.client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// ClientID returns the node identifier the topics are built from.
func (c *Client) ClientID() string {
	return c.clientID
}

// Publish sends a status message, fire and forget.
func (c *Client) Publish(topic string, payload string) {
	if !c.enabled {
		return
	}
	c.client.Publish(topic, 0, false, payload)
}

func (c *Client) IsEnabled() bool {
	return c.enabled
}

func (c *Client) connected(paho.Client) {
	log.Println("MQTT connection established")
	if c.h.OnConnect != nil {
		c.h.OnConnect()
	}
}

func (c *Client) lost(_ paho.Client, err error) {
	log.Printf("MQTT connection lost: %v", err)
	if c.h.OnDisconnect != nil {
		c.h.OnDisconnect()
	}
}

// control delivers messages on the node's control topics.
func (c *Client) control(_ paho.Client, msg paho.Message) {
	if c.h.OnMessage != nil {
		c.h.OnMessage(msg.Topic(), msg.Payload())
	}
}
