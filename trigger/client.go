package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrPeerUnreachable wraps every failure to reach the other machine.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrCooldown is returned when the peer rejected a trigger with 429.
	ErrCooldown = errors.New("trigger rejected: cooldown")
)

// Config covers both the server and the peer client.
type Config struct {
	Listen         string `yaml:"listen"`           // e.g. ":5000"
	PeerURL        string `yaml:"peer_url"`         // e.g. "http://10.15.20.11:5000"
	CooldownSecs   int    `yaml:"cooldown_secs"`    // default 5
	TimeoutSecs    int    `yaml:"timeout_secs"`     // per request, default 5
	UploadDir      string `yaml:"upload_dir"`       // default "uploads"
	UploadWaitSecs int    `yaml:"upload_wait_secs"` // gate waits this long for a frame, default 10
	FramePath      string `yaml:"frame_path"`       // default "frame.jpg"
}

// Client talks to the peer machine's trigger server.
type Client struct {
	base   string
	client *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(cfg.PeerURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(req *http.Request) (Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer resp.Body.Close()

	var out Response
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &out); err != nil {
		out.Error = strings.TrimSpace(string(body))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return out, ErrCooldown
	case resp.StatusCode != http.StatusOK:
		return out, fmt.Errorf("%w: %s: %s", ErrPeerUnreachable, resp.Status, out.Error)
	}
	return out, nil
}

// SendTrigger tells the peer a vehicle is present.
func (c *Client) SendTrigger(ctx context.Context) error {
	body, _ := json.Marshal(Request{Trigger: TriggerObjectDetected})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/trigger", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req)
	return err
}

// Upload sends the file at path as the multipart field "file".
func (c *Client) Upload(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	fw.Write(data)
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", &buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, err = c.do(req)
	return err
}
