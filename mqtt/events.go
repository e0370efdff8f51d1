package mqtt

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrOpenDisabled = errors.New("remote open disabled")
	ErrBadSignature = errors.New("signature verification failed")
	ErrWrongGate    = errors.New("open request for another gate")
	ErrStale        = errors.New("open request timestamp out of range")
)

// OpenWindow is how far an open request timestamp may be from local time.
const OpenWindow = 5 * time.Minute

func AccessTopic(clientID string) string {
	return fmt.Sprintf("sags/status/node/%s/access", clientID)
}

func PingTopic(clientID string) string {
	return fmt.Sprintf("sags/status/node/%s/ping", clientID)
}

func OpenTopic(clientID string) string {
	return fmt.Sprintf("sags/control/node/%s/open", clientID)
}

// AccessEvent is published once per completed gate cycle.
type AccessEvent struct {
	Allowed bool
	Plate   string
	Reason  string
	Cycle   string
}

type accessPayload struct {
	Allowed int    `json:"allowed"`
	Plate   string `json:"plate,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Cycle   string `json:"cycle,omitempty"`
}

func (ev AccessEvent) payload() string {
	p := accessPayload{Plate: ev.Plate, Reason: ev.Reason, Cycle: ev.Cycle}
	if ev.Allowed {
		p.Allowed = 1
	}
	b, _ := json.Marshal(p)
	return string(b)
}

// PublishAccess reports the outcome of a cycle.
func (c *Client) PublishAccess(ev AccessEvent) {
	c.Publish(AccessTopic(c.clientID), ev.payload())
}

// PingLoop publishes a liveness message until ctx is done.
func (c *Client) PingLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.PingSecs) * time.Second
	if interval <= 0 {
		interval = 120 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Publish(PingTopic(c.clientID), `{"status":"ok"}`)
		}
	}
}

// OpenRequest is the payload of a remote open command.
type OpenRequest struct {
	Operator  string `json:"operator"`
	Gate      string `json:"gate"`
	Timestamp uint64 `json:"timestamp"`
	Signature string `json:"signature"`
}

// ParseOpen decodes and authenticates a remote open command against the
// client's configured secret and gate name.
func (c *Client) ParseOpen(payload []byte, now time.Time) (OpenRequest, error) {
	return VerifyOpen(payload, c.cfg.OpenSecret, c.cfg.OpenGate, now)
}

// VerifyOpen decodes payload and checks its signature, gate and timestamp.
func VerifyOpen(payload []byte, secret, gate string, now time.Time) (OpenRequest, error) {
	var req OpenRequest
	if secret == "" || gate == "" {
		return req, ErrOpenDisabled
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("decode open request: %w", err)
	}
	if err := verifySignature(secret, req.Operator, req.Gate, req.Timestamp, req.Signature); err != nil {
		return req, err
	}
	if req.Gate != gate {
		return req, fmt.Errorf("%w: got %q, want %q", ErrWrongGate, req.Gate, gate)
	}
	ts := time.Unix(int64(req.Timestamp), 0)
	if now.Before(ts.Add(-OpenWindow)) || now.After(ts.Add(OpenWindow)) {
		return req, ErrStale
	}
	return req, nil
}

// SignOpen returns the hex and base64 HMAC-SHA256 of operator, gate and the
// big-endian timestamp under the base64 secret.
func SignOpen(base64Secret, operator, gate string, ts uint64) (string, string, error) {
	secret, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return "", "", fmt.Errorf("invalid base64 secret: %w", err)
	}
	if len(secret) == 0 {
		return "", "", fmt.Errorf("secret cannot be empty")
	}

	msg := make([]byte, 0, len(operator)+len(gate)+8)
	msg = append(msg, operator...)
	msg = append(msg, gate...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], ts)
	msg = append(msg, tsBuf[:]...)

	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	sum := mac.Sum(nil)
	return hex.EncodeToString(sum), base64.StdEncoding.EncodeToString(sum), nil
}

func verifySignature(base64Secret, operator, gate string, ts uint64, provided string) error {
	sigHex, sigBase64, err := SignOpen(base64Secret, operator, gate, ts)
	if err != nil {
		return err
	}

	// hex first, then base64
	if decoded, err := hex.DecodeString(provided); err == nil {
		expected, _ := hex.DecodeString(sigHex)
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(provided); err == nil {
		expected, _ := base64.StdEncoding.DecodeString(sigBase64)
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}
	return ErrBadSignature
}
