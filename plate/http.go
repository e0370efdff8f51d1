package plate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config configures the inference service client and the Reader.
type Config struct {
	DetectURL     string  `yaml:"detect_url"`     // e.g. "https://detect.roboflow.com"
	OCRURL        string  `yaml:"ocr_url"`        // e.g. "https://infer.roboflow.com"
	Model         string  `yaml:"model"`          // detector model id, e.g. "plate-detection-svkgg/1"
	APIKey        string  `yaml:"api_key"`
	TimeoutSecs   int     `yaml:"timeout_secs"`   // per request, default 15
	Legacy        string  `yaml:"legacy_plate"`   // default "13-954"
	MinConfidence float64 `yaml:"min_confidence"` // 0 keeps every box
	MinCropWidth  int     `yaml:"min_crop_width"` // upscale narrower crops, 0 = never
	AnnotatePath  string  `yaml:"annotate_path"`  // labelled frame output, empty = off
}

// HTTPClient is a Pipeline backed by a hosted inference API.
type HTTPClient struct {
	cfg    Config
	client *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// NewReader builds a Reader around an HTTPClient from cfg.
func NewReader(cfg Config) *Reader {
	legacy := cfg.Legacy
	if legacy == "" {
		legacy = DefaultLegacyPlate
	}
	return &Reader{
		Pipeline:      NewHTTPClient(cfg),
		Legacy:        legacy,
		MinConfidence: cfg.MinConfidence,
		MinCropWidth:  cfg.MinCropWidth,
		Annotate:      cfg.AnnotatePath,
	}
}

func (c *HTTPClient) endpoint(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *HTTPClient) post(ctx context.Context, endpoint, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

func readBase64(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Detect implements Pipeline.Detect.
func (c *HTTPClient) Detect(ctx context.Context, imagePath string) (*Detection, error) {
	img, err := readBase64(imagePath)
	if err != nil {
		return nil, err
	}
	endpoint, err := c.endpoint(c.cfg.DetectURL, c.cfg.Model)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Predictions []Box `json:"predictions"`
	}
	if err := c.post(ctx, endpoint, "application/x-www-form-urlencoded", []byte(img), &resp); err != nil {
		return nil, err
	}
	return &Detection{Boxes: resp.Predictions}, nil
}

// OCR implements Pipeline.OCR.
func (c *HTTPClient) OCR(ctx context.Context, imagePath string) (string, error) {
	img, err := readBase64(imagePath)
	if err != nil {
		return "", err
	}
	endpoint, err := c.endpoint(c.cfg.OCRURL, "doctr/ocr")
	if err != nil {
		return "", err
	}

	body, _ := json.Marshal(map[string]any{
		"image": map[string]string{"type": "base64", "value": img},
	})
	var resp struct {
		Result string `json:"result"`
	}
	if err := c.post(ctx, endpoint, "application/json", body, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}
