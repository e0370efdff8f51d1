package plate

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"ABC1234", "ABC1234", true},
		{"ABC 1234", "ABC1234", true},
		{" B 340\nTYS ", "", false}, // B340TYS: no word boundary after the digits
		{"plate: XY123 KL9999", "", false},
		{"XY123 and KL9999", "", false},
		{"XY123", "XY123", true},
		{"abc1234", "", false},
		{"ABCD1234", "", false},
		{"13-954", "13-954", true},
		{"13 - 954 ABC1234", "13-954", true},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := Extract(tt.text, DefaultLegacyPlate)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Extract(%q) = %q %v, want %q %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExtractFirstMatchWins(t *testing.T) {
	// "ABC123-XY999" strips to a string with two candidates separated by '-'
	got, ok := Extract("ABC123-XY999", "")
	if !ok || got != "ABC123" {
		t.Errorf("got %q %v, want ABC123", got, ok)
	}
	got, ok = Extract("A123-13-954", DefaultLegacyPlate)
	if !ok || got != "A123" {
		t.Errorf("got %q %v, want A123", got, ok)
	}
}

type fakePipeline struct {
	det     *Detection
	detErr  error
	text    string
	ocrPath string
}

func (f *fakePipeline) Detect(ctx context.Context, path string) (*Detection, error) {
	return f.det, f.detErr
}

func (f *fakePipeline) OCR(ctx context.Context, path string) (string, error) {
	f.ocrPath = path
	return f.text, nil
}

func writeTestJPEG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0x80, 0xff})
		}
	}
	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := saveJPEG(path, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReaderReadsCrop(t *testing.T) {
	path := writeTestJPEG(t, 200, 100)
	p := &fakePipeline{
		det: &Detection{Boxes: []Box{
			{X: 50, Y: 50, Width: 40, Height: 20, Confidence: 0.4},
			{X: 100, Y: 50, Width: 60, Height: 20, Confidence: 0.9},
		}},
		text: "ABC 1234",
	}
	annotated := filepath.Join(filepath.Dir(path), "labeled.jpg")
	r := &Reader{Pipeline: p, Legacy: DefaultLegacyPlate, MinCropWidth: 120, Annotate: annotated, Logger: log.New(io.Discard, "", 0)}

	got, det, err := r.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "ABC1234" {
		t.Errorf("plate = %q", got)
	}
	if det.Confidence != 0.9 {
		t.Errorf("confidence = %v", det.Confidence)
	}
	if p.ocrPath != det.CroppedPath || !strings.HasSuffix(p.ocrPath, "frame_plate.jpg") {
		t.Errorf("OCR ran on %q, crop %q", p.ocrPath, det.CroppedPath)
	}
	crop, err := loadImage(det.CroppedPath)
	if err != nil {
		t.Fatal(err)
	}
	if b := crop.Bounds(); b.Dx() != 120 || b.Dy() != 40 {
		t.Errorf("crop size %v, want 120x40", b)
	}
	if _, err := os.Stat(annotated); err != nil {
		t.Errorf("annotated frame: %v", err)
	}
}

func TestReaderOutcomes(t *testing.T) {
	path := writeTestJPEG(t, 64, 64)
	box := Box{X: 32, Y: 32, Width: 20, Height: 10, Confidence: 0.5}

	tests := []struct {
		name string
		p    *fakePipeline
		min  float64
		want error
	}{
		{"no boxes", &fakePipeline{det: &Detection{}}, 0, ErrNoDetection},
		{"nil detection", &fakePipeline{}, 0, ErrNoDetection},
		{"below confidence", &fakePipeline{det: &Detection{Boxes: []Box{box}}}, 0.8, ErrNoDetection},
		{"unreadable text", &fakePipeline{det: &Detection{Boxes: []Box{box}}, text: "???"}, 0, ErrNoPlate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Reader{Pipeline: tt.p, MinConfidence: tt.min, Logger: log.New(io.Discard, "", 0)}
			if _, _, err := r.Read(context.Background(), path); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCropOutside(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	if _, err := Crop(img, Box{X: 100, Y: 100, Width: 4, Height: 4}, 0); err == nil {
		t.Error("crop outside image succeeded")
	}
}

func TestHTTPClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /plate-model/1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "k" {
			http.Error(w, "bad key", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]any{{"x": 10, "y": 5, "width": 8, "height": 4, "confidence": 0.93, "class": "plate"}},
		})
	})
	mux.HandleFunc("POST /doctr/ocr", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Image struct {
				Type  string `json:"type"`
				Value string `json:"value"`
			} `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image.Type != "base64" || req.Image.Value == "" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"result": "ABC1234"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(Config{DetectURL: srv.URL, OCRURL: srv.URL + "/", Model: "plate-model/1", APIKey: "k"})
	path := writeTestJPEG(t, 16, 16)

	det, err := c.Detect(context.Background(), path)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(det.Boxes) != 1 || det.Boxes[0].Confidence != 0.93 || det.Boxes[0].Class != "plate" {
		t.Errorf("boxes = %+v", det.Boxes)
	}
	text, err := c.OCR(context.Background(), path)
	if err != nil || text != "ABC1234" {
		t.Errorf("OCR = %q, %v", text, err)
	}

	bad := NewHTTPClient(Config{DetectURL: srv.URL, Model: "plate-model/1", APIKey: "wrong"})
	if _, err := bad.Detect(context.Background(), path); err == nil {
		t.Error("Detect with a bad key succeeded")
	}
}
