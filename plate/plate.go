// Package plate turns a captured frame into a licence plate string using an
// external detection and OCR service.
package plate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"unicode"
)

// DefaultLegacyPlate is an enrolled plate that does not fit the pattern.
const DefaultLegacyPlate = "13-954"

var (
	ErrNoDetection = errors.New("no plate detected")
	ErrNoPlate     = errors.New("no plate in OCR text")
)

var platePattern = regexp.MustCompile(`\b[A-Z]{1,3}[0-9]{3,4}\b`)

// Box is one detector prediction. X and Y are the box centre in pixels.
type Box struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
}

// Detection is the detector's answer for one image.
type Detection struct {
	Boxes       []Box
	CroppedPath string // set by Read when a crop was written
	Confidence  float64
}

// Best returns the most confident box.
func (d *Detection) Best() (Box, bool) {
	if d == nil || len(d.Boxes) == 0 {
		return Box{}, false
	}
	best := d.Boxes[0]
	for _, b := range d.Boxes[1:] {
		if b.Confidence > best.Confidence {
			best = b
		}
	}
	return best, true
}

// Pipeline is the external inference service.
type Pipeline interface {
	Detect(ctx context.Context, imagePath string) (*Detection, error)
	OCR(ctx context.Context, imagePath string) (string, error)
}

// Extract finds the first plate-shaped token in OCR text. Whitespace is
// removed before matching and matching is case sensitive.
func Extract(text, legacy string) (string, bool) {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)

	loc := platePattern.FindStringIndex(stripped)
	if legacy != "" {
		if i := strings.Index(stripped, legacy); i >= 0 && (loc == nil || i < loc[0]) {
			return legacy, true
		}
	}
	if loc == nil {
		return "", false
	}
	return stripped[loc[0]:loc[1]], true
}

// Reader runs detection, cropping and OCR for one frame.
type Reader struct {
	Pipeline Pipeline
	Legacy   string
	// MinConfidence drops weaker boxes; zero keeps all.
	MinConfidence float64
	// MinCropWidth upscales narrower crops before OCR; zero disables.
	MinCropWidth int
	// Annotate, when set, receives a copy of the frame with boxes drawn.
	Annotate string
	Logger   *log.Logger
}

// Read returns the plate string found in the image at imagePath.
// ErrNoDetection and ErrNoPlate are the "no usable plate" outcomes.
func (r *Reader) Read(ctx context.Context, imagePath string) (string, *Detection, error) {
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}

	det, err := r.Pipeline.Detect(ctx, imagePath)
	if err != nil {
		return "", nil, fmt.Errorf("detect: %w", err)
	}
	if det != nil && r.MinConfidence > 0 {
		kept := det.Boxes[:0]
		for _, b := range det.Boxes {
			if b.Confidence >= r.MinConfidence {
				kept = append(kept, b)
			}
		}
		det.Boxes = kept
	}
	best, ok := det.Best()
	if !ok {
		return "", det, ErrNoDetection
	}
	det.Confidence = best.Confidence
	logger.Printf("plate box at (%.0f,%.0f) %.0fx%.0f confidence %.2f", best.X, best.Y, best.Width, best.Height, best.Confidence)

	if r.Annotate != "" {
		if err := AnnotateFile(imagePath, r.Annotate, det.Boxes); err != nil {
			logger.Printf("annotate %s: %v", imagePath, err)
		}
	}

	ocrPath := imagePath
	if crop, err := CropFile(imagePath, best, r.MinCropWidth); err != nil {
		logger.Printf("crop %s: %v, using whole frame", imagePath, err)
	} else {
		det.CroppedPath = crop
		ocrPath = crop
	}

	text, err := r.Pipeline.OCR(ctx, ocrPath)
	if err != nil {
		return "", det, fmt.Errorf("ocr: %w", err)
	}
	logger.Printf("OCR result: %q", text)

	p, ok := Extract(text, r.Legacy)
	if !ok {
		return "", det, ErrNoPlate
	}
	return p, det, nil
}
