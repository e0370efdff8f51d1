package plate

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
)

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func saveJPEG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// boxRect converts a centre-based box to pixel bounds clipped to b.
func boxRect(box Box, b image.Rectangle) image.Rectangle {
	x, y := int(box.X), int(box.Y)
	w, h := int(box.Width), int(box.Height)
	r := image.Rect(x-w/2, y-h/2, x+w/2, y+h/2).Add(b.Min)
	return r.Intersect(b)
}

// Crop cuts box out of img, scaling it up to at least minWidth pixels wide.
func Crop(img image.Image, box Box, minWidth int) (image.Image, error) {
	r := boxRect(box, img.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("box %+v outside image %v", box, img.Bounds())
	}

	w, h := r.Dx(), r.Dy()
	if minWidth > 0 && w < minWidth {
		h = h * minWidth / w
		w = minWidth
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == r.Dx() {
		draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, r, draw.Src, nil)
	}
	return dst, nil
}

// CropFile writes the crop of box next to imagePath as <name>_plate.jpg and
// returns its path.
func CropFile(imagePath string, box Box, minWidth int) (string, error) {
	img, err := loadImage(imagePath)
	if err != nil {
		return "", err
	}
	crop, err := Crop(img, box, minWidth)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	out := filepath.Join(filepath.Dir(imagePath), base+"_plate.jpg")
	if err := saveJPEG(out, crop); err != nil {
		return "", fmt.Errorf("write crop: %w", err)
	}
	return out, nil
}

// AnnotateFile draws every box onto the image at src and writes it to dst.
func AnnotateFile(src, dst string, boxes []Box) error {
	img, err := loadImage(src)
	if err != nil {
		return err
	}
	dc := gg.NewContextForImage(img)
	dc.SetRGB(0, 1, 0)
	dc.SetLineWidth(2)
	for _, b := range boxes {
		dc.DrawRectangle(b.X-b.Width/2, b.Y-b.Height/2, b.Width, b.Height)
		dc.Stroke()
	}
	return saveJPEG(dst, dc.Image())
}
