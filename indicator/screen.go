package indicator

import (
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"log"
	"sync"

	"github.com/fogleman/gg"
)

var ErrScreenNotCompiled = errors.New("screen support not compiled in (build with -tags screen)")

const defaultFont = "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"

var (
	colReady   = color.RGBA{0, 0x80, 0, 0xff}
	colBusy    = color.RGBA{0x20, 0x40, 0xa0, 0xff}
	colGranted = color.RGBA{0, 0xb0, 0, 0xff}
	colDenied  = color.RGBA{0xb0, 0, 0, 0xff}
	colOffline = color.RGBA{0xa0, 0x80, 0, 0xff}
	colOff     = color.RGBA{0, 0, 0, 0xff}
)

// Screen shows the gate state to the driver on an RGB565 framebuffer.
type Screen struct {
	mu       sync.Mutex
	img      *image.RGBA
	dc       *gg.Context
	fb       []byte
	back     []byte
	stride   int
	fontPath string
	online   bool
	release  func() error
}

// newScreen draws into fb, a w x h RGB565 buffer with stride bytes per row.
func newScreen(fb []byte, w, h, stride int, fontPath string, release func() error) *Screen {
	if fontPath == "" {
		fontPath = defaultFont
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	return &Screen{
		img:      img,
		dc:       gg.NewContextForRGBA(img),
		fb:       fb,
		back:     make([]byte, h*stride),
		stride:   stride,
		fontPath: fontPath,
		release:  release,
	}
}

func (s *Screen) show(bg color.Color, title, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, h := float64(s.img.Rect.Dx()), float64(s.img.Rect.Dy())
	s.dc.SetColor(bg)
	s.dc.DrawRectangle(0, 0, w, h)
	s.dc.Fill()

	s.dc.SetRGB(1, 1, 1)
	if err := s.dc.LoadFontFace(s.fontPath, h/6); err != nil {
		log.Printf("Screen: load font: %v", err)
	}
	s.dc.DrawStringAnchored(title, w/2, h*0.4, 0.5, 0.5)
	if detail != "" {
		if err := s.dc.LoadFontFace(s.fontPath, h/10); err == nil {
			s.dc.DrawStringAnchored(detail, w/2, h*0.65, 0.5, 0.5)
		}
	}

	toRGB565(s.img, s.back, s.stride)
	copy(s.fb, s.back)
}

// toRGB565 packs img into dst as little-endian RGB565 rows of stride bytes.
func toRGB565(img *image.RGBA, dst []byte, stride int) {
	b := img.Rect
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			r, g, bl := uint16(img.Pix[i]), uint16(img.Pix[i+1]), uint16(img.Pix[i+2])
			px := (r>>3)<<11 | (g>>2)<<5 | bl>>3
			o := y*stride + x*2
			if o+1 < len(dst) {
				binary.LittleEndian.PutUint16(dst[o:], px)
			}
		}
	}
}

func (s *Screen) Idle() {
	if !s.online {
		s.ConnectionLost()
		return
	}
	s.show(colReady, "Ready", "")
}

func (s *Screen) Verifying()           { s.show(colBusy, "Checking", "please wait") }
func (s *Screen) Granted(plate string) { s.show(colGranted, "Welcome", plate) }
func (s *Screen) Denied(reason string) { s.show(colDenied, "Denied", reason) }

func (s *Screen) Connected() {
	s.online = true
	s.show(colReady, "Ready", "")
}

func (s *Screen) ConnectionLost() {
	s.online = false
	s.show(colOffline, "Offline", "")
}

func (s *Screen) Shutdown() { s.show(colOff, "", "") }

func (s *Screen) Release() error {
	if s.release == nil {
		return nil
	}
	return s.release()
}
