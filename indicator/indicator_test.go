package indicator

import (
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func TestNeopixelPatterns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neopixel")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := NewNeopixel(path)
	if err != nil {
		t.Fatal(err)
	}

	n.Idle()
	n.Connected()
	n.Idle()
	n.Verifying()
	n.Granted("ABC1234")
	n.Denied("NoTag")
	n.Shutdown()
	if err := n.Release(); err != nil {
		t.Fatal(err)
	}

	got, _ := os.ReadFile(path)
	want := neoConnectionLost + neoNormalIdle + neoVerifying + neoAccessGranted + neoAccessDenied + neoTerminated
	if string(got) != want {
		t.Errorf("pipe got %q, want %q", got, want)
	}
}

type recorder struct {
	Noop
	calls []string
}

func (r *recorder) Verifying()           { r.calls = append(r.calls, "verifying") }
func (r *recorder) Granted(plate string) { r.calls = append(r.calls, "granted "+plate) }
func (r *recorder) Denied(reason string) { r.calls = append(r.calls, "denied "+reason) }

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := NewMulti(a, b)
	m.Verifying()
	m.Granted("XY123")
	m.Denied("NoPlate")
	m.Idle()
	if err := m.Release(); err != nil {
		t.Fatal(err)
	}
	for _, r := range []*recorder{a, b} {
		if len(r.calls) != 3 || r.calls[1] != "granted XY123" || r.calls[2] != "denied NoPlate" {
			t.Errorf("calls = %v", r.calls)
		}
	}
}

func TestNewEmptyIsNoop(t *testing.T) {
	ind, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ind.(*Noop); !ok {
		t.Errorf("New(empty) = %T", ind)
	}
}

func TestToRGB565(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{0xff, 0xff, 0xff, 0xff})
	img.Set(1, 0, color.RGBA{0x00, 0xff, 0x00, 0xff})
	dst := make([]byte, 6) // stride wider than the row
	toRGB565(img, dst, 6)
	if got := binary.LittleEndian.Uint16(dst[0:]); got != 0xffff {
		t.Errorf("white = %#04x", got)
	}
	if got := binary.LittleEndian.Uint16(dst[2:]); got != 0x07e0 {
		t.Errorf("green = %#04x", got)
	}
	if dst[4] != 0 || dst[5] != 0 {
		t.Error("padding written")
	}
}

func TestScreenStates(t *testing.T) {
	const w, h = 64, 32
	fb := make([]byte, w*2*h)
	s := newScreen(fb, w, h, w*2, filepath.Join(t.TempDir(), "missing.ttf"), nil)
	corner := func() uint16 { return binary.LittleEndian.Uint16(fb[0:]) }

	s.Idle()
	if corner() != 0xa400 { // offline amber until connected
		t.Errorf("idle before connect = %#04x", corner())
	}
	s.Connected()
	if corner() != 0x0400 {
		t.Errorf("ready = %#04x", corner())
	}
	s.Denied("NoTag")
	if corner() != 0xb000 {
		t.Errorf("denied = %#04x", corner())
	}
	s.Shutdown()
	if corner() != 0 {
		t.Errorf("shutdown = %#04x", corner())
	}
	if err := s.Release(); err != nil {
		t.Error(err)
	}
}
