//go:build screen

package indicator

import (
	"fmt"
	"log"
	"os"

	"github.com/d21d3q/framebuffer"
)

// NewScreen opens a framebuffer device such as /dev/fb0.
func NewScreen(device, fontPath string) (*Screen, error) {
	fb, err := framebuffer.OpenFrameBuffer(device, os.O_RDWR)
	if err != nil {
		return nil, fmt.Errorf("open framebuffer: %w", err)
	}
	varInfo, err := fb.VarScreenInfo()
	if err != nil {
		return nil, fmt.Errorf("get variable screen info: %w", err)
	}
	fixedInfo, err := fb.FixScreenInfo()
	if err != nil {
		return nil, fmt.Errorf("get fixed screen info: %w", err)
	}
	pix, err := fb.Pixels()
	if err != nil {
		return nil, fmt.Errorf("get pixel data: %w", err)
	}

	log.Printf("Screen: framebuffer %dx%d, %d bpp, stride %d bytes",
		varInfo.XRes, varInfo.YRes, varInfo.BitsPerPixel, fixedInfo.LineLength)
	if varInfo.BitsPerPixel != 16 {
		return nil, fmt.Errorf("framebuffer is %d bpp, want 16", varInfo.BitsPerPixel)
	}

	return newScreen(pix, int(varInfo.XRes), int(varInfo.YRes), int(fixedInfo.LineLength), fontPath, nil), nil
}
