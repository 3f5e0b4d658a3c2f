package host

import (
	"fmt"
	"image"
	"math"
	"sync"
)

// Framebuffer is a width x height RGBA8 pixel buffer.
//
// Writes and snapshots are serialized so the HTTP surface can read while the
// device draws.
type Framebuffer struct {
	mu  sync.Mutex
	img *image.RGBA
}

// NewFramebuffer allocates the buffer. It panics on dimensions that cannot be
// allocated; the device has nowhere to report a failure this early.
func NewFramebuffer(width, height int) *Framebuffer {
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("host: invalid framebuffer size %dx%d", width, height))
	}
	if width > math.MaxInt32/4/height {
		panic(fmt.Sprintf("host: framebuffer size %dx%d too large", width, height))
	}
	return &Framebuffer{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (f *Framebuffer) Width() int  { return f.img.Rect.Dx() }
func (f *Framebuffer) Height() int { return f.img.Rect.Dy() }

// Write copies p into the pixel data at byte offset. Bytes past the end of
// the buffer are dropped.
func (f *Framebuffer) Write(offset int, p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset < 0 || offset >= len(f.img.Pix) {
		return
	}
	copy(f.img.Pix[offset:], p)
}

// Snapshot returns a copy of the current image.
func (f *Framebuffer) Snapshot() *image.RGBA {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := image.NewRGBA(f.img.Rect)
	copy(cp.Pix, f.img.Pix)
	return cp
}
