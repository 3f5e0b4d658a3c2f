package fanchip

import (
	"fmt"
	"math"
	"strings"
)

// Buffer is the pixel buffer supplied by the host. Pixels are RGBA8, rows are
// packed without padding, and Write copies p starting at byte offset.
type Buffer interface {
	Width() int
	Height() int
	Write(offset int, p []byte)
}

// RGBA is a single RGBA8 pixel.
type RGBA struct {
	R, G, B, A uint8
}

var (
	BarColor        = RGBA{R: 0, G: 0, B: 255, A: 255}
	BackgroundColor = RGBA{R: 0, G: 0, B: 0, A: 255}
)

// BarScale selects which buffer dimension scales the bar height.
type BarScale int

const (
	// ScaleWidth scales the bar by the buffer width. This is how the chip has
	// always drawn; on a square display it is indistinguishable from height.
	ScaleWidth BarScale = iota
	ScaleHeight
)

func (s BarScale) String() string {
	switch s {
	case ScaleWidth:
		return "width"
	case ScaleHeight:
		return "height"
	default:
		return fmt.Sprintf("BarScale(%d)", int(s))
	}
}

// ParseBarScale parses "width" or "height". Empty means width.
func ParseBarScale(s string) (BarScale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "width":
		return ScaleWidth, nil
	case "height":
		return ScaleHeight, nil
	default:
		return 0, fmt.Errorf("unknown bar scale %q", s)
	}
}

// BarHeight returns the number of filled rows for rpm, clamped to [0, height].
func BarHeight(width, height int, rpm, fullScale float64, scale BarScale) int {
	if height <= 0 || fullScale <= 0 || !(rpm > 0) {
		return 0
	}
	dim := width
	if scale == ScaleHeight {
		dim = height
	}
	h := math.Round(float64(dim) * rpm / fullScale)
	if h > float64(height) {
		return height
	}
	if h < 0 {
		return 0
	}
	return int(h)
}

// Render draws the RPM bar: BarColor from the top for BarHeight rows, then
// BackgroundColor for the rest of the buffer.
func Render(buf Buffer, rpm, fullScale float64, scale BarScale) {
	if buf == nil {
		return
	}
	w, h := buf.Width(), buf.Height()
	if w <= 0 || h <= 0 {
		return
	}
	filled := BarHeight(w, h, rpm, fullScale, scale)
	fillRows(buf, 0, filled, BarColor)
	fillRows(buf, filled, h, BackgroundColor)
}

func fillRows(buf Buffer, from, to int, c RGBA) {
	if from >= to {
		return
	}
	w := buf.Width()
	row := make([]byte, w*4)
	for x := 0; x < w; x++ {
		row[x*4+0] = c.R
		row[x*4+1] = c.G
		row[x*4+2] = c.B
		row[x*4+3] = c.A
	}
	stride := w * 4
	for y := from; y < to; y++ {
		buf.Write(y*stride, row)
	}
}
