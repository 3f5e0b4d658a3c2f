package fanchip

import "testing"

type memBuffer struct {
	w, h int
	pix  []byte
}

func newMemBuffer(w, h int) *memBuffer {
	return &memBuffer{w: w, h: h, pix: make([]byte, w*h*4)}
}

func (b *memBuffer) Width() int  { return b.w }
func (b *memBuffer) Height() int { return b.h }
func (b *memBuffer) Write(offset int, p []byte) {
	if offset < 0 || offset+len(p) > len(b.pix) {
		panic("write out of bounds")
	}
	copy(b.pix[offset:], p)
}

func (b *memBuffer) at(x, y int) RGBA {
	i := (y*b.w + x) * 4
	return RGBA{R: b.pix[i], G: b.pix[i+1], B: b.pix[i+2], A: b.pix[i+3]}
}

func checkBar(t *testing.T, b *memBuffer, filled int) {
	t.Helper()
	for y := 0; y < b.h; y++ {
		want := BackgroundColor
		if y < filled {
			want = BarColor
		}
		for x := 0; x < b.w; x++ {
			if got := b.at(x, y); got != want {
				t.Fatalf("pixel(%d,%d)=%v want %v", x, y, got, want)
			}
		}
	}
}

func TestBarHeight(t *testing.T) {
	cases := []struct {
		name  string
		w, h  int
		rpm   float64
		scale BarScale
		want  int
	}{
		{"Stopped", 100, 100, 0, ScaleWidth, 0},
		{"Negative", 100, 100, -10, ScaleWidth, 0},
		{"FullScale", 100, 100, 6500, ScaleWidth, 100},
		{"Half", 100, 100, 3250, ScaleWidth, 50},
		{"Rounds", 100, 100, 3833.3, ScaleWidth, 59},
		{"OverFullScaleClamps", 100, 100, 9000, ScaleWidth, 100},
		{"WidthScaledOnWideBuffer", 200, 100, 3250, ScaleWidth, 100},
		{"WidthScaledOnTallBuffer", 50, 100, 6500, ScaleWidth, 50},
		{"HeightScaled", 50, 100, 6500, ScaleHeight, 100},
		{"HeightScaledHalf", 200, 100, 3250, ScaleHeight, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BarHeight(tc.w, tc.h, tc.rpm, FullScaleRPM, tc.scale)
			if got != tc.want {
				t.Fatalf("BarHeight=%d want %d", got, tc.want)
			}
		})
	}
}

func TestRender_TwoBands(t *testing.T) {
	b := newMemBuffer(20, 20)
	Render(b, 3250, FullScaleRPM, ScaleWidth)
	checkBar(t, b, 10)

	// Redraw with a lower RPM must repaint the rows that were blue.
	Render(b, 0, FullScaleRPM, ScaleWidth)
	checkBar(t, b, 0)
}

func TestRender_ClampsAboveFullScale(t *testing.T) {
	// Wider than tall: width scaling would overrun the buffer without clamping.
	b := newMemBuffer(64, 16)
	Render(b, 6500, FullScaleRPM, ScaleWidth)
	checkBar(t, b, 16)
}

func TestRender_NilBuffer(t *testing.T) {
	Render(nil, 1000, FullScaleRPM, ScaleWidth)
}

func TestParseBarScale(t *testing.T) {
	for in, want := range map[string]BarScale{"": ScaleWidth, "width": ScaleWidth, " Height ": ScaleHeight} {
		got, err := ParseBarScale(in)
		if err != nil {
			t.Fatalf("ParseBarScale(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseBarScale(%q)=%v want %v", in, got, want)
		}
	}
	if _, err := ParseBarScale("diagonal"); err == nil {
		t.Fatalf("expected error")
	}
}
