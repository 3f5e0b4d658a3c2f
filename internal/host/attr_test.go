package host

import (
	"math"
	"testing"
)

func TestAttr_SetValidates(t *testing.T) {
	a := NewBrakeAttr(0)
	if a.Name() != "break" || a.Get() != 0 {
		t.Fatalf("name=%q value=%v", a.Name(), a.Get())
	}
	if err := a.Set(0.4); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if a.Brake() != 0.4 {
		t.Fatalf("brake=%v want 0.4", a.Brake())
	}
	for _, v := range []float64{-0.1, 1.01, math.NaN(), math.Inf(1)} {
		if err := a.Set(v); err == nil {
			t.Fatalf("Set(%v): expected error", v)
		}
	}
	if a.Get() != 0.4 {
		t.Fatalf("rejected set changed value to %v", a.Get())
	}
}

func TestFramebuffer_WriteAndSnapshot(t *testing.T) {
	fb := NewFramebuffer(4, 3)
	if fb.Width() != 4 || fb.Height() != 3 {
		t.Fatalf("size=%dx%d", fb.Width(), fb.Height())
	}
	fb.Write(4*4, []byte{1, 2, 3, 4})
	fb.Write(len(fb.Snapshot().Pix)-2, []byte{9, 9, 9, 9})
	fb.Write(-1, []byte{7})

	img := fb.Snapshot()
	if c := img.RGBAAt(0, 1); c.R != 1 || c.G != 2 || c.B != 3 || c.A != 4 {
		t.Fatalf("pixel(0,1)=%v", c)
	}
	if c := img.RGBAAt(3, 2); c.B != 9 || c.A != 9 {
		t.Fatalf("pixel(3,2)=%v", c)
	}

	img.Pix[0] = 42
	if fb.Snapshot().Pix[0] == 42 {
		t.Fatalf("snapshot aliases framebuffer")
	}
}

func TestFramebuffer_InvalidSizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewFramebuffer(0, 10)
}
