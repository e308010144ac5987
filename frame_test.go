package ptrace

import (
	"image/color"
	"testing"
)

func TestFrameRGBA(t *testing.T) {
	f := &Frame{
		Width:  2,
		Height: 1,
		Pix: []float32{
			0, 0.5, 1, 1,
			2, -1, 0.001, 0.5,
		},
	}
	img := f.RGBA()
	tests := []struct {
		x    int
		want color.RGBA
	}{
		{0, color.RGBA{R: 0, G: 188, B: 255, A: 255}},
		{1, color.RGBA{R: 255, G: 0, B: 3, A: 128}},
	}
	for _, tt := range tests {
		if got := img.RGBAAt(tt.x, 0); got != tt.want {
			t.Errorf("pixel %d = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestFrameAtOutOfRange(t *testing.T) {
	f := &Frame{Width: 1, Height: 1, Pix: []float32{1, 2, 3, 4}}
	if got := f.At(1, 0); got[0] != 0 {
		t.Errorf("At(1, 0) = %v, want zero", got)
	}
	empty := &Frame{Width: 3, Height: 2}
	if b := empty.RGBA().Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Errorf("RGBA() bounds = %v", b)
	}
}
