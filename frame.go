package ptrace

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/math/f32"
)

// Frame is a presented image: the accumulated target after a composite.
type Frame struct {
	Width, Height int

	// SampleIndex is the sample counter the frame was blended with. It is
	// zero on the first frame after any reset.
	SampleIndex uint32

	// Samples is the number of samples averaged into Pix.
	Samples uint32

	// Pix holds linear RGBA float32, row-major. It is nil when presentation
	// is disabled.
	Pix []float32
}

// At returns the linear color of pixel (x, y).
func (f *Frame) At(x, y int) f32.Vec4 {
	if f.Pix == nil || x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return f32.Vec4{}
	}
	i := 4 * (y*f.Width + x)
	return f32.Vec4{f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]}
}

// RGBA converts the frame to 8-bit sRGB, clamping each channel.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	if f.Pix == nil {
		return img
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := f.At(x, y)
			img.SetRGBA(x, y, color.RGBA{
				R: toSRGB8(c[0]),
				G: toSRGB8(c[1]),
				B: toSRGB8(c[2]),
				A: toUnit8(c[3]),
			})
		}
	}
	return img
}

func toSRGB8(v float32) uint8 {
	l := float64(v)
	switch {
	case l <= 0 || math.IsNaN(l):
		return 0
	case l >= 1:
		return 255
	case l <= 0.0031308:
		l *= 12.92
	default:
		l = 1.055*math.Pow(l, 1/2.4) - 0.055
	}
	return uint8(math.Round(l * 255))
}

func toUnit8(v float32) uint8 {
	switch {
	case v <= 0 || math.IsNaN(float64(v)):
		return 0
	case v >= 1:
		return 255
	}
	return uint8(math.Round(float64(v) * 255))
}
