package enhance

import (
	"image"
	"image/color"
	"image/draw"
)

// Grayscale converts src to an 8-bit grayscale buffer using the standard
// library's luminance weights.  A grayscale input is copied, not aliased, so
// callers always own the result.
func Grayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(b)
	if g, ok := src.(*image.Gray); ok {
		draw.Draw(gray, b, g, b.Min, draw.Src)
		return gray
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return gray
}
