package deskew

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// rotateGray rotates src by degrees about its centre onto a canvas of the
// same bounds, filling uncovered corners with bg.  Nearest-neighbour
// sampling keeps a two-valued input two-valued; no new gray levels appear.
func rotateGray(src *image.Gray, degrees float64, bg uint8) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(b)
	for i := range out.Pix {
		out.Pix[i] = bg
	}
	if b.Dx() == 0 || b.Dy() == 0 {
		return out
	}

	sin, cos := math.Sincos(degrees * math.Pi / 180)
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2

	// Source-to-destination rotation about (cx, cy); the same mapping the
	// sweep scored, so the chosen angle straightens exactly as measured.
	m := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	xdraw.NearestNeighbor.Transform(out, m, src, b, xdraw.Src, nil)
	return out
}
