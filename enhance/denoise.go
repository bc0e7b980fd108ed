package enhance

import (
	"image"
	"math"
)

// DenoiseNLM applies fast non-local-means denoising to src and returns a new
// buffer.  h controls filtering strength, templateSize the compared patch and
// searchSize the window scanned for similar patches; both sizes are odd.
//
// Patch distances are mean squared differences computed in O(1) per pixel
// from an integral image of squared differences, built once per search
// offset.  Total cost is O(pixels * searchSize^2), independent of patch size.
// Patches are clamped at image borders and weighted by their real overlap, so
// edge pixels are denoised rather than copied.
func DenoiseNLM(src *image.Gray, h float64, templateSize, searchSize int) *image.Gray {
	b := src.Bounds()
	w, ht := b.Dx(), b.Dy()
	out := image.NewGray(b)
	if w == 0 || ht == 0 {
		return out
	}

	// Flatten to stride == width so the index math below stays simple.
	pix := make([]uint8, w*ht)
	for y := 0; y < ht; y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(pix[y*w:(y+1)*w], src.Pix[off:off+w])
	}

	if h <= 0 || searchSize < 1 || templateSize < 1 {
		copy(out.Pix, pix)
		return out
	}

	ds := templateSize / 2
	searchR := searchSize / 2
	h2 := h * h

	num := make([]float64, w*ht)
	den := make([]float64, w*ht)
	integ := make([]uint64, (w+1)*(ht+1)) // reused across offsets

	for dy := -searchR; dy <= searchR; dy++ {
		for dx := -searchR; dx <= searchR; dx++ {
			// Region where both p and p+offset are inside the image.
			ox0, oy0 := maxInt(0, -dx), maxInt(0, -dy)
			ox1, oy1 := w-1-maxInt(0, dx), ht-1-maxInt(0, dy)
			if ox1 < ox0 || oy1 < oy0 {
				continue
			}
			ow, oh := ox1-ox0+1, oy1-oy0+1
			istride := ow + 1

			// Integral image of squared differences over the overlap.
			for x := 0; x <= ow; x++ {
				integ[x] = 0
			}
			for y := 0; y < oh; y++ {
				integ[(y+1)*istride] = 0
				var rowSum uint64
				srcRow := (oy0 + y) * w
				shiftRow := (oy0 + y + dy) * w
				for x := 0; x < ow; x++ {
					d := int(pix[srcRow+ox0+x]) - int(pix[shiftRow+ox0+x+dx])
					rowSum += uint64(d * d)
					integ[(y+1)*istride+x+1] = integ[y*istride+x+1] + rowSum
				}
			}

			for py := oy0; py <= oy1; py++ {
				py0, py1 := clampInt(py-ds, oy0, oy1), clampInt(py+ds, oy0, oy1)
				y0, y1 := py0-oy0, py1-oy0+1
				shiftRow := (py + dy) * w
				for px := ox0; px <= ox1; px++ {
					px0, px1 := clampInt(px-ds, ox0, ox1), clampInt(px+ds, ox0, ox1)
					x0, x1 := px0-ox0, px1-ox0+1
					sum := integ[y1*istride+x1] - integ[y0*istride+x1] -
						integ[y1*istride+x0] + integ[y0*istride+x0]
					area := float64((x1 - x0) * (y1 - y0))
					wgt := math.Exp(-float64(sum) / (area * h2))
					idx := py*w + px
					num[idx] += wgt * float64(pix[shiftRow+px+dx])
					den[idx] += wgt
				}
			}
		}
	}

	// The zero offset contributes weight 1 everywhere, so den is never zero.
	for i := range num {
		v := num[i]/den[i] + 0.5
		if v > 255 {
			v = 255
		}
		out.Pix[i] = uint8(v)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
