package enhance

import (
	"image"
	"math"
)

// StretchContrast linearly rescales src so its darkest sample maps to 0 and
// its brightest to 255.  A constant image has nothing to stretch and is
// returned as an unchanged copy.
func StretchContrast(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	if w == 0 || h == 0 {
		return out
	}

	lo, hi := uint8(255), uint8(0)
	for y := 0; y < h; y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		for _, v := range src.Pix[off : off+w] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}

	if lo == hi {
		for y := 0; y < h; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*w:(y+1)*w], src.Pix[off:off+w])
		}
		return out
	}

	var lut [256]uint8
	scale := 255.0 / float64(hi-lo)
	for v := int(lo); v <= int(hi); v++ {
		lut[v] = uint8(float64(v-int(lo))*scale + 0.5)
	}
	for y := 0; y < h; y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		row := out.Pix[y*w : (y+1)*w]
		for x, v := range src.Pix[off : off+w] {
			row[x] = lut[v]
		}
	}
	return out
}

// CLAHE applies contrast-limited adaptive histogram equalization.  The image
// is divided into tiles x tiles regions; each gets a clipped, equalized
// lookup table, and every pixel is mapped through a bilinear blend of the
// four surrounding tile tables, which hides tile seams.
func CLAHE(src *image.Gray, clipLimit float64, tiles int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	if w == 0 || h == 0 {
		return out
	}
	if tiles < 1 {
		tiles = 1
	}
	if tiles > w {
		tiles = w
	}
	if tiles > h {
		tiles = h
	}

	tileW := (w + tiles - 1) / tiles
	tileH := (h + tiles - 1) / tiles

	// Per-tile clipped-histogram lookup tables.
	luts := make([][256]uint8, tiles*tiles)
	var hist [256]int
	for ty := 0; ty < tiles; ty++ {
		y0, y1 := ty*tileH, minInt((ty+1)*tileH, h)
		for tx := 0; tx < tiles; tx++ {
			x0, x1 := tx*tileW, minInt((tx+1)*tileW, w)
			for i := range hist {
				hist[i] = 0
			}
			for y := y0; y < y1; y++ {
				off := src.PixOffset(b.Min.X+x0, b.Min.Y+y)
				for _, v := range src.Pix[off : off+(x1-x0)] {
					hist[v]++
				}
			}
			area := (x1 - x0) * (y1 - y0)
			clip := int(clipLimit * float64(area) / 256.0)
			if clip < 1 {
				clip = 1
			}
			excess := 0
			for i, c := range hist {
				if c > clip {
					excess += c - clip
					hist[i] = clip
				}
			}
			// Redistribute clipped mass evenly; the remainder goes to the
			// lowest bins.
			share, rem := excess/256, excess%256
			for i := range hist {
				hist[i] += share
				if i < rem {
					hist[i]++
				}
			}
			lut := &luts[ty*tiles+tx]
			cum := 0
			for i, c := range hist {
				cum += c
				lut[i] = uint8(minInt(255, (cum*255+area/2)/area))
			}
		}
	}

	// Bilinear blend of the four neighbouring tile tables per pixel.
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/float64(tileH) - 0.5
		ty0 := int(math.Floor(fy))
		wy := fy - float64(ty0)
		ty1 := clampInt(ty0+1, 0, tiles-1)
		ty0 = clampInt(ty0, 0, tiles-1)

		srcOff := src.PixOffset(b.Min.X, b.Min.Y+y)
		row := out.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/float64(tileW) - 0.5
			tx0 := int(math.Floor(fx))
			wx := fx - float64(tx0)
			tx1 := clampInt(tx0+1, 0, tiles-1)
			tx0 = clampInt(tx0, 0, tiles-1)

			v := src.Pix[srcOff+x]
			top := (1-wx)*float64(luts[ty0*tiles+tx0][v]) + wx*float64(luts[ty0*tiles+tx1][v])
			bot := (1-wx)*float64(luts[ty1*tiles+tx0][v]) + wx*float64(luts[ty1*tiles+tx1][v])
			row[x] = uint8((1-wy)*top + wy*bot + 0.5)
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
