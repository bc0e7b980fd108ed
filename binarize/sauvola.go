package binarize

import (
	"context"
	"image"
	"math"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// sauvolaR is the assumed dynamic range of the local standard deviation for
// 8-bit input.
const sauvolaR = 128.0

var _ core.Binarizer = (*Sauvola)(nil)

// Sauvola is the local adaptive thresholding engine for low-quality pages.
// Each pixel is compared against
//
//	T = mean * (1 + k*(stddev/R - 1))
//
// where mean and stddev are taken over a Window x Window neighbourhood,
// clamped at the borders.  Both statistics come from integral images, so the
// cost per pixel is constant regardless of window size.
type Sauvola struct {
	K      float64
	Window int // odd, >= 3
}

// NewSauvola returns an engine with the given sensitivity and window.
func NewSauvola(k float64, window int) *Sauvola {
	return &Sauvola{K: k, Window: window}
}

func (s *Sauvola) Name() string { return "sauvola" }

func (s *Sauvola) Binarize(ctx context.Context, src *image.Gray) (*image.Gray, error) {
	if src == nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.sauvola", pperrors.ErrEmptyInput)
	}
	if s.Window < 3 || s.Window%2 == 0 {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.sauvola",
			pperrors.ErrInvalidDimensions)
	}
	if err := ctx.Err(); err != nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.sauvola", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	if w == 0 || h == 0 {
		return out, nil
	}

	// Flatten to stride == width.
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(pix[y*w:(y+1)*w], src.Pix[off:off+w])
	}

	// Integral images of values and squared values, (w+1) x (h+1) with a
	// zero top row and left column.
	istride := w + 1
	sums := make([]uint64, istride*(h+1))
	sqs := make([]uint64, istride*(h+1))
	for y := 0; y < h; y++ {
		var rowSum, rowSq uint64
		for x := 0; x < w; x++ {
			v := uint64(pix[y*w+x])
			rowSum += v
			rowSq += v * v
			sums[(y+1)*istride+x+1] = sums[y*istride+x+1] + rowSum
			sqs[(y+1)*istride+x+1] = sqs[y*istride+x+1] + rowSq
		}
	}

	r := s.Window / 2
	for y := 0; y < h; y++ {
		y0, y1 := clamp(y-r, 0, h-1), clamp(y+r, 0, h-1)
		row := out.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			x0, x1 := clamp(x-r, 0, w-1), clamp(x+r, 0, w-1)
			n := float64((x1 - x0 + 1) * (y1 - y0 + 1))

			sum := sums[(y1+1)*istride+x1+1] - sums[y0*istride+x1+1] -
				sums[(y1+1)*istride+x0] + sums[y0*istride+x0]
			sq := sqs[(y1+1)*istride+x1+1] - sqs[y0*istride+x1+1] -
				sqs[(y1+1)*istride+x0] + sqs[y0*istride+x0]

			mean := float64(sum) / n
			variance := float64(sq)/n - mean*mean
			if variance < 0 {
				variance = 0
			}
			t := mean * (1 + s.K*(math.Sqrt(variance)/sauvolaR-1))
			if float64(pix[y*w+x]) < t {
				row[x] = 0
			} else {
				row[x] = 255
			}
		}
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
