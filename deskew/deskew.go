// Package deskew straightens binarized pages.  The skew angle is found with
// a projection-profile sweep: foreground pixels are rotated through a range
// of candidate angles and the angle whose horizontal projection has the
// highest variance wins — crisp, well-aligned text rows concentrate ink into
// few rows, which is exactly what maximizes variance.
package deskew

import (
	"context"
	"image"
	"math"

	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// Result carries the straightened page and the rotation that produced it.
// The angle is diagnostic only; it is never persisted.
type Result struct {
	Image   *image.Gray
	Degrees float64
}

// Deskewer sweeps [-MaxDegrees, +MaxDegrees] in StepDegrees increments.
type Deskewer struct {
	MaxDegrees  float64
	StepDegrees float64
	// MinForeground is the fewest ink pixels worth sweeping; pages below it
	// (blank or near-blank) keep angle 0.  Zero means 16.
	MinForeground int
}

// New returns a Deskewer for the given sweep range.
func New(maxDegrees, stepDegrees float64) *Deskewer {
	return &Deskewer{MaxDegrees: maxDegrees, StepDegrees: stepDegrees}
}

// Deskew detects the skew of src and returns the rotated page.  A zero
// detected angle returns an unrotated copy, so running Deskew on its own
// output is a no-op.
func (d *Deskewer) Deskew(ctx context.Context, src *image.Gray) (Result, error) {
	angle, err := d.Detect(ctx, src)
	if err != nil {
		return Result{}, err
	}
	if angle == 0 {
		return Result{Image: copyGray(src), Degrees: 0}, nil
	}
	return Result{Image: rotateGray(src, angle, 255), Degrees: angle}, nil
}

// Detect returns the angle (degrees) that best straightens src.  When
// several angles score within a hair of the maximum the one closest to zero
// wins, so noise never rotates an already-straight page.
func (d *Deskewer) Detect(ctx context.Context, src *image.Gray) (float64, error) {
	if src == nil {
		return 0, pperrors.New(pperrors.CategoryDeskew, "deskew.detect", pperrors.ErrEmptyInput)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0, nil
	}

	minFG := d.MinForeground
	if minFG == 0 {
		minFG = 16
	}

	// Foreground coordinates relative to the page centre.
	cx, cy := float64(w)/2, float64(h)/2
	var xs, ys []float64
	for y := 0; y < h; y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		for x, v := range src.Pix[off : off+w] {
			if v < 128 {
				xs = append(xs, float64(x)-cx)
				ys = append(ys, float64(y)-cy)
			}
		}
	}
	if len(xs) < minFG {
		return 0, nil
	}

	steps := int(math.Round(d.MaxDegrees / d.StepDegrees))
	if steps < 0 {
		steps = 0
	}
	rows := make([]int, h)
	var (
		angles []float64
		scores []float64
	)
	for i := -steps; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return 0, pperrors.New(pperrors.CategoryDeskew, "deskew.detect", err)
		}
		a := float64(i) * d.StepDegrees
		angles = append(angles, a)
		scores = append(scores, profileVariance(xs, ys, a, cy, rows))
	}

	maxVar := 0.0
	for _, s := range scores {
		if s > maxVar {
			maxVar = s
		}
	}
	if maxVar <= 0 {
		return 0, nil
	}

	// Near-ties resolve toward zero.
	eps := maxVar * 1e-6
	best := math.Inf(1)
	for i, a := range angles {
		if scores[i] >= maxVar-eps && math.Abs(a) < math.Abs(best) {
			best = a
		}
	}
	return best, nil
}

// profileVariance rotates the centred foreground points by degrees, bins
// them into rows and returns the row-count variance.  rows is scratch space
// of height length.
func profileVariance(xs, ys []float64, degrees, cy float64, rows []int) float64 {
	for i := range rows {
		rows[i] = 0
	}
	sin, cos := math.Sincos(degrees * math.Pi / 180)
	total := 0
	for i := range xs {
		yr := sin*xs[i] + cos*ys[i] + cy
		ri := int(yr)
		if ri >= 0 && ri < len(rows) {
			rows[ri]++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	mean := float64(total) / float64(len(rows))
	var acc float64
	for _, c := range rows {
		d := float64(c) - mean
		acc += d * d
	}
	return acc / float64(len(rows))
}

func copyGray(src *image.Gray) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(b)
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out.Pix[y*w:(y+1)*w], src.Pix[off:off+w])
	}
	return out
}
