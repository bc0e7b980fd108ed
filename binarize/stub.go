package binarize

import (
	"context"
	"image"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

var _ core.Binarizer = (*Stub)(nil)

// Stub is a deterministic engine for tests and dry runs: a plain global
// threshold with no analysis.  Fail simulates an engine outage.
type Stub struct {
	// Threshold separates foreground from background; zero means 128.
	Threshold uint8
	Fail      bool
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Binarize(ctx context.Context, src *image.Gray) (*image.Gray, error) {
	if s.Fail {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.stub",
			pperrors.ErrBinarizationFailed)
	}
	if src == nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.stub", pperrors.ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.stub", err)
	}
	t := s.Threshold
	if t == 0 {
		t = 128
	}
	b := src.Bounds()
	out := image.NewGray(b)
	for y := 0; y < b.Dy(); y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		row := out.Pix[y*b.Dx() : (y+1)*b.Dx()]
		for x, v := range src.Pix[off : off+b.Dx()] {
			if v < t {
				row[x] = 0
			} else {
				row[x] = 255
			}
		}
	}
	return out, nil
}
