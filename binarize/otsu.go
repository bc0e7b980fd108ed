package binarize

import (
	"context"
	"image"

	"github.com/ernyoke/imger/threshold"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

var _ core.Binarizer = (*Otsu)(nil)

// Otsu is a global-threshold engine used as the default for the good branch
// when no external model is configured.  Good pages are clean enough that a
// single well-chosen threshold already separates ink from paper.
type Otsu struct{}

func (Otsu) Name() string { return "otsu" }

func (Otsu) Binarize(ctx context.Context, src *image.Gray) (*image.Gray, error) {
	if src == nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.otsu", pperrors.ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.otsu", err)
	}
	if src.Bounds().Dx() == 0 || src.Bounds().Dy() == 0 {
		return image.NewGray(src.Bounds()), nil
	}
	dst, err := threshold.OtsuThreshold(src, threshold.ThreshBinary)
	if err != nil {
		return nil, binarizationFailed("binarize.otsu", err)
	}
	return toBinaryGray(dst, src.Bounds())
}
