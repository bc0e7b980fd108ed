// Package enhance implements the shared enhancement pass that precedes both
// binarization branches: grayscale conversion, non-local-means denoising and
// an optional contrast stretch followed by CLAHE.  Every function allocates
// its output; inputs are never written to.
package enhance

import (
	"context"
	"image"

	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// Params bundles the tunables of the enhancement pass.
type Params struct {
	// DenoiseStrength is the h parameter of non-local means; larger values
	// remove more noise and more texture with it.
	DenoiseStrength     float64
	DenoiseTemplateSize int // odd patch size
	DenoiseSearchSize   int // odd search window size

	// ContrastEnhance switches on the min-max stretch + CLAHE tail.
	ContrastEnhance bool
	CLAHEClipLimit  float64
	CLAHETiles      int // tiles per axis
}

// Apply runs the enhancement pass on src.  The context is consulted between
// stages; a running stage is never interrupted mid-image.
func Apply(ctx context.Context, src image.Image, p Params) (*image.Gray, error) {
	if src == nil {
		return nil, pperrors.New(pperrors.CategoryEnhance, "enhance", pperrors.ErrEmptyInput)
	}
	gray := Grayscale(src)
	if err := ctx.Err(); err != nil {
		return nil, pperrors.New(pperrors.CategoryEnhance, "enhance", err)
	}
	out := DenoiseNLM(gray, p.DenoiseStrength, p.DenoiseTemplateSize, p.DenoiseSearchSize)
	if !p.ContrastEnhance {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, pperrors.New(pperrors.CategoryEnhance, "enhance", err)
	}
	out = StretchContrast(out)
	if err := ctx.Err(); err != nil {
		return nil, pperrors.New(pperrors.CategoryEnhance, "enhance", err)
	}
	return CLAHE(out, p.CLAHEClipLimit, p.CLAHETiles), nil
}
