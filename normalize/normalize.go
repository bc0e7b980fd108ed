// Package normalize rewrites arbitrary input images into pipeline-ready
// form: JPEG, bounded longest side, bounded encoded size.  Every file in a
// run passes through here first, selected or not, so downstream stages and
// the external quality model always see uniform input.
package normalize

import (
	"bytes"
	"context"

	"github.com/disintegration/imaging"

	"github.com/Divergent-Discourses/dd-custom-preprocess/config"
	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
	"github.com/Divergent-Discourses/dd-custom-preprocess/utils"
)

var _ core.Normalizer = (*ImagingNormalizer)(nil)

// ImagingNormalizer is the default, pure-Go normalization backend.
type ImagingNormalizer struct {
	maxDim   int
	maxBytes int64
	quality  int
	minQ     int
	step     int
}

// NewImaging returns a normalizer honouring cfg's bounds.
func NewImaging(cfg config.NormalizeConfig) *ImagingNormalizer {
	return &ImagingNormalizer{
		maxDim:   cfg.MaxDimension,
		maxBytes: cfg.MaxBytes,
		quality:  cfg.JPEGQuality,
		minQ:     cfg.MinQuality,
		step:     cfg.QualityStep,
	}
}

func (n *ImagingNormalizer) Name() string { return "imaging" }

// Normalize decodes img.Data, auto-orients it, scales it inside the size
// box and re-encodes as JPEG, stepping quality down until the byte budget is
// met or the quality floor is reached.  A file already within every bound
// and already JPEG keeps its exact bytes, which makes re-running a finished
// passthrough tree a no-op.
func (n *ImagingNormalizer) Normalize(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, pperrors.New(pperrors.CategoryInput, "normalize.imaging", pperrors.ErrEmptyInput)
	}
	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, pperrors.New(pperrors.CategoryDecode, "normalize.imaging", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, pperrors.New(pperrors.CategoryPipeline, "normalize.imaging", err)
	}

	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	_, _, needsScale := utils.FitDimensions(w, h, n.maxDim)

	if !needsScale && img.Format == core.FormatJPEG && int64(len(img.Data)) <= n.maxBytes {
		out := *img
		out.Image = src
		out.Meta = core.Metadata{
			Width:      w,
			Height:     h,
			Format:     core.FormatJPEG,
			ColorSpace: core.ColorSpaceRGB,
			SizeBytes:  int64(len(img.Data)),
		}
		return &out, nil
	}

	if needsScale {
		src = imaging.Fit(src, n.maxDim, n.maxDim, imaging.Lanczos)
	}

	q := n.quality
	var buf bytes.Buffer
	for {
		buf.Reset()
		if err := imaging.Encode(&buf, src, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return nil, pperrors.New(pperrors.CategoryEncode, "normalize.imaging", err)
		}
		if int64(buf.Len()) <= n.maxBytes || q <= n.minQ {
			break
		}
		q -= n.step
		if q < n.minQ {
			q = n.minQ
		}
	}

	out := *img
	out.Data = buf.Bytes()
	out.Format = core.FormatJPEG
	out.Image = src
	out.Meta = core.Metadata{
		Width:      src.Bounds().Dx(),
		Height:     src.Bounds().Dy(),
		Format:     core.FormatJPEG,
		ColorSpace: core.ColorSpaceRGB,
		SizeBytes:  int64(buf.Len()),
	}
	return &out, nil
}
