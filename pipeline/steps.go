// Package pipeline provides the built-in preprocessing steps and the
// extensible Step API.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	"github.com/Divergent-Discourses/dd-custom-preprocess/deskew"
	"github.com/Divergent-Discourses/dd-custom-preprocess/enhance"
	apperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
	"github.com/Divergent-Discourses/dd-custom-preprocess/utils"
)

// ── Normalize ─────────────────────────────────────────────────────────────────

// NormalizeStep rewrites raw input bytes into pipeline-ready JPEG via the
// configured backend.  It is the first step of every path, selected or not.
type NormalizeStep struct {
	Normalizer core.Normalizer
}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if s.Normalizer == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("no normalizer configured"))
	}
	return s.Normalizer.Normalize(ctx, img)
}

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into an image.Image.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image != nil {
		return img, nil // already decoded
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}
	dec, ok := s.Registry.DecoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	decoded, err := dec.Decode(ctx, utils.BytesReader(img.Data))
	if err != nil {
		return nil, err
	}

	// Preserve the raw bytes and file identity alongside the pixels.
	decoded.Data = img.Data
	decoded.SourcePath = img.SourcePath
	decoded.RelPath = img.RelPath
	decoded.OriginalSize = img.OriginalSize
	decoded.Meta.SizeBytes = int64(len(img.Data))
	return decoded, nil
}

// ── Enhance ───────────────────────────────────────────────────────────────────

// EnhanceStep runs the shared enhancement pass: grayscale, non-local-means
// denoise and, when enabled, contrast stretch plus CLAHE.  Both binarization
// branches receive its output, so the quality gate decides routing, not
// preparation.
type EnhanceStep struct {
	Params enhance.Params
}

func (s *EnhanceStep) Name() string { return "enhance" }

func (s *EnhanceStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image == nil {
		return nil, apperrors.New(apperrors.CategoryEnhance, s.Name(), apperrors.ErrEmptyInput)
	}
	gray, err := enhance.Apply(ctx, img.Image, s.Params)
	if err != nil {
		return nil, err
	}
	out := *img
	out.Image = gray
	out.Meta.ColorSpace = core.ColorSpaceGray
	return &out, nil
}

// ── Binarize ──────────────────────────────────────────────────────────────────

// BinarizeStep hands the enhanced page to a binarization engine.  Timeout,
// when set, bounds a single engine call; local engines finish long before it
// matters, remote ones get cut off instead of stalling a worker.
type BinarizeStep struct {
	Engine  core.Binarizer
	Timeout time.Duration
}

func (s *BinarizeStep) Name() string { return "binarize" }

func (s *BinarizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if s.Engine == nil {
		return nil, apperrors.New(apperrors.CategoryBinarize, s.Name(),
			fmt.Errorf("no binarization engine configured"))
	}
	if img.Image == nil {
		return nil, apperrors.New(apperrors.CategoryBinarize, s.Name(), apperrors.ErrEmptyInput)
	}

	gray, ok := img.Image.(*image.Gray)
	if !ok {
		gray = enhance.Grayscale(img.Image)
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	bin, err := s.Engine.Binarize(ctx, gray)
	if err != nil {
		return nil, err
	}
	out := *img
	out.Image = bin
	out.Meta.ColorSpace = core.ColorSpaceBinary
	return &out, nil
}

// ── Deskew ────────────────────────────────────────────────────────────────────

// DeskewStep straightens the binarized page and records the applied angle in
// SkewDegrees for diagnostics.
type DeskewStep struct {
	Deskewer *deskew.Deskewer
}

func (s *DeskewStep) Name() string { return "deskew" }

func (s *DeskewStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if s.Deskewer == nil {
		return nil, apperrors.New(apperrors.CategoryDeskew, s.Name(),
			fmt.Errorf("no deskewer configured"))
	}
	gray, ok := img.Image.(*image.Gray)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDeskew, s.Name(),
			fmt.Errorf("deskew needs a grayscale page, got %T", img.Image))
	}
	res, err := s.Deskewer.Deskew(ctx, gray)
	if err != nil {
		return nil, err
	}
	out := *img
	out.Image = res.Image
	out.SkewDegrees = res.Degrees
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the image.Image into encoded bytes in the target
// format using the registry.  An empty Format keeps the current one.
type EncodeStep struct {
	Registry core.Registry
	Format   core.Format
	Options  core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	format := s.Format
	if format == "" {
		format = img.Format
	}
	enc, ok := s.Registry.EncoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}

	data, err := enc.Encode(ctx, img, s.Options)
	if err != nil {
		return nil, err
	}

	out := *img
	out.Data = data
	out.Format = format
	out.Meta.Format = format
	out.Meta.SizeBytes = int64(len(data))
	return &out, nil
}
