//go:build cgo

// Package vips provides a libvips-backed normalization backend.  On large
// scan corpora the shrink-on-load path is dramatically faster than pure-Go
// decoding; deployments that have libvips installed select it in the config,
// everyone else stays on the default pure-Go backend.
package vips

import (
	"context"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Divergent-Discourses/dd-custom-preprocess/config"
	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	apperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
	"github.com/Divergent-Discourses/dd-custom-preprocess/utils"
)

// BackendConfig configures the libvips runtime.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

var _ core.Normalizer = (*Normalizer)(nil)

// Normalizer rewrites inputs into pipeline-ready JPEG using libvips.
// Safe for concurrent use across goroutines.
type Normalizer struct {
	cfg config.NormalizeConfig
}

// NewNormalizer initialises libvips and returns a ready Normalizer.
// Call Shutdown() when the process exits.
func NewNormalizer(cfg config.NormalizeConfig, bc BackendConfig) *Normalizer {
	if bc.MaxWorkers <= 0 {
		bc.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: bc.MaxWorkers,
		MaxCacheSize:     bc.MaxCacheSize,
		ReportLeaks:      bc.ReportLeaks,
		CollectStats:     true,
	})
	return &Normalizer{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (n *Normalizer) Shutdown() {
	govips.Shutdown()
}

func (n *Normalizer) Name() string { return "vips" }

// Normalize mirrors the pure-Go backend's contract: JPEG out, longest side
// bounded, encoded size stepped down to the byte budget.  Inputs already
// inside every bound keep their exact bytes.  The result carries no decoded
// image.Image; callers that need pixels decode the returned bytes.
func (n *Normalizer) Normalize(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "normalize.vips", apperrors.ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "normalize.vips", err)
	}

	ref, err := govips.NewImageFromBuffer(img.Data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "normalize.vips", err)
	}
	defer ref.Close()

	w, h := ref.Width(), ref.Height()
	_, _, needsScale := utils.FitDimensions(w, h, n.cfg.MaxDimension)

	if !needsScale && img.Format == core.FormatJPEG && int64(len(img.Data)) <= n.cfg.MaxBytes {
		out := *img
		out.Image = nil
		out.Meta = core.Metadata{
			Width:      w,
			Height:     h,
			Format:     core.FormatJPEG,
			ColorSpace: core.ColorSpaceRGB,
			SizeBytes:  int64(len(img.Data)),
		}
		return &out, nil
	}

	work := ref
	if needsScale {
		// vips_thumbnail shrinks on load and applies EXIF orientation.
		thumb, err := govips.NewThumbnailFromBuffer(
			img.Data, n.cfg.MaxDimension, n.cfg.MaxDimension, govips.InterestingNone)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryDecode, "normalize.vips.thumbnail", err)
		}
		defer thumb.Close()
		work = thumb
	} else if err := work.AutoRotate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "normalize.vips.autorotate", err)
	}

	q := n.cfg.JPEGQuality
	var data []byte
	for {
		ep := govips.NewJpegExportParams()
		ep.Quality = q
		ep.StripMetadata = true
		buf, _, err := work.ExportJpeg(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "normalize.vips", err)
		}
		data = buf
		if int64(len(buf)) <= n.cfg.MaxBytes || q <= n.cfg.MinQuality {
			break
		}
		q -= n.cfg.QualityStep
		if q < n.cfg.MinQuality {
			q = n.cfg.MinQuality
		}
	}

	out := *img
	out.Data = data
	out.Format = core.FormatJPEG
	out.Image = nil
	out.Meta = core.Metadata{
		Width:      work.Width(),
		Height:     work.Height(),
		Format:     core.FormatJPEG,
		ColorSpace: core.ColorSpaceRGB,
		SizeBytes:  int64(len(data)),
	}
	return &out, nil
}
