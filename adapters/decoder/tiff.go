package decoder

import (
	"context"
	"io"

	"golang.org/x/image/tiff"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	apperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// TIFF decodes TIFF images using golang.org/x/image/tiff.  Scanned corpora
// are frequently delivered as TIFF, so this decoder carries most of the
// real-world input volume.
type TIFF struct{}

func NewTIFF() *TIFF { return &TIFF{} }

func (t *TIFF) CanDecode(format core.Format) bool {
	return format == core.FormatTIFF
}

func (t *TIFF) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "tiff.decode", err)
	}

	img, err := tiff.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "tiff.decode", err)
	}
	return describe(img, core.FormatTIFF), nil
}
