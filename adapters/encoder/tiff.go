package encoder

import (
	"bytes"
	"context"

	"golang.org/x/image/tiff"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	apperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// TIFF encodes images to deflate-compressed TIFF for archives that want the
// processed pages back in the format the scans arrived in.
type TIFF struct{}

func NewTIFF() *TIFF { return &TIFF{} }

func (t *TIFF) CanEncode(format core.Format) bool { return format == core.FormatTIFF }

func (t *TIFF) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "tiff.encode", err)
	}

	if img == nil || img.Image == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "tiff.encode", apperrors.ErrEmptyInput)
	}

	var buf bytes.Buffer
	err := tiff.Encode(&buf, img.Image, &tiff.Options{
		Compression: tiff.Deflate,
		Predictor:   true,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "tiff.encode", err)
	}
	return buf.Bytes(), nil
}
