package decoder

import (
	"context"
	"io"

	"golang.org/x/image/bmp"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	apperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// BMP decodes BMP images using golang.org/x/image/bmp.
type BMP struct{}

func NewBMP() *BMP { return &BMP{} }

func (b *BMP) CanDecode(format core.Format) bool {
	return format == core.FormatBMP
}

func (b *BMP) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "bmp.decode", err)
	}

	img, err := bmp.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "bmp.decode", err)
	}
	return describe(img, core.FormatBMP), nil
}
