// Package binarize turns enhanced grayscale pages into two-valued buffers
// (0 foreground, 255 background).  The local Sauvola implementation serves
// the bad branch; the good branch talks to an external model through the
// HTTP or exec adapters.  A strategy table maps each quality verdict to the
// engine that handles it.
package binarize

import (
	"fmt"
	"image"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// binarizationFailed tags err so callers can recognise a skippable engine
// failure regardless of the transport that produced it.
func binarizationFailed(op string, err error) error {
	return pperrors.New(pperrors.CategoryBinarize, op,
		fmt.Errorf("%w: %v", pperrors.ErrBinarizationFailed, err))
}

// Table maps a quality verdict to the binarization engine that handles it.
type Table map[core.Classification]core.Binarizer

// NewTable wires the two branches.
func NewTable(bad, good core.Binarizer) Table {
	return Table{core.ClassBad: bad, core.ClassGood: good}
}

// For returns the engine for class.
func (t Table) For(class core.Classification) (core.Binarizer, bool) {
	e, ok := t[class]
	return e, ok
}

// toBinaryGray marshals an engine result into the pipeline's binary buffer
// contract: same dimensions as the input, grayscale, exactly the values 0
// and 255.  Remaining gray levels are snapped at the midpoint so downstream
// stages can rely on a two-valued buffer.
func toBinaryGray(m image.Image, want image.Rectangle) (*image.Gray, error) {
	if m == nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.marshal", pperrors.ErrBinarizationFailed)
	}
	mb := m.Bounds()
	if mb.Dx() != want.Dx() || mb.Dy() != want.Dy() {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.marshal",
			pperrors.ErrBinarizationFailed)
	}
	out := image.NewGray(want)
	if g, ok := m.(*image.Gray); ok {
		for y := 0; y < want.Dy(); y++ {
			off := g.PixOffset(mb.Min.X, mb.Min.Y+y)
			row := out.Pix[y*want.Dx() : (y+1)*want.Dx()]
			for x, v := range g.Pix[off : off+want.Dx()] {
				row[x] = snap(v)
			}
		}
		return out, nil
	}
	for y := 0; y < want.Dy(); y++ {
		row := out.Pix[y*want.Dx() : (y+1)*want.Dx()]
		for x := 0; x < want.Dx(); x++ {
			r, g, b, _ := m.At(mb.Min.X+x, mb.Min.Y+y).RGBA()
			// BT.601 luma, 16-bit channels.
			luma := (299*r + 587*g + 114*b) / 1000
			row[x] = snap(uint8(luma >> 8))
		}
	}
	return out, nil
}

func snap(v uint8) uint8 {
	if v < 128 {
		return 0
	}
	return 255
}

// IsBiLevel reports whether every sample in img is 0 or 255.
func IsBiLevel(img *image.Gray) bool {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		for _, v := range img.Pix[off : off+b.Dx()] {
			if v != 0 && v != 255 {
				return false
			}
		}
	}
	return true
}
