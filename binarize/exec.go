package binarize

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/segmentio/ksuid"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
	"github.com/Divergent-Discourses/dd-custom-preprocess/utils"
)

var _ core.Binarizer = (*ExecBinarizer)(nil)

// ExecBinarizer shells out to a local binarization command.  The enhanced
// page is written to a temp PNG whose path is appended to the argument list,
// followed by the path the command must write its PNG result to.
type ExecBinarizer struct {
	Command string
	Args    []string
	Model   string // reported by Name; informational
	// TempDir overrides os.TempDir for the handoff files.
	TempDir string
}

func (b *ExecBinarizer) Name() string {
	if b.Model != "" {
		return b.Model
	}
	return "exec:" + filepath.Base(b.Command)
}

func (b *ExecBinarizer) Binarize(ctx context.Context, src *image.Gray) (*image.Gray, error) {
	if src == nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.exec", pperrors.ErrEmptyInput)
	}
	dir := b.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	id := ksuid.New()
	inPath := filepath.Join(dir, fmt.Sprintf("ddbin-%s-in.png", id))
	outPath := filepath.Join(dir, fmt.Sprintf("ddbin-%s-out.png", id))

	in, err := os.Create(inPath)
	if err != nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.exec", err)
	}
	if err := png.Encode(in, src); err != nil {
		in.Close()
		os.Remove(inPath)
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.exec", err)
	}
	if err := in.Close(); err != nil {
		os.Remove(inPath)
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.exec", err)
	}
	defer os.Remove(inPath)
	defer os.Remove(outPath)

	args := append(append([]string(nil), b.Args...), inPath, outPath)
	cmd := exec.CommandContext(ctx, b.Command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, binarizationFailed("binarize.exec",
			fmt.Errorf("%v: %s", err, truncate(out, 256)))
	}

	f, err := os.Open(outPath)
	if err != nil {
		return nil, binarizationFailed("binarize.exec", err)
	}
	defer f.Close()
	img, err := png.Decode(&utils.CappedReader{R: f, Max: maxResultBytes})
	if err != nil {
		return nil, binarizationFailed("binarize.exec", err)
	}
	res, err := toBinaryGray(img, src.Bounds())
	if err != nil {
		return nil, binarizationFailed("binarize.exec",
			fmt.Errorf("command result %dx%d does not match input %dx%d",
				img.Bounds().Dx(), img.Bounds().Dy(), src.Bounds().Dx(), src.Bounds().Dy()))
	}
	return res, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
