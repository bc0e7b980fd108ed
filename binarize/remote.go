package binarize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
	"github.com/Divergent-Discourses/dd-custom-preprocess/utils"
)

// maxResultBytes bounds what an external engine may hand back.  A bi-level
// PNG of even an oversized scan stays well under this; anything bigger is a
// misbehaving service, not a page.
const maxResultBytes = 64 << 20

var _ core.Binarizer = (*HTTPBinarizer)(nil)

// HTTPBinarizer sends the enhanced page to a binarization service as PNG and
// expects the binarized page back as PNG with identical dimensions.  The
// service wraps whatever segmentation model the deployment runs; this
// adapter only does transport and buffer marshaling.
type HTTPBinarizer struct {
	Endpoint string
	Model    string // reported by Name; informational
	Client   *http.Client
	// Limiter, when set, throttles calls so a GPU-backed service is not
	// flooded by the worker pool.
	Limiter *rate.Limiter
}

// NewHTTPBinarizer returns an adapter posting to endpoint with a default
// client.
func NewHTTPBinarizer(endpoint, model string) *HTTPBinarizer {
	return &HTTPBinarizer{Endpoint: endpoint, Model: model, Client: &http.Client{}}
}

func (b *HTTPBinarizer) Name() string {
	if b.Model != "" {
		return b.Model
	}
	return "http:" + b.Endpoint
}

func (b *HTTPBinarizer) Binarize(ctx context.Context, src *image.Gray) (*image.Gray, error) {
	if src == nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.http", pperrors.ErrEmptyInput)
	}
	if b.Limiter != nil {
		if err := b.Limiter.Wait(ctx); err != nil {
			return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.http", err)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.http", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, &buf)
	if err != nil {
		return nil, pperrors.New(pperrors.CategoryBinarize, "binarize.http", err)
	}
	req.Header.Set("Content-Type", "image/png")
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, binarizationFailed("binarize.http", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, binarizationFailed("binarize.http",
			fmt.Errorf("binarization service returned %s", resp.Status))
	}
	img, err := png.Decode(&utils.CappedReader{R: resp.Body, Max: maxResultBytes})
	if err != nil {
		return nil, binarizationFailed("binarize.http", err)
	}
	out, err := toBinaryGray(img, src.Bounds())
	if err != nil {
		return nil, binarizationFailed("binarize.http",
			fmt.Errorf("service result %dx%d does not match input %dx%d",
				img.Bounds().Dx(), img.Bounds().Dy(), src.Bounds().Dx(), src.Bounds().Dy()))
	}
	return out, nil
}
