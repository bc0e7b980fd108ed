//go:build cgo

package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/Divergent-Discourses/dd-custom-preprocess/adapters/vips"
	"github.com/Divergent-Discourses/dd-custom-preprocess/config"
	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	"github.com/Divergent-Discourses/dd-custom-preprocess/normalize"
)

func makeJPEG(b *testing.B, w, h int) []byte {
	b.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(235)
			if y%24 < 8 {
				v = 30
			}
			img.Pix[y*w+x] = v
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92})
	return buf.Bytes()
}

// makeNoisyPNG defeats JPEG compression so the byte-budget loop has to step.
func makeNoisyPNG(b *testing.B, w, h int) []byte {
	b.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	state := uint32(0x2545F491)
	for i := range img.Pix {
		state = state*1664525 + 1013904223
		img.Pix[i] = uint8(state >> 24)
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func scaleConfig(maxDim int) config.NormalizeConfig {
	cfg := config.Default().Normalize
	cfg.MaxDimension = maxDim
	return cfg
}

// ─── Scale to bounds ──────────────────────────────────────────────────────────

func BenchmarkNormalizeScale_Imaging_4Kto2K(b *testing.B) {
	raw := makeJPEG(b, 3840, 2160)
	n := normalize.NewImaging(scaleConfig(2000))

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := n.Normalize(context.Background(),
			&core.ImageData{Data: raw, Format: core.FormatJPEG}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkNormalizeScale_Vips_4Kto2K(b *testing.B) {
	raw := makeJPEG(b, 3840, 2160)
	n := vips.NewNormalizer(scaleConfig(2000), vips.BackendConfig{})
	defer n.Shutdown()

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := n.Normalize(context.Background(),
			&core.ImageData{Data: raw, Format: core.FormatJPEG}); err != nil {
			b.Fatal(err)
		}
	}
}

// ─── Byte budget step-down ────────────────────────────────────────────────────

func budgetConfig() config.NormalizeConfig {
	cfg := config.Default().Normalize
	cfg.MaxBytes = 256 << 10
	return cfg
}

func BenchmarkNormalizeBudget_Imaging_1080p(b *testing.B) {
	raw := makeNoisyPNG(b, 1920, 1080)
	n := normalize.NewImaging(budgetConfig())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := n.Normalize(context.Background(),
			&core.ImageData{Data: raw, Format: core.FormatPNG}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkNormalizeBudget_Vips_1080p(b *testing.B) {
	raw := makeNoisyPNG(b, 1920, 1080)
	n := vips.NewNormalizer(budgetConfig(), vips.BackendConfig{})
	defer n.Shutdown()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := n.Normalize(context.Background(),
			&core.ImageData{Data: raw, Format: core.FormatPNG}); err != nil {
			b.Fatal(err)
		}
	}
}
