package enhance_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/Divergent-Discourses/dd-custom-preprocess/enhance"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func uniformGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// noisyGray returns a flat page of base intensity with deterministic
// pseudo-random noise in [-spread, spread].
func noisyGray(w, h int, base uint8, spread int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	state := uint32(0x6C078965)
	for i := range img.Pix {
		state = state*1664525 + 1013904223
		n := int(state>>16)%(2*spread+1) - spread
		img.Pix[i] = uint8(clampI(int(base)+n, 0, 255))
	}
	return img
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func meanVariance(img *image.Gray) (mean, variance float64) {
	n := float64(len(img.Pix))
	for _, v := range img.Pix {
		mean += float64(v)
	}
	mean /= n
	for _, v := range img.Pix {
		d := float64(v) - mean
		variance += d * d
	}
	return mean, variance / n
}

func isUniform(img *image.Gray) bool {
	for _, v := range img.Pix {
		if v != img.Pix[0] {
			return false
		}
	}
	return true
}

// ── Grayscale ─────────────────────────────────────────────────────────────────

func TestGrayscale_ConvertsColor(t *testing.T) {
	tests := []struct {
		name string
		c    color.Color
		want uint8
	}{
		{"red", color.RGBA{255, 0, 0, 255}, 76},
		{"green", color.RGBA{0, 255, 0, 255}, 150},
		{"blue", color.RGBA{0, 0, 255, 255}, 29},
		{"white", color.RGBA{255, 255, 255, 255}, 255},
		{"black", color.RGBA{0, 0, 0, 255}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := image.NewRGBA(image.Rect(0, 0, 2, 2))
			for i := 0; i < 4; i++ {
				src.Set(i%2, i/2, tc.c)
			}
			got := enhance.Grayscale(src)
			if got.Pix[0] != tc.want {
				t.Errorf("luma = %d, want %d", got.Pix[0], tc.want)
			}
		})
	}
}

func TestGrayscale_CopiesGrayInput(t *testing.T) {
	src := uniformGray(4, 4, 90)
	got := enhance.Grayscale(src)

	got.Pix[0] = 7
	if src.Pix[0] != 90 {
		t.Error("result aliases the input buffer")
	}
}

func TestGrayscale_OffsetBounds(t *testing.T) {
	full := uniformGray(16, 16, 0)
	for y := 4; y < 12; y++ {
		for x := 4; x < 12; x++ {
			full.Pix[y*16+x] = 200
		}
	}
	sub := full.SubImage(image.Rect(4, 4, 12, 12)).(*image.Gray)

	got := enhance.Grayscale(sub)
	if got.Bounds() != sub.Bounds() {
		t.Fatalf("bounds = %v, want %v", got.Bounds(), sub.Bounds())
	}
	if v := got.GrayAt(8, 8).Y; v != 200 {
		t.Errorf("sample inside subimage = %d, want 200", v)
	}
}

// ── Contrast stretch ──────────────────────────────────────────────────────────

func TestStretchContrast_RemapsToFullRange(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 3, 1))
	src.Pix[0], src.Pix[1], src.Pix[2] = 50, 100, 150

	got := enhance.StretchContrast(src)
	want := []uint8{0, 128, 255}
	for i, v := range want {
		if got.Pix[i] != v {
			t.Errorf("pixel %d = %d, want %d", i, got.Pix[i], v)
		}
	}
}

func TestStretchContrast_ConstantPageIsCopied(t *testing.T) {
	src := uniformGray(8, 8, 173)
	got := enhance.StretchContrast(src)
	for i, v := range got.Pix {
		if v != 173 {
			t.Fatalf("pixel %d = %d, want 173", i, v)
		}
	}
	got.Pix[0] = 1
	if src.Pix[0] != 173 {
		t.Error("result aliases the input buffer")
	}
}

func TestStretchContrast_FullRangeInputKeepsEndpoints(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 3, 1))
	src.Pix[0], src.Pix[1], src.Pix[2] = 0, 128, 255

	got := enhance.StretchContrast(src)
	if got.Pix[0] != 0 || got.Pix[2] != 255 {
		t.Errorf("endpoints moved: got [%d _ %d], want [0 _ 255]", got.Pix[0], got.Pix[2])
	}
}

// ── CLAHE ─────────────────────────────────────────────────────────────────────

func TestCLAHE_UniformPageStaysUniform(t *testing.T) {
	got := enhance.CLAHE(uniformGray(64, 64, 128), 2.0, 8)
	if got.Bounds().Dx() != 64 || got.Bounds().Dy() != 64 {
		t.Fatalf("bounds = %v, want 64x64", got.Bounds())
	}
	if !isUniform(got) {
		t.Error("uniform input produced non-uniform output")
	}
}

func TestCLAHE_WidensNarrowHistogram(t *testing.T) {
	// Intensities confined to [118, 138]; a generous clip limit lets the
	// equalization spread them out.
	src := noisyGray(64, 64, 128, 10)
	got := enhance.CLAHE(src, 16.0, 4)

	lo, hi := uint8(255), uint8(0)
	for _, v := range got.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if spread := int(hi) - int(lo); spread <= 20 {
		t.Errorf("output spread = %d, want wider than the 20-level input band", spread)
	}
}

func TestCLAHE_TilesClampedToImage(t *testing.T) {
	src := noisyGray(3, 3, 100, 30)
	got := enhance.CLAHE(src, 2.0, 8) // more tiles than pixels per axis
	if got.Bounds().Dx() != 3 || got.Bounds().Dy() != 3 {
		t.Fatalf("bounds = %v, want 3x3", got.Bounds())
	}
	got = enhance.CLAHE(src, 2.0, 0) // degenerate tile count
	if got.Bounds().Dx() != 3 || got.Bounds().Dy() != 3 {
		t.Fatalf("bounds = %v, want 3x3", got.Bounds())
	}
}

func TestCLAHE_Deterministic(t *testing.T) {
	src := noisyGray(48, 32, 128, 40)
	a := enhance.CLAHE(src, 2.0, 8)
	b := enhance.CLAHE(src, 2.0, 8)
	for i := range a.Pix {
		if a.Pix[i] != b.Pix[i] {
			t.Fatal("two runs over the same input disagree")
		}
	}
}

// ── Non-local means ───────────────────────────────────────────────────────────

func TestDenoiseNLM_ReducesNoiseVariance(t *testing.T) {
	src := noisyGray(64, 64, 128, 20)
	varBefore := func() float64 { _, v := meanVariance(src); return v }()

	got := enhance.DenoiseNLM(src, 10, 7, 21)
	meanAfter, varAfter := meanVariance(got)

	if varAfter >= varBefore/2 {
		t.Errorf("variance %f -> %f, want at least a 2x reduction", varBefore, varAfter)
	}
	if meanAfter < 118 || meanAfter > 138 {
		t.Errorf("mean drifted to %f, want near 128", meanAfter)
	}
}

func TestDenoiseNLM_UniformPageUnchanged(t *testing.T) {
	got := enhance.DenoiseNLM(uniformGray(32, 32, 200), 10, 7, 21)
	for i, v := range got.Pix {
		if v != 200 {
			t.Fatalf("pixel %d = %d, want 200", i, v)
		}
	}
}

func TestDenoiseNLM_ZeroStrengthCopies(t *testing.T) {
	src := noisyGray(16, 16, 128, 30)
	got := enhance.DenoiseNLM(src, 0, 7, 21)
	for i := range src.Pix {
		if got.Pix[i] != src.Pix[i] {
			t.Fatalf("pixel %d changed with h=0", i)
		}
	}
	got.Pix[0] ^= 0xFF
	if src.Pix[0] == got.Pix[0] {
		t.Error("result aliases the input buffer")
	}
}

func TestDenoiseNLM_InputIsNotMutated(t *testing.T) {
	src := noisyGray(24, 24, 128, 20)
	before := append([]uint8(nil), src.Pix...)
	enhance.DenoiseNLM(src, 10, 7, 21)
	for i := range before {
		if src.Pix[i] != before[i] {
			t.Fatal("DenoiseNLM mutated its input")
		}
	}
}

func TestDenoiseNLM_WindowLargerThanImage(t *testing.T) {
	src := noisyGray(5, 4, 128, 20)
	got := enhance.DenoiseNLM(src, 10, 7, 21)
	if got.Bounds().Dx() != 5 || got.Bounds().Dy() != 4 {
		t.Fatalf("bounds = %v, want 5x4", got.Bounds())
	}
}

// ── Apply ─────────────────────────────────────────────────────────────────────

func TestApply_WithoutContrastEnhance(t *testing.T) {
	src := noisyGray(32, 32, 128, 20)
	p := enhance.Params{DenoiseStrength: 10, DenoiseTemplateSize: 7, DenoiseSearchSize: 21}

	got, err := enhance.Apply(context.Background(), src, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := enhance.DenoiseNLM(src, 10, 7, 21)
	for i := range want.Pix {
		if got.Pix[i] != want.Pix[i] {
			t.Fatal("Apply without contrast enhancement differs from plain denoising")
		}
	}
}

func TestApply_WithContrastEnhance(t *testing.T) {
	src := noisyGray(64, 64, 128, 10)
	p := enhance.Params{
		DenoiseStrength:     10,
		DenoiseTemplateSize: 7,
		DenoiseSearchSize:   21,
		ContrastEnhance:     true,
		CLAHEClipLimit:      2.0,
		CLAHETiles:          8,
	}

	got, err := enhance.Apply(context.Background(), src, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Bounds() != src.Bounds() {
		t.Errorf("bounds = %v, want %v", got.Bounds(), src.Bounds())
	}
}

func TestApply_NilInput(t *testing.T) {
	_, err := enhance.Apply(context.Background(), nil, enhance.Params{})
	if !errors.Is(err, pperrors.ErrEmptyInput) {
		t.Errorf("got %v, want ErrEmptyInput", err)
	}
}

func TestApply_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := enhance.Apply(ctx, uniformGray(8, 8, 128), enhance.Params{DenoiseStrength: 10})
	if err == nil {
		t.Fatal("canceled context accepted")
	}
	if !pperrors.IsCategory(err, pperrors.CategoryEnhance) {
		t.Errorf("category = %v, want enhance", pperrors.CategoryOf(err))
	}
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkDenoiseNLM(b *testing.B) {
	src := noisyGray(512, 512, 128, 20)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		enhance.DenoiseNLM(src, 10, 7, 21)
	}
}

func BenchmarkCLAHE(b *testing.B) {
	src := noisyGray(1024, 768, 128, 40)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		enhance.CLAHE(src, 2.0, 8)
	}
}
