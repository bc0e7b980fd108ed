package deskew_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/Divergent-Discourses/dd-custom-preprocess/deskew"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

// stripePage draws black horizontal text-row stripes tilted by skewDeg.  The
// stripe function matches the detector's projection map, so the drawn angle is
// exactly the angle the sweep should recover.
func stripePage(tb testing.TB, w, h int, skewDeg float64) *image.Gray {
	tb.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	sin, cos := math.Sincos(skewDeg * math.Pi / 180)
	cx, cy := float64(w)/2, float64(h)/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yr := sin*(float64(x)-cx) + cos*(float64(y)-cy) + cy
			v := uint8(255)
			// Offset keeps the stripe phase stable where yr goes negative.
			if int(yr+240)%24 < 8 {
				v = 0
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func uniformGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// ── Detection ─────────────────────────────────────────────────────────────────

func TestDetect_RecoversDrawnAngle(t *testing.T) {
	d := deskew.New(15, 0.5)
	tests := []struct {
		name string
		skew float64
	}{
		{"straight", 0},
		{"positive", 2.5},
		{"negative", -4.0},
		{"large", 10.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			page := stripePage(t, 640, 480, tc.skew)
			got, err := d.Detect(context.Background(), page)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if math.Abs(got-tc.skew) > 1e-9 {
				t.Errorf("angle: got %.2f, want %.2f", got, tc.skew)
			}
		})
	}
}

func TestDetect_BlankPageIsZero(t *testing.T) {
	d := deskew.New(15, 0.5)
	got, err := d.Detect(context.Background(), uniformGray(320, 240, 255))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got != 0 {
		t.Errorf("blank page angle: got %.2f, want 0", got)
	}
}

func TestDetect_SparseForegroundIsZero(t *testing.T) {
	// Ten ink pixels sit below the default sixteen-pixel floor, so the sweep
	// never runs and a speckled-but-blank page keeps its orientation.
	img := uniformGray(320, 240, 255)
	for i := 0; i < 10; i++ {
		img.SetGray(20+i*25, 30+i*17, color.Gray{Y: 0})
	}
	d := deskew.New(15, 0.5)
	got, err := d.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got != 0 {
		t.Errorf("sparse page angle: got %.2f, want 0", got)
	}
}

func TestDetect_MinForegroundOverride(t *testing.T) {
	page := stripePage(t, 320, 240, 3.0)
	d := deskew.New(15, 0.5)
	d.MinForeground = 1 << 30
	got, err := d.Detect(context.Background(), page)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got != 0 {
		t.Errorf("angle with unreachable floor: got %.2f, want 0", got)
	}
}

func TestDetect_NilImage(t *testing.T) {
	d := deskew.New(15, 0.5)
	_, err := d.Detect(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error for nil image")
	}
	if !errors.Is(err, pperrors.ErrEmptyInput) {
		t.Errorf("error chain: got %v, want ErrEmptyInput", err)
	}
	if got := pperrors.CategoryOf(err); got != pperrors.CategoryDeskew {
		t.Errorf("category: got %s, want %s", got, pperrors.CategoryDeskew)
	}
}

func TestDetect_EmptyBounds(t *testing.T) {
	d := deskew.New(15, 0.5)
	got, err := d.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 0, 0)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got != 0 {
		t.Errorf("empty image angle: got %.2f, want 0", got)
	}
}

func TestDetect_ContextCancel(t *testing.T) {
	page := stripePage(t, 320, 240, 2.0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := deskew.New(15, 0.5)
	_, err := d.Detect(ctx, page)
	if err == nil {
		t.Fatal("expected context cancellation error, got nil")
	}
	if got := pperrors.CategoryOf(err); got != pperrors.CategoryDeskew {
		t.Errorf("category: got %s, want %s", got, pperrors.CategoryDeskew)
	}
}

// ── Rotation ──────────────────────────────────────────────────────────────────

func TestDeskew_StraightensPage(t *testing.T) {
	const drawn = 3.0
	page := stripePage(t, 640, 480, drawn)

	d := deskew.New(15, 0.5)
	first, err := d.Deskew(context.Background(), page)
	if err != nil {
		t.Fatalf("Deskew: %v", err)
	}
	if math.Abs(first.Degrees-drawn) > 1e-9 {
		t.Errorf("detected angle: got %.2f, want %.2f", first.Degrees, drawn)
	}
	if got, want := first.Image.Bounds(), page.Bounds(); got != want {
		t.Errorf("bounds changed: got %v, want %v", got, want)
	}

	// A straightened page detects as straight, so a second pass is a no-op.
	second, err := d.Deskew(context.Background(), first.Image)
	if err != nil {
		t.Fatalf("second Deskew: %v", err)
	}
	if second.Degrees != 0 {
		t.Errorf("second pass angle: got %.2f, want 0", second.Degrees)
	}
	if !bytes.Equal(second.Image.Pix, first.Image.Pix) {
		t.Error("second pass altered a straight page")
	}
}

func TestDeskew_KeepsTwoValuedInput(t *testing.T) {
	page := stripePage(t, 320, 240, -2.5)
	d := deskew.New(15, 0.5)
	res, err := d.Deskew(context.Background(), page)
	if err != nil {
		t.Fatalf("Deskew: %v", err)
	}
	for i, v := range res.Image.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("pixel %d: got gray level %d after rotation, want 0 or 255", i, v)
		}
	}
}

func TestDeskew_ZeroAngleCopies(t *testing.T) {
	page := stripePage(t, 320, 240, 0)
	d := deskew.New(15, 0.5)
	res, err := d.Deskew(context.Background(), page)
	if err != nil {
		t.Fatalf("Deskew: %v", err)
	}
	if res.Degrees != 0 {
		t.Fatalf("angle: got %.2f, want 0", res.Degrees)
	}
	if !bytes.Equal(res.Image.Pix, page.Pix) {
		t.Error("zero-angle deskew should copy pixels unchanged")
	}
	res.Image.Pix[0] = 7
	if page.Pix[0] == 7 {
		t.Error("result shares pixel buffer with source")
	}
}

// ── Benchmarks ────────────────────────────────────────────────────────────────

func BenchmarkDetect(b *testing.B) {
	page := stripePage(b, 640, 480, 2.5)
	d := deskew.New(15, 0.5)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := d.Detect(ctx, page); err != nil {
			b.Fatalf("Detect: %v", err)
		}
	}
}

func BenchmarkDeskew(b *testing.B) {
	page := stripePage(b, 640, 480, 2.5)
	d := deskew.New(15, 0.5)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := d.Deskew(ctx, page); err != nil {
			b.Fatalf("Deskew: %v", err)
		}
	}
}
