package binarize_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"

	"github.com/Divergent-Discourses/dd-custom-preprocess/binarize"
	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// ── Strategy table ────────────────────────────────────────────────────────────

func TestTable_RoutesByVerdict(t *testing.T) {
	bad := binarize.NewSauvola(0.24, 11)
	good := binarize.Otsu{}
	table := binarize.NewTable(bad, good)

	if e, ok := table.For(core.ClassBad); !ok || e != core.Binarizer(bad) {
		t.Errorf("For(ClassBad) = %v, %v; want the local engine", e, ok)
	}
	if e, ok := table.For(core.ClassGood); !ok || e != core.Binarizer(good) {
		t.Errorf("For(ClassGood) = %v, %v; want the model engine", e, ok)
	}
	if _, ok := table.For(core.Classification(7)); ok {
		t.Error("For(unknown verdict) reported an engine")
	}
}

// ── Stub ──────────────────────────────────────────────────────────────────────

func TestStub_ThresholdsAtMidpointByDefault(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.Pix[0], src.Pix[1] = 127, 128

	out, err := (&binarize.Stub{}).Binarize(context.Background(), src)
	if err != nil {
		t.Fatalf("Binarize: %v", err)
	}
	if out.Pix[0] != 0 || out.Pix[1] != 255 {
		t.Errorf("got [%d %d], want [0 255]", out.Pix[0], out.Pix[1])
	}
}

func TestStub_CustomThreshold(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.Pix[0], src.Pix[1] = 59, 60

	out, err := (&binarize.Stub{Threshold: 60}).Binarize(context.Background(), src)
	if err != nil {
		t.Fatalf("Binarize: %v", err)
	}
	if out.Pix[0] != 0 || out.Pix[1] != 255 {
		t.Errorf("got [%d %d], want [0 255]", out.Pix[0], out.Pix[1])
	}
}

func TestStub_FailSimulatesOutage(t *testing.T) {
	_, err := (&binarize.Stub{Fail: true}).Binarize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	if !errors.Is(err, pperrors.ErrBinarizationFailed) {
		t.Errorf("got %v, want ErrBinarizationFailed", err)
	}
}

// ── Otsu ──────────────────────────────────────────────────────────────────────

func TestOtsu_SeparatesBimodalPage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			if x < 20 {
				src.Pix[y*40+x] = 45 // ink half
			} else {
				src.Pix[y*40+x] = 210 // paper half
			}
		}
	}

	out, err := binarize.Otsu{}.Binarize(context.Background(), src)
	if err != nil {
		t.Fatalf("Binarize: %v", err)
	}
	if !binarize.IsBiLevel(out) {
		t.Fatal("output holds gray levels other than 0 and 255")
	}
	if out.Pix[20*40+5] != 0 {
		t.Error("ink half classified as background")
	}
	if out.Pix[20*40+35] != 255 {
		t.Error("paper half classified as foreground")
	}
}

func TestOtsu_NilInput(t *testing.T) {
	_, err := binarize.Otsu{}.Binarize(context.Background(), nil)
	if !errors.Is(err, pperrors.ErrEmptyInput) {
		t.Errorf("got %v, want ErrEmptyInput", err)
	}
}

// ── HTTP adapter ──────────────────────────────────────────────────────────────

// binarizeService is a stand-in model endpoint.  transform rewrites the
// decoded page before it is sent back; nil echoes the page unchanged.
func binarizeService(t *testing.T, transform func(*image.Gray) image.Image) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("Content-Type = %q, want image/png", ct)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		img, err := png.Decode(bytes.NewReader(body))
		if err != nil {
			t.Errorf("decode request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gray, ok := img.(*image.Gray)
		if !ok {
			gray = image.NewGray(img.Bounds())
			for y := gray.Rect.Min.Y; y < gray.Rect.Max.Y; y++ {
				for x := gray.Rect.Min.X; x < gray.Rect.Max.X; x++ {
					gray.Set(x, y, img.At(x, y))
				}
			}
		}
		var result image.Image = gray
		if transform != nil {
			result = transform(gray)
		}
		w.Header().Set("Content-Type", "image/png")
		if err := png.Encode(w, result); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestHTTPBinarizer_RoundTrip(t *testing.T) {
	// The service snaps at 100; values are chosen off the adapter's own
	// midpoint so the result provably comes from the service.
	srv := binarizeService(t, func(g *image.Gray) image.Image {
		out := image.NewGray(g.Bounds())
		for i, v := range g.Pix {
			if v < 100 {
				out.Pix[i] = 0
			} else {
				out.Pix[i] = 255
			}
		}
		return out
	})
	defer srv.Close()

	src := image.NewGray(image.Rect(0, 0, 3, 1))
	src.Pix[0], src.Pix[1], src.Pix[2] = 20, 110, 250

	b := binarize.NewHTTPBinarizer(srv.URL, "trocr-seg")
	b.Client = srv.Client()
	out, err := b.Binarize(context.Background(), src)
	if err != nil {
		t.Fatalf("Binarize: %v", err)
	}
	want := []uint8{0, 255, 255}
	for i, v := range want {
		if out.Pix[i] != v {
			t.Errorf("pixel %d = %d, want %d", i, out.Pix[i], v)
		}
	}
	if b.Name() != "trocr-seg" {
		t.Errorf("Name() = %q, want the model name", b.Name())
	}
}

// Gray shades in the service response are snapped at the midpoint so the
// downstream buffer contract still holds.
func TestHTTPBinarizer_SnapsGrayResponse(t *testing.T) {
	srv := binarizeService(t, func(g *image.Gray) image.Image {
		out := image.NewGray(g.Bounds())
		for i := range out.Pix {
			out.Pix[i] = uint8(40 + i*60) // 40, 100, 160, ...
		}
		return out
	})
	defer srv.Close()

	b := binarize.NewHTTPBinarizer(srv.URL, "")
	b.Client = srv.Client()
	out, err := b.Binarize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 1)))
	if err != nil {
		t.Fatalf("Binarize: %v", err)
	}
	if !binarize.IsBiLevel(out) {
		t.Error("gray service response was not snapped to 0/255")
	}
}

func TestHTTPBinarizer_DimensionMismatchFails(t *testing.T) {
	srv := binarizeService(t, func(g *image.Gray) image.Image {
		return image.NewGray(image.Rect(0, 0, 8, 8)) // wrong size
	})
	defer srv.Close()

	b := binarize.NewHTTPBinarizer(srv.URL, "")
	b.Client = srv.Client()
	_, err := b.Binarize(context.Background(), image.NewGray(image.Rect(0, 0, 16, 16)))
	if !errors.Is(err, pperrors.ErrBinarizationFailed) {
		t.Errorf("got %v, want ErrBinarizationFailed", err)
	}
}

func TestHTTPBinarizer_ServiceErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := binarize.NewHTTPBinarizer(srv.URL, "")
	b.Client = srv.Client()
	_, err := b.Binarize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	if !errors.Is(err, pperrors.ErrBinarizationFailed) {
		t.Errorf("got %v, want ErrBinarizationFailed", err)
	}
}

func TestHTTPBinarizer_GarbageResponseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		io.WriteString(w, "not a png")
	}))
	defer srv.Close()

	b := binarize.NewHTTPBinarizer(srv.URL, "")
	b.Client = srv.Client()
	_, err := b.Binarize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	if !errors.Is(err, pperrors.ErrBinarizationFailed) {
		t.Errorf("got %v, want ErrBinarizationFailed", err)
	}
}

func TestHTTPBinarizer_UnreachableEndpointFails(t *testing.T) {
	b := binarize.NewHTTPBinarizer("http://127.0.0.1:1/binarize", "")
	_, err := b.Binarize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	if !errors.Is(err, pperrors.ErrBinarizationFailed) {
		t.Errorf("got %v, want ErrBinarizationFailed", err)
	}
}

// ── Exec adapter ──────────────────────────────────────────────────────────────

func TestExecBinarizer_RoundTrip(t *testing.T) {
	if _, err := exec.LookPath("cp"); err != nil {
		t.Skip("cp not available")
	}
	// cp copies the handoff PNG to the result path, so an already two-valued
	// input must come back unchanged.
	src := image.NewGray(image.Rect(0, 0, 6, 2))
	for i := range src.Pix {
		if i%3 == 0 {
			src.Pix[i] = 255
		}
	}

	b := &binarize.ExecBinarizer{Command: "cp", TempDir: t.TempDir()}
	out, err := b.Binarize(context.Background(), src)
	if err != nil {
		t.Fatalf("Binarize: %v", err)
	}
	for i := range src.Pix {
		if out.Pix[i] != src.Pix[i] {
			t.Fatalf("pixel %d = %d, want %d", i, out.Pix[i], src.Pix[i])
		}
	}
}

func TestExecBinarizer_MissingCommandFails(t *testing.T) {
	b := &binarize.ExecBinarizer{Command: "dd-binarize-does-not-exist", TempDir: t.TempDir()}
	_, err := b.Binarize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	if !errors.Is(err, pperrors.ErrBinarizationFailed) {
		t.Errorf("got %v, want ErrBinarizationFailed", err)
	}
}

func TestExecBinarizer_Name(t *testing.T) {
	b := &binarize.ExecBinarizer{Command: "/opt/models/bin/segment"}
	if got := b.Name(); got != "exec:segment" {
		t.Errorf("Name() = %q, want exec:segment", got)
	}
	b.Model = "sbb-binarize"
	if got := b.Name(); got != "sbb-binarize" {
		t.Errorf("Name() = %q, want the model name", got)
	}
}

// ── Buffer contract ───────────────────────────────────────────────────────────

func TestIsBiLevel(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		if i%2 == 0 {
			img.Pix[i] = 255
		}
	}
	if !binarize.IsBiLevel(img) {
		t.Error("two-valued buffer reported as not bi-level")
	}
	img.Pix[5] = 7
	if binarize.IsBiLevel(img) {
		t.Error("stray gray level not detected")
	}
}

func TestIsBiLevel_SubimageIgnoresOutsidePixels(t *testing.T) {
	full := image.NewGray(image.Rect(0, 0, 8, 8))
	full.Pix[0] = 9 // outside the subimage
	sub := full.SubImage(image.Rect(2, 2, 6, 6)).(*image.Gray)
	if !binarize.IsBiLevel(sub) {
		t.Error("pixels outside the subimage bounds affected the verdict")
	}
}
