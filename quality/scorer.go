package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/segmentio/ksuid"
	"golang.org/x/time/rate"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

var (
	_ core.QualityScorer = (*FixedScorer)(nil)
	_ core.QualityScorer = (*HTTPScorer)(nil)
	_ core.QualityScorer = (*ExecScorer)(nil)
)

// ── FixedScorer ───────────────────────────────────────────────────────────────

// FixedScorer returns canned scores.  Useful for tests and for dry runs where
// the routing should be exercised without a model in the loop.
type FixedScorer struct {
	// Score is returned for any path not present in ByPath.
	Score float64
	// ByPath overrides the score per cleaned absolute source path.
	ByPath map[string]float64
	// Fail makes every assessment fail, simulating an unreachable model.
	Fail bool
}

func (s *FixedScorer) Name() string { return "fixed" }

func (s *FixedScorer) Assess(_ context.Context, img *core.ImageData) (float64, error) {
	if s.Fail {
		return 0, pperrors.New(pperrors.CategoryScore, "score.fixed", pperrors.ErrScoreUnavailable)
	}
	if v, ok := s.ByPath[img.SourcePath]; ok {
		return v, nil
	}
	return s.Score, nil
}

// ── HTTPScorer ────────────────────────────────────────────────────────────────

// HTTPScorer posts the encoded image to a scoring service and reads the score
// from a JSON body of the form {"score": 0.42}.  The service wraps whatever
// IQA model the deployment uses; this adapter only does transport.
type HTTPScorer struct {
	Endpoint string
	Model    string // reported by Name; informational
	Client   *http.Client
	// Limiter, when set, throttles calls so a GPU-backed service is not
	// flooded by the worker pool.
	Limiter *rate.Limiter
}

// NewHTTPScorer returns a scorer posting to endpoint with a default client.
func NewHTTPScorer(endpoint, model string) *HTTPScorer {
	return &HTTPScorer{
		Endpoint: endpoint,
		Model:    model,
		Client:   &http.Client{},
	}
}

func (s *HTTPScorer) Name() string {
	if s.Model != "" {
		return s.Model
	}
	return "http:" + s.Endpoint
}

type scoreResponse struct {
	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"`
}

func (s *HTTPScorer) Assess(ctx context.Context, img *core.ImageData) (float64, error) {
	if len(img.Data) == 0 {
		return 0, pperrors.New(pperrors.CategoryScore, "score.http", pperrors.ErrEmptyInput)
	}
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return 0, pperrors.New(pperrors.CategoryScore, "score.http", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(img.Data))
	if err != nil {
		return 0, pperrors.New(pperrors.CategoryScore, "score.http", err)
	}
	req.Header.Set("Content-Type", contentTypeFor(img.Format))
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, scoreUnavailable("score.http", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, scoreUnavailable("score.http", fmt.Errorf("scoring service returned %s", resp.Status))
	}
	var body scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, scoreUnavailable("score.http", err)
	}
	if body.Error != "" {
		return 0, scoreUnavailable("score.http", fmt.Errorf("scoring service: %s", body.Error))
	}
	return body.Score, nil
}

// ── ExecScorer ────────────────────────────────────────────────────────────────

// ExecScorer shells out to a local scoring command.  The image is written to
// a temp file whose path is appended to the argument list; the command must
// print the score as the last non-empty line of stdout.
type ExecScorer struct {
	Command string
	Args    []string
	Model   string // reported by Name; informational
	// TempDir overrides os.TempDir for the image handoff file.
	TempDir string
}

func (s *ExecScorer) Name() string {
	if s.Model != "" {
		return s.Model
	}
	return "exec:" + filepath.Base(s.Command)
}

func (s *ExecScorer) Assess(ctx context.Context, img *core.ImageData) (float64, error) {
	if len(img.Data) == 0 {
		return 0, pperrors.New(pperrors.CategoryScore, "score.exec", pperrors.ErrEmptyInput)
	}
	dir := s.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	tmp := filepath.Join(dir, fmt.Sprintf("ddscore-%s%s", ksuid.New(), img.Format.Ext()))
	if err := os.WriteFile(tmp, img.Data, 0o600); err != nil {
		return 0, pperrors.New(pperrors.CategoryScore, "score.exec", err)
	}
	defer os.Remove(tmp)

	args := append(append([]string(nil), s.Args...), tmp)
	cmd := exec.CommandContext(ctx, s.Command, args...)
	out, err := cmd.Output()
	if err != nil {
		return 0, scoreUnavailable("score.exec", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	score, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, scoreUnavailable("score.exec", fmt.Errorf("cannot parse %q as a score", last))
	}
	return score, nil
}

// scoreUnavailable tags err so callers can recognise a skippable scoring
// failure regardless of the transport that produced it.
func scoreUnavailable(op string, err error) error {
	return pperrors.New(pperrors.CategoryScore, op,
		fmt.Errorf("%w: %v", pperrors.ErrScoreUnavailable, err))
}

func contentTypeFor(f core.Format) string {
	switch f {
	case core.FormatJPEG:
		return "image/jpeg"
	case core.FormatPNG:
		return "image/png"
	case core.FormatTIFF:
		return "image/tiff"
	case core.FormatBMP:
		return "image/bmp"
	case core.FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
