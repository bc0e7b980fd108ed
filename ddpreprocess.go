// Package ddpreprocess prepares scanned document images for OCR.  Every file
// is rewritten to satisfy upload bounds, quality-scored through an external
// model, and routed by a threshold gate: pages that score badly are binarized
// locally with Sauvola thresholding, pages that score well go to the
// model-backed binarizer.  Both branches share denoising, contrast
// enhancement and projection-profile deskew.  Files the selection pattern
// does not pick are normalized and copied through unchanged.
package ddpreprocess

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Divergent-Discourses/dd-custom-preprocess/adapters/decoder"
	"github.com/Divergent-Discourses/dd-custom-preprocess/adapters/encoder"
	"github.com/Divergent-Discourses/dd-custom-preprocess/adapters/storage"
	"github.com/Divergent-Discourses/dd-custom-preprocess/binarize"
	"github.com/Divergent-Discourses/dd-custom-preprocess/config"
	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	"github.com/Divergent-Discourses/dd-custom-preprocess/deskew"
	"github.com/Divergent-Discourses/dd-custom-preprocess/enhance"
	apperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
	"github.com/Divergent-Discourses/dd-custom-preprocess/normalize"
	"github.com/Divergent-Discourses/dd-custom-preprocess/pipeline"
	"github.com/Divergent-Discourses/dd-custom-preprocess/quality"
	"github.com/Divergent-Discourses/dd-custom-preprocess/utils"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	TIFF = core.FormatTIFF
	BMP  = core.FormatBMP
	WebP = core.FormatWebP
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Preprocessor is the primary entry point.
type Preprocessor struct {
	inner *core.Runner
	reg   *core.DefaultRegistry
	cfg   config.Config

	scorer     core.QualityScorer
	store      core.ScoreStore
	normalizer core.Normalizer
	binarizers binarize.Table
	hooks      []core.Hook
	logger     core.Logger
}

// New creates a Preprocessor with the built-in codecs registered and the two
// branches wired to their defaults: Sauvola for bad pages, Otsu for good
// pages.  Attach a quality scorer with SetScorer before running — without one
// every selected file is skipped as unscorable.
func New(cfg config.Config) *Preprocessor {
	reg := core.NewRegistry()
	// Register built-in codecs.
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterDecoder(core.FormatTIFF, decoder.NewTIFF())
	reg.RegisterDecoder(core.FormatBMP, decoder.NewBMP())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.OutputQuality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatTIFF, encoder.NewTIFF())

	p := &Preprocessor{
		inner: core.NewRunner(cfg, reg),
		reg:   reg,
		cfg:   cfg,
		binarizers: binarize.NewTable(
			binarize.NewSauvola(cfg.SauvolaK, cfg.SauvolaWindow),
			binarize.Otsu{},
		),
	}
	// The vips backend links libvips; callers opting in construct the
	// adapter themselves and attach it with SetNormalizer.
	if cfg.Normalize.Backend == config.NormalizeImaging {
		p.normalizer = normalize.NewImaging(cfg.Normalize)
	}
	return p
}

// SetLogger attaches a structured logger.
func (p *Preprocessor) SetLogger(l core.Logger) {
	p.logger = l
	p.inner.SetLogger(l)
}

// SetMetrics attaches a metrics collector.
func (p *Preprocessor) SetMetrics(m core.MetricsCollector) { p.inner.SetMetrics(m) }

// AddHook registers an observer for pipeline stage events.
func (p *Preprocessor) AddHook(h core.Hook) { p.hooks = append(p.hooks, h) }

// SetScorer attaches the quality model adapter behind the gate.
func (p *Preprocessor) SetScorer(s core.QualityScorer) { p.scorer = s }

// SetScoreStore attaches a persistent score cache.  RunDir opens one in the
// source directory automatically when none is set.
func (p *Preprocessor) SetScoreStore(s core.ScoreStore) { p.store = s }

// SetNormalizer replaces the upload-requirements normalizer.
func (p *Preprocessor) SetNormalizer(n core.Normalizer) { p.normalizer = n }

// SetBinarizer replaces the engine behind one branch of the gate.
func (p *Preprocessor) SetBinarizer(class core.Classification, b core.Binarizer) {
	p.binarizers[class] = b
}

// SetStorage attaches the destination storage adapter used by Run.
func (p *Preprocessor) SetStorage(s core.StorageAdapter) { p.inner.SetStorage(s) }

// RegisterDecoder registers a custom decoder for the given format.
func (p *Preprocessor) RegisterDecoder(f core.Format, d core.Decoder) { p.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (p *Preprocessor) RegisterEncoder(f core.Format, e core.Encoder) { p.reg.RegisterEncoder(f, e) }

// Stats returns lightweight processing statistics.
func (p *Preprocessor) Stats() (processed, errors int64) {
	return p.inner.ProcessedCount(), p.inner.ErrorCount()
}

// Run processes the given files into the storage attached via SetStorage and
// returns one outcome per file.  Scores go through the store attached via
// SetScoreStore, or are computed fresh when none is set.
func (p *Preprocessor) Run(ctx context.Context, files []core.FileTask) (*core.RunSummary, error) {
	return p.run(ctx, files, p.store)
}

// RunDir walks srcDir recursively, processes every image file under it, and
// mirrors the directory layout under destDir.  Unless a store was attached
// explicitly, the score cache lives in srcDir so scores travel with the
// corpus they describe; a cache that cannot be opened degrades to scoring
// every file fresh.
func (p *Preprocessor) RunDir(ctx context.Context, srcDir, destDir string) (*core.RunSummary, error) {
	srcDir, err := filepath.Abs(srcDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "rundir", err)
	}
	info, err := os.Stat(srcDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "rundir", err)
	}
	if !info.IsDir() {
		return nil, apperrors.New(apperrors.CategoryInput, "rundir",
			fmt.Errorf("%s is not a directory", srcDir))
	}

	files, err := listImages(srcDir, p.cfg.CacheFileName)
	if err != nil {
		return nil, err
	}

	local, err := storage.NewLocal(destDir, os.FileMode(p.cfg.Local.Permissions))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "rundir", err)
	}
	p.inner.SetStorage(local)

	store, closeStore := p.openStore(srcDir)
	defer closeStore()

	return p.run(ctx, files, store)
}

// ProcessFile runs a single file through the full circuit and writes the
// result under destDir.  The returned outcome carries the verdict, score,
// skew and output path; err mirrors the outcome's error so callers check one
// value.  The score cache resolves as in RunDir, next to the source file.
func (p *Preprocessor) ProcessFile(ctx context.Context, srcPath, destDir string) (*core.FileOutcome, error) {
	abs, err := filepath.Abs(srcPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "processfile", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "processfile", err)
	}
	if info.IsDir() {
		return nil, apperrors.New(apperrors.CategoryInput, "processfile",
			fmt.Errorf("%s is a directory", abs))
	}

	local, err := storage.NewLocal(destDir, os.FileMode(p.cfg.Local.Permissions))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "processfile", err)
	}
	p.inner.SetStorage(local)

	store, closeStore := p.openStore(filepath.Dir(abs))
	defer closeStore()

	summary, err := p.run(ctx, []core.FileTask{{Path: abs, Rel: filepath.Base(abs)}}, store)
	if err != nil {
		return nil, err
	}
	o := summary.Files[0]
	return &o, o.Err
}

// openStore resolves the score store for a run rooted at dir: the store
// attached with SetScoreStore wins, then a bbolt file in dir, then the no-op
// store when that file cannot be opened.  closeFn releases whatever this
// call opened.
func (p *Preprocessor) openStore(dir string) (store core.ScoreStore, closeFn func()) {
	if p.store != nil || p.cfg.CacheFileName == "" {
		return p.store, func() {}
	}
	bolt, err := quality.OpenBoltStore(filepath.Join(dir, p.cfg.CacheFileName))
	if err != nil {
		p.logWarn("score cache unavailable, scoring every file fresh", "error", err)
		return quality.NopStore{}, func() {}
	}
	if p.scorer != nil {
		prev, aErr := bolt.AnnotateScorer(p.scorer.Name())
		if aErr == nil && prev != "" && prev != p.scorer.Name() {
			p.logWarn("score cache was built by a different model; cached scores may not be comparable",
				"cached_model", prev, "model", p.scorer.Name())
		}
	}
	return bolt, func() { bolt.Close() }
}

func (p *Preprocessor) run(ctx context.Context, files []core.FileTask, store core.ScoreStore) (*core.RunSummary, error) {
	plan, err := p.plan()
	if err != nil {
		return nil, err
	}
	for class, br := range plan.Branches {
		if pl, ok := br.(*pipeline.Pipeline); ok {
			p.logDebug("branch pipeline assembled", "class", class.String(), "steps", strings.Join(pl.Names(), ","))
		}
	}
	gate := quality.NewGate(p.scorer, store, p.cfg.GoodBadThreshold, p.cfg.LowerBetter, p.cfg.ModelTimeout)
	gate.Logger = p.logger
	p.inner.SetGate(gate)
	return p.inner.Run(ctx, files, plan)
}

// plan assembles the pre pipeline and one branch pipeline per gate verdict.
func (p *Preprocessor) plan() (core.RunPlan, error) {
	if p.normalizer == nil {
		return core.RunPlan{}, apperrors.New(apperrors.CategoryConfig, "plan",
			fmt.Errorf("normalize backend %q needs an explicit normalizer; attach one with SetNormalizer",
				p.cfg.Normalize.Backend))
	}

	params := enhance.Params{
		DenoiseStrength:     p.cfg.DenoiseStrength,
		DenoiseTemplateSize: p.cfg.DenoiseTemplateSize,
		DenoiseSearchSize:   p.cfg.DenoiseSearchSize,
		ContrastEnhance:     p.cfg.ContrastEnhance,
		CLAHEClipLimit:      p.cfg.CLAHEClipLimit,
		CLAHETiles:          p.cfg.CLAHETiles,
	}
	skew := deskew.New(p.cfg.MaxSkewDegrees, p.cfg.SkewStepDegrees)
	outFormat := core.Format(p.cfg.OutputFormat)
	opts := core.EncodeOptions{Quality: p.cfg.OutputQuality}

	pre := pipeline.New().
		Use(&pipeline.NormalizeStep{Normalizer: p.normalizer}).
		WithRetry(p.cfg.MaxRetries, p.cfg.RetryDelay)
	for _, h := range p.hooks {
		pre.AddHook(h)
	}

	branches := make(map[core.Classification]core.PipelineRunner, len(p.binarizers))
	for class, engine := range p.binarizers {
		br := pipeline.New().
			Use(&pipeline.DecodeStep{Registry: p.reg}).
			Use(&pipeline.EnhanceStep{Params: params}).
			Use(&pipeline.BinarizeStep{Engine: engine, Timeout: p.cfg.ModelTimeout}).
			Use(&pipeline.DeskewStep{Deskewer: skew}).
			Use(&pipeline.EncodeStep{Registry: p.reg, Format: outFormat, Options: opts}).
			WithRetry(p.cfg.MaxRetries, p.cfg.RetryDelay)
		for _, h := range p.hooks {
			br.AddHook(h)
		}
		branches[class] = br
	}
	return core.RunPlan{Pre: pre, Branches: branches}, nil
}

// NewPipeline creates a reusable, standalone pipeline.
func (p *Preprocessor) NewPipeline(steps ...core.Step) *pipeline.Pipeline {
	pl := pipeline.New()
	pl.Use(steps...)
	return pl
}

func (p *Preprocessor) logWarn(msg string, fields ...interface{}) {
	if p.logger != nil {
		p.logger.Warn(msg, fields...)
	}
}

func (p *Preprocessor) logDebug(msg string, fields ...interface{}) {
	if p.logger != nil {
		p.logger.Debug(msg, fields...)
	}
}

// listImages walks root and returns every image file as a FileTask, skipping
// the score cache file.  Results sort by relative path so runs visit files in
// a stable order.
func listImages(root, cacheName string) ([]core.FileTask, error) {
	var files []core.FileTask
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if cacheName != "" && name == cacheName {
			return nil
		}
		if !utils.IsImagePath(name) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, core.FileTask{Path: path, Rel: rel})
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "walk", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

// ── Scorer and binarizer constructors ─────────────────────────────────────────

// NewHTTPScorer returns a scorer that posts images to a scoring service.
func NewHTTPScorer(endpoint, model string) core.QualityScorer {
	return quality.NewHTTPScorer(endpoint, model)
}

// NewExecScorer returns a scorer that shells out to a local command.
func NewExecScorer(command string, args []string, model string) core.QualityScorer {
	return &quality.ExecScorer{Command: command, Args: args, Model: model}
}

// NewFixedScorer returns a scorer that reports the same score for every file.
// Useful for dry runs that should exercise one branch end to end.
func NewFixedScorer(score float64) core.QualityScorer {
	return &quality.FixedScorer{Score: score}
}

// NewHTTPBinarizer returns a binarizer that posts pages to a model service.
func NewHTTPBinarizer(endpoint, model string) core.Binarizer {
	return binarize.NewHTTPBinarizer(endpoint, model)
}

// NewExecBinarizer returns a binarizer that shells out to a local command.
func NewExecBinarizer(command string, args []string) core.Binarizer {
	return &binarize.ExecBinarizer{Command: command, Args: args}
}
