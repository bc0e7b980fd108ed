package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/Divergent-Discourses/dd-custom-preprocess/config"
	apperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
	"github.com/Divergent-Discourses/dd-custom-preprocess/utils"
)

// PipelineRunner is a minimal interface over pipeline.Pipeline so that core
// does not import the pipeline package (avoiding a circular dependency).
type PipelineRunner interface {
	Run(ctx context.Context, img *ImageData) (*ImageData, map[string]time.Duration, error)
}

// RunPlan carries the pipelines a run threads files through.  Pre runs on
// every file ahead of selection and scoring; Branches maps each gate verdict
// to the pipeline that finishes a selected file.  Pipelines must be safe for
// concurrent use — the runner shares them across its workers.
type RunPlan struct {
	Pre      PipelineRunner
	Branches map[Classification]PipelineRunner
}

// Runner is the central orchestrator.  It fans a run's files out to a bounded
// worker pool; each file is normalized, routed past the selection pattern,
// scored through the gate, and finished by the branch pipeline its verdict
// picked.  Runner is safe for concurrent use.
type Runner struct {
	cfg      config.Config
	registry Registry
	logger   Logger
	metrics  MetricsCollector

	gate    Gate
	storage StorageAdapter

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// NewRunner creates a Runner with the given config.  Attach a gate and a
// storage adapter before calling Run.
func NewRunner(cfg config.Config, reg Registry) *Runner {
	return &Runner{cfg: cfg, registry: reg}
}

// SetLogger attaches a structured logger.
func (r *Runner) SetLogger(l Logger) { r.logger = l }

// SetMetrics attaches a metrics collector.
func (r *Runner) SetMetrics(m MetricsCollector) { r.metrics = m }

// SetGate attaches the score-and-classify gate.
func (r *Runner) SetGate(g Gate) { r.gate = g }

// SetStorage attaches the destination storage adapter.
func (r *Runner) SetStorage(s StorageAdapter) { r.storage = s }

// Registry returns the underlying registry so callers can register
// encoders/decoders after construction.
func (r *Runner) Registry() Registry { return r.registry }

// Run processes every file in the list and returns a summary holding one
// outcome per attempted file.  A per-file failure never aborts the run; Run
// itself returns an error only for an invalid configuration, a missing
// dependency, or a canceled context.  On cancellation dispatch stops between
// files, in-flight files finish, and the partial summary is still returned.
func (r *Runner) Run(ctx context.Context, files []FileTask, plan RunPlan) (*RunSummary, error) {
	if err := config.Validate(r.cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "run", err)
	}
	if r.storage == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "run", fmt.Errorf("no storage adapter configured"))
	}
	if plan.Pre == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "run", fmt.Errorf("run plan has no pre pipeline"))
	}

	// Validate guarantees the pattern compiles.
	var selectRe *regexp.Regexp
	if r.cfg.SelectPattern != "" {
		selectRe = regexp.MustCompile(r.cfg.SelectPattern)
	}

	workerCount := r.cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if len(files) > 0 && workerCount > len(files) {
		workerCount = len(files)
	}

	summary := &RunSummary{RunID: ksuid.New().String()}
	start := time.Now()
	r.logInfo("run started", "run_id", summary.RunID, "files", len(files), "workers", workerCount)

	jobs := make(chan FileTask)
	outcomes := make(chan FileOutcome)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				outcomes <- r.processFile(ctx, task, selectRe, plan)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, t := range files {
			select {
			case <-ctx.Done():
				return
			case jobs <- t:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		summary.add(o)
		switch o.Status {
		case StatusFailed:
			atomic.AddInt64(&r.errorCount, 1)
			r.logWarn("file failed", "path", o.Path, "error", o.Err)
		case StatusSkipped:
			r.logWarn("file skipped", "path", o.Path, "error", o.Err)
		default:
			atomic.AddInt64(&r.processedCount, 1)
			r.logDebug("file done",
				"path", o.Path,
				"status", o.Status.String(),
				"output", o.OutputPath,
				"duration", o.Duration)
		}
	}
	summary.Duration = time.Since(start)

	r.logInfo("run complete",
		"run_id", summary.RunID,
		"processed", summary.Processed,
		"passthrough", summary.Passthrough,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", summary.Duration)

	if err := ctx.Err(); err != nil {
		return summary, apperrors.Wrap(apperrors.CategoryPipeline, "run", err)
	}
	return summary, nil
}

// processFile takes one file from raw bytes to its outcome.  Every return
// path fills Status; errors are attached to the outcome, never propagated.
func (r *Runner) processFile(ctx context.Context, task FileTask, selectRe *regexp.Regexp, plan RunPlan) (out FileOutcome) {
	start := time.Now()
	out = FileOutcome{Path: task.Path, Rel: task.Rel}
	defer func() { out.Duration = time.Since(start) }()

	// Cancellation stops dispatch between files; a file already in flight
	// runs to completion.  Model calls stay bounded by their own timeouts.
	ctx = context.WithoutCancel(ctx)

	raw, err := os.ReadFile(task.Path)
	if err != nil {
		out.Status = StatusFailed
		out.Err = apperrors.Wrap(apperrors.CategoryInput, "read", err)
		r.recordError("read", out.Err)
		return out
	}

	img := &ImageData{
		Data:         raw,
		Format:       Format(utils.DetectFormat(raw)),
		SourcePath:   task.Path,
		RelPath:      task.Rel,
		OriginalSize: int64(len(raw)),
	}

	img, err = r.runPipeline(ctx, plan.Pre, img)
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		return out
	}

	// Files the selection pattern does not pick are copied through in their
	// normalized encoding.
	if selectRe != nil && !selectRe.MatchString(filepath.Base(task.Path)) {
		outRel, err := r.writeOutput(ctx, img, nil)
		if err != nil {
			out.Status = StatusFailed
			out.Err = err
			return out
		}
		out.Status = StatusPassthrough
		out.OutputPath = outRel
		return out
	}

	if r.gate == nil {
		out.Status = StatusSkipped
		out.Err = apperrors.New(apperrors.CategoryScore, "gate", apperrors.ErrScoreUnavailable)
		return out
	}
	class, score, hit, err := r.gate.Decide(ctx, img)
	if err != nil {
		out.Status = StatusSkipped
		out.Err = err
		r.recordError("score", err)
		return out
	}
	out.Class, out.Score, out.CacheHit = class, score, hit
	if r.metrics != nil {
		r.metrics.RecordClassification(class)
		r.metrics.RecordCacheLookup(hit)
	}

	branch, ok := plan.Branches[class]
	if !ok {
		out.Status = StatusFailed
		out.Err = apperrors.New(apperrors.CategoryPipeline, "route", fmt.Errorf("no pipeline for %s files", class))
		return out
	}
	img, err = r.runPipeline(ctx, branch, img)
	if err != nil {
		if apperrors.IsSkip(err) {
			out.Status = StatusSkipped
		} else {
			out.Status = StatusFailed
		}
		out.Err = err
		return out
	}
	out.SkewDeg = img.SkewDegrees
	if r.metrics != nil {
		r.metrics.ObserveSkew(img.SkewDegrees)
	}

	// Provenance travels with the output: which branch produced the page
	// and what the gate saw.  Local storage keeps it in a side-car, object
	// stores as object metadata.
	meta := map[string]string{
		"class":        class.String(),
		"score":        strconv.FormatFloat(score, 'f', -1, 64),
		"skew_degrees": strconv.FormatFloat(img.SkewDegrees, 'f', 2, 64),
	}
	outRel, err := r.writeOutput(ctx, img, meta)
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		return out
	}
	out.Status = StatusProcessed
	out.OutputPath = outRel
	return out
}

// runPipeline executes p and forwards its per-step timings to the metrics
// collector.
func (r *Runner) runPipeline(ctx context.Context, p PipelineRunner, img *ImageData) (*ImageData, error) {
	result, timings, err := p.Run(ctx, img)
	if r.metrics != nil {
		for stage, d := range timings {
			r.metrics.ObserveStage(stage, d)
		}
	}
	if err != nil {
		stage := apperrors.OpOf(err)
		if stage == "" {
			stage = "pipeline"
		}
		r.recordError(stage, err)
	}
	return result, err
}

// writeOutput persists img.Data under its relative path, swapping the
// extension to match the encoding the pipeline left behind.
func (r *Runner) writeOutput(ctx context.Context, img *ImageData, meta map[string]string) (string, error) {
	rel := utils.SwapExt(img.RelPath, img.Format.Ext())
	if err := r.storage.Put(ctx, StorageKey{Path: rel}, utils.BytesReader(img.Data), meta); err != nil {
		r.recordError("write", err)
		return "", err
	}
	return rel, nil
}

func (r *Runner) recordError(stage string, err error) {
	if r.metrics != nil {
		r.metrics.RecordError(stage, string(apperrors.CategoryOf(err)))
	}
}

func (r *Runner) logDebug(msg string, fields ...interface{}) {
	if r.logger != nil {
		r.logger.Debug(msg, fields...)
	}
}

func (r *Runner) logInfo(msg string, fields ...interface{}) {
	if r.logger != nil {
		r.logger.Info(msg, fields...)
	}
}

func (r *Runner) logWarn(msg string, fields ...interface{}) {
	if r.logger != nil {
		r.logger.Warn(msg, fields...)
	}
}

// ProcessedCount returns the total number of files that completed a run
// successfully (processed or passthrough).
func (r *Runner) ProcessedCount() int64 { return atomic.LoadInt64(&r.processedCount) }

// ErrorCount returns the total number of failed files.
func (r *Runner) ErrorCount() int64 { return atomic.LoadInt64(&r.errorCount) }
