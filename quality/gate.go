// Package quality decides which binarization branch a page takes.  It owns
// the score cache, the scorer adapters that talk to external quality models,
// and the threshold comparison that turns a scalar score into a verdict.
package quality

import (
	"context"
	"sync"
	"time"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	pperrors "github.com/Divergent-Discourses/dd-custom-preprocess/errors"
)

// Classify maps a quality score to a branch verdict.  Scores at or above the
// threshold count as good; when lowerBetter is set the comparison flips and
// scores at or below the threshold count as good.  Equality is good in both
// directions, so flipping the metric never strands the boundary value.
func Classify(score, threshold float64, lowerBetter bool) core.Classification {
	if lowerBetter {
		if score <= threshold {
			return core.ClassGood
		}
		return core.ClassBad
	}
	if score >= threshold {
		return core.ClassGood
	}
	return core.ClassBad
}

// Gate scores a page and turns the score into a branch verdict.  It memoizes
// scores in a ScoreStore keyed by source path, so re-running over the same
// tree never re-invokes the model for unchanged files.
//
// A single mutex guards the whole get-assess-put cycle.  That keeps the store
// single-writer and makes scoring at-most-once per path even when workers
// race on the same file; it also serializes model calls, which matches how
// the scoring models behave (one request at a time).
type Gate struct {
	Scorer      core.QualityScorer
	Store       core.ScoreStore
	Threshold   float64
	LowerBetter bool
	// Timeout bounds a single Assess call.  Zero means no bound beyond the
	// caller's context.
	Timeout time.Duration
	Logger  core.Logger

	mu sync.Mutex
}

// NewGate wires a gate from its parts.  store may be nil, in which case every
// file is scored fresh.
func NewGate(scorer core.QualityScorer, store core.ScoreStore, threshold float64, lowerBetter bool, timeout time.Duration) *Gate {
	return &Gate{
		Scorer:      scorer,
		Store:       store,
		Threshold:   threshold,
		LowerBetter: lowerBetter,
		Timeout:     timeout,
	}
}

// Decide returns the branch verdict for img.  Cache read/write failures are
// logged and degrade to scoring fresh; a scorer failure is returned to the
// caller, which skips the file.
func (g *Gate) Decide(ctx context.Context, img *core.ImageData) (core.Classification, float64, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := img.SourcePath
	if g.Store != nil {
		score, ok, err := g.Store.Get(key)
		if err != nil {
			g.warn("score cache read failed, scoring fresh", "path", key, "error", err)
		} else if ok {
			return Classify(score, g.Threshold, g.LowerBetter), score, true, nil
		}
	}

	if g.Scorer == nil {
		return 0, 0, false, pperrors.New(pperrors.CategoryScore, "gate", pperrors.ErrScoreUnavailable)
	}

	assessCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		assessCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	score, err := g.Scorer.Assess(assessCtx, img)
	if err != nil {
		return 0, 0, false, err
	}

	if g.Store != nil {
		if err := g.Store.Put(key, score); err != nil {
			g.warn("score cache write failed", "path", key, "error", err)
		}
	}
	return Classify(score, g.Threshold, g.LowerBetter), score, false, nil
}

func (g *Gate) warn(msg string, fields ...interface{}) {
	if g.Logger != nil {
		g.Logger.Warn(msg, fields...)
	}
}

var _ core.Gate = (*Gate)(nil)
