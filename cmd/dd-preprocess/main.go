package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	ddpreprocess "github.com/Divergent-Discourses/dd-custom-preprocess"
	"github.com/Divergent-Discourses/dd-custom-preprocess/binarize"
	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
	"github.com/Divergent-Discourses/dd-custom-preprocess/hooks"
	"github.com/Divergent-Discourses/dd-custom-preprocess/quality"
)

func init() {
	zerolog.TimeFieldFormat = time.StampMilli
	// Default level is info, unless debug flag is present
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(),
		"Usage: %s [flags] source_dir dest_dir\n\n"+
			"Quality-gated preprocessing for scanned document images: every image under\n"+
			"source_dir is scored, routed to Sauvola or model-backed binarization, and\n"+
			"written under dest_dir with its relative path preserved.\n\nFlags:\n",
		os.Args[0])
	flag.PrintDefaults()
}

func main() {
	var (
		kVal            float64
		windowSize      int
		contrastEnhance bool
		pattern         string
		threshold       float64
		lowerBetter     bool
		workers         int
		iqaURL          string
		iqaCmd          string
		iqaModel        string
		fixedScore      float64
		binarizeURL     string
		binarizeCmd     string
		modelRPS        float64
		modelTimeout    time.Duration
		cacheName       string
		metricsAddr     string
		debug           bool
	)

	flag.Float64Var(&kVal, "k_val", 0.24, "K-value when Sauvola binarisation is used")
	flag.Float64Var(&kVal, "k", 0.24, "shorthand for -k_val")
	flag.IntVar(&windowSize, "window_size", 11, "window size when Sauvola binarisation is used; must be odd")
	flag.IntVar(&windowSize, "w", 11, "shorthand for -window_size")
	flag.BoolVar(&contrastEnhance, "contrast_enhance", false, "contrast stretch and enhance contrast of images within the pipeline")
	flag.BoolVar(&contrastEnhance, "ce", false, "shorthand for -contrast_enhance")
	flag.StringVar(&pattern, "regex", "", "only preprocess image files whose name matches this pattern; remaining images are normalized and copied through")
	flag.StringVar(&pattern, "r", "", "shorthand for -regex")
	flag.Float64Var(&threshold, "goodbad_threshold", 0.335, "image quality score to use as threshold between good and bad quality")
	flag.Float64Var(&threshold, "gb", 0.335, "shorthand for -goodbad_threshold")
	flag.BoolVar(&lowerBetter, "lower_better", false, "treat lower scores as better quality (metric-dependent)")
	flag.IntVar(&workers, "workers", 0, "worker count; 0 means one per CPU")
	flag.StringVar(&iqaURL, "iqa_url", "", "URL of an HTTP quality scoring service")
	flag.StringVar(&iqaCmd, "iqa_cmd", "", "local quality scoring command; the image path is appended, the score is read from the last stdout line")
	flag.StringVar(&iqaModel, "iqa_model", "maniqa-koniq", "name of the quality metric, recorded in the score cache")
	flag.Float64Var(&fixedScore, "fixed_score", math.NaN(), "score every file with this fixed value instead of a model (dry runs)")
	flag.StringVar(&binarizeURL, "binarize_url", "", "URL of an HTTP binarization service for good pages; default is local Otsu")
	flag.StringVar(&binarizeCmd, "binarize_cmd", "", "local binarization command for good pages; input and output paths are appended")
	flag.Float64Var(&modelRPS, "model_rps", 0, "max calls per second against each remote model service; 0 means unlimited")
	flag.DurationVar(&modelTimeout, "model_timeout", 60*time.Second, "timeout for a single model call")
	flag.StringVar(&cacheName, "cache", "image_scores.db", "score cache file name inside source_dir; empty disables caching")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "listen address for the prometheus /metrics endpoint, eg :9090")
	flag.BoolVar(&debug, "debug", false, "sets debug flag, program will print more messages")
	flag.Usage = usage
	flag.Parse()

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	srcDir, destDir := flag.Arg(0), flag.Arg(1)

	cfg := ddpreprocess.DefaultConfig()
	cfg.SauvolaK = kVal
	cfg.SauvolaWindow = windowSize
	cfg.ContrastEnhance = contrastEnhance
	cfg.SelectPattern = pattern
	cfg.GoodBadThreshold = threshold
	cfg.LowerBetter = lowerBetter
	cfg.WorkerCount = workers
	cfg.ModelTimeout = modelTimeout
	cfg.CacheFileName = cacheName
	if debug {
		cfg.LogLevel = "debug"
	}

	var scorer core.QualityScorer
	switch {
	case iqaURL != "":
		s := quality.NewHTTPScorer(iqaURL, iqaModel)
		s.Limiter = modelLimiter(modelRPS)
		scorer = s
	case iqaCmd != "":
		cmd := strings.Fields(iqaCmd)
		scorer = ddpreprocess.NewExecScorer(cmd[0], cmd[1:], iqaModel)
	case !math.IsNaN(fixedScore):
		scorer = ddpreprocess.NewFixedScorer(fixedScore)
	default:
		log.Fatal().Str("component", "PREPROCESS").
			Msg("no quality scorer configured; pass -iqa_url, -iqa_cmd or -fixed_score")
	}

	pp := ddpreprocess.New(cfg)
	pp.SetLogger(hooks.NewZerologLogger(log.Logger))
	pp.SetScorer(scorer)

	switch {
	case binarizeURL != "":
		b := binarize.NewHTTPBinarizer(binarizeURL, "")
		b.Limiter = modelLimiter(modelRPS)
		pp.SetBinarizer(core.ClassGood, b)
	case binarizeCmd != "":
		cmd := strings.Fields(binarizeCmd)
		pp.SetBinarizer(core.ClassGood, ddpreprocess.NewExecBinarizer(cmd[0], cmd[1:]))
	}

	if metricsAddr != "" {
		pp.SetMetrics(hooks.NewPrometheusMetrics())
		go func() {
			mux := http.NewServeMux()
			// expose metrics for prometheus
			mux.Handle("/metrics", hooks.Handler())
			log.Info().Str("component", "METRICS").Str("listenAddr", metricsAddr).Msg("Starting metrics listener...")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error().Err(err).Str("component", "METRICS").Msg("metrics listener failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := pp.RunDir(ctx, srcDir, destDir)
	if err != nil {
		if summary != nil {
			logSummary(summary)
		}
		log.Fatal().Err(err).Str("component", "PREPROCESS").Msg("run failed")
	}
	logSummary(summary)

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

// modelLimiter builds a per-service limiter, one token at a time so bursts
// never stack up on a GPU queue.
func modelLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func logSummary(s *core.RunSummary) {
	for _, f := range s.Files {
		if f.Err != nil {
			log.Warn().Str("component", "PREPROCESS").
				Str("path", f.Path).
				Str("status", f.Status.String()).
				Err(f.Err).
				Msg("file not processed")
		}
	}
	log.Info().Str("component", "PREPROCESS").
		Str("run_id", s.RunID).
		Int("total", s.Total).
		Int("processed", s.Processed).
		Int("passthrough", s.Passthrough).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Dur("duration", s.Duration).
		Msg("preprocessing finished")
}
