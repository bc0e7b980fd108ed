package hooks

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Divergent-Discourses/dd-custom-preprocess/core"
)

var (
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dd_preprocess_stage_duration_seconds",
			Help:    "A histogram of per-stage processing latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dd_preprocess_errors_total",
			Help: "A counter for per-stage processing errors.",
		},
		[]string{"stage", "category"},
	)
	classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dd_preprocess_classifications_total",
			Help: "A counter for quality gate verdicts.",
		},
		[]string{"class"},
	)
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dd_preprocess_score_cache_lookups_total",
			Help: "A counter for score cache lookups, partitioned by result.",
		},
		[]string{"result"},
	)
	skewDegrees = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dd_preprocess_skew_degrees",
			Help:    "A histogram of detected page skew angles.",
			Buckets: prometheus.LinearBuckets(-15, 1.5, 21),
		},
	)

	registerOnce sync.Once
)

// PrometheusMetrics exports pipeline observations through the default
// prometheus registry.  Construct it with NewPrometheusMetrics and expose
// Handler() on an HTTP mux to scrape it.
type PrometheusMetrics struct{}

// NewPrometheusMetrics registers the collectors (once, process-wide) and
// returns a collector handle.
func NewPrometheusMetrics() PrometheusMetrics {
	registerOnce.Do(func() {
		prometheus.MustRegister(stageDuration, errorsTotal, classificationsTotal, cacheLookupsTotal, skewDegrees)
	})
	return PrometheusMetrics{}
}

func (PrometheusMetrics) ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (PrometheusMetrics) RecordError(stage string, category string) {
	errorsTotal.WithLabelValues(stage, category).Inc()
}

func (PrometheusMetrics) RecordClassification(class core.Classification) {
	classificationsTotal.WithLabelValues(class.String()).Inc()
}

func (PrometheusMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

func (PrometheusMetrics) ObserveSkew(degrees float64) {
	skewDegrees.Observe(degrees)
}

// Handler returns the prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }

var _ core.MetricsCollector = PrometheusMetrics{}
