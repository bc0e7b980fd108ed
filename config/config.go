package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// StorageBackend selects the destination storage adapter.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// NormalizeBackend selects the implementation behind the upload-requirements
// normalization pass.
type NormalizeBackend string

const (
	NormalizeImaging NormalizeBackend = "imaging"
	NormalizeVips    NormalizeBackend = "vips"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Quality gate.
	GoodBadThreshold float64 // score at or above which a page counts as good; default 0.335
	LowerBetter      bool    // invert the comparison for metrics where lower scores mean better
	ModelTimeout     time.Duration

	// Selection. Files whose base name matches the pattern take the full
	// quality-gated path; everything else is normalized and copied through.
	// Empty selects every file.
	SelectPattern string

	// Sauvola branch.
	SauvolaK      float64 // default 0.24
	SauvolaWindow int     // odd, >= 3; default 11

	// Shared enhancement ahead of both binarization branches.
	ContrastEnhance     bool
	DenoiseStrength     float64 // default 10
	DenoiseTemplateSize int     // odd; default 7
	DenoiseSearchSize   int     // odd; default 21
	CLAHEClipLimit      float64 // default 2.0
	CLAHETiles          int     // tiles per axis; default 8

	// Deskew sweep.
	MaxSkewDegrees  float64 // default 15
	SkewStepDegrees float64 // default 0.5

	// Upload-requirements normalization applied to every file before
	// anything else looks at it.
	Normalize NormalizeConfig

	// Worker pool controls.
	WorkerCount int // default: runtime.NumCPU()

	// Retry for transient per-file failures.
	MaxRetries int
	RetryDelay time.Duration

	// Output encoding for processed files; passthrough files keep the
	// normalized encoding.
	OutputFormat  string // default "png"
	OutputQuality int    // 1-100, used by lossy encoders; default 85

	// Score cache. The file lives in the source directory so scores follow
	// the corpus they describe.
	CacheFileName string // default "image_scores.db"

	// Storage.
	Storage StorageBackend
	Local   LocalConfig
	S3      S3Config

	// Logging / metrics.
	LogLevel string // "debug", "info", "warn", "error"
}

// NormalizeConfig bounds the dimensions and byte size of every image that
// enters the pipeline.
type NormalizeConfig struct {
	Backend      NormalizeBackend
	MaxDimension int   // longest side in pixels; default 4000
	MaxBytes     int64 // encoded size ceiling; default 10 MiB
	JPEGQuality  int   // starting quality for the size-reduction loop; default 85
	MinQuality   int   // floor for the size-reduction loop; default 30
	QualityStep  int   // quality decrement per iteration; default 5
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string
	Permissions uint32 // default 0644
}

// S3Config configures the S3-compatible storage adapter.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional custom endpoint (MinIO, etc.)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		GoodBadThreshold:    0.335,
		ModelTimeout:        60 * time.Second,
		SauvolaK:            0.24,
		SauvolaWindow:       11,
		DenoiseStrength:     10,
		DenoiseTemplateSize: 7,
		DenoiseSearchSize:   21,
		CLAHEClipLimit:      2.0,
		CLAHETiles:          8,
		MaxSkewDegrees:      15,
		SkewStepDegrees:     0.5,
		Normalize: NormalizeConfig{
			Backend:      NormalizeImaging,
			MaxDimension: 4000,
			MaxBytes:     10 << 20,
			JPEGQuality:  85,
			MinQuality:   30,
			QualityStep:  5,
		},
		WorkerCount:   0, // resolved at runtime to NumCPU
		MaxRetries:    0,
		RetryDelay:    200 * time.Millisecond,
		OutputFormat:  "png",
		OutputQuality: 85,
		CacheFileName: "image_scores.db",
		Storage:       StorageLocal,
		LogLevel:      "info",
	}
}

// Validate returns an error if the configuration is inconsistent.  It is the
// only place configuration is rejected; the pipeline itself assumes a valid
// Config.
func Validate(c Config) error {
	if c.SauvolaWindow < 3 || c.SauvolaWindow%2 == 0 {
		return fmt.Errorf("config: SauvolaWindow must be an odd integer >= 3, got %d", c.SauvolaWindow)
	}
	if c.SauvolaK <= 0 {
		return errors.New("config: SauvolaK must be positive")
	}
	if c.SelectPattern != "" {
		if _, err := regexp.Compile(c.SelectPattern); err != nil {
			return fmt.Errorf("config: SelectPattern does not compile: %w", err)
		}
	}
	if c.DenoiseStrength < 0 {
		return errors.New("config: DenoiseStrength must not be negative")
	}
	if c.DenoiseTemplateSize < 1 || c.DenoiseTemplateSize%2 == 0 {
		return errors.New("config: DenoiseTemplateSize must be an odd integer >= 1")
	}
	if c.DenoiseSearchSize < c.DenoiseTemplateSize || c.DenoiseSearchSize%2 == 0 {
		return errors.New("config: DenoiseSearchSize must be an odd integer >= DenoiseTemplateSize")
	}
	if c.CLAHEClipLimit <= 0 {
		return errors.New("config: CLAHEClipLimit must be positive")
	}
	if c.CLAHETiles < 1 {
		return errors.New("config: CLAHETiles must be at least 1")
	}
	if c.MaxSkewDegrees <= 0 {
		return errors.New("config: MaxSkewDegrees must be positive")
	}
	if c.SkewStepDegrees <= 0 || c.SkewStepDegrees > c.MaxSkewDegrees {
		return errors.New("config: SkewStepDegrees must be positive and no larger than MaxSkewDegrees")
	}
	if c.Normalize.MaxDimension < 1 {
		return errors.New("config: Normalize.MaxDimension must be positive")
	}
	if c.Normalize.MaxBytes < 1 {
		return errors.New("config: Normalize.MaxBytes must be positive")
	}
	if c.Normalize.JPEGQuality < 1 || c.Normalize.JPEGQuality > 100 {
		return errors.New("config: Normalize.JPEGQuality must be between 1 and 100")
	}
	if c.Normalize.MinQuality < 1 || c.Normalize.MinQuality > c.Normalize.JPEGQuality {
		return errors.New("config: Normalize.MinQuality must be between 1 and JPEGQuality")
	}
	if c.Normalize.QualityStep < 1 {
		return errors.New("config: Normalize.QualityStep must be positive")
	}
	if c.OutputQuality < 1 || c.OutputQuality > 100 {
		return errors.New("config: OutputQuality must be between 1 and 100")
	}
	switch c.OutputFormat {
	case "png", "jpeg", "tiff":
	default:
		return fmt.Errorf("config: OutputFormat %q is not an emittable format", c.OutputFormat)
	}
	if c.WorkerCount < 0 {
		return errors.New("config: WorkerCount must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("config: MaxRetries must not be negative")
	}
	return nil
}
