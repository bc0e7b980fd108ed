package core

import (
	"context"
	"image"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatTIFF    Format = "tiff"
	FormatBMP     Format = "bmp"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// Ext returns the conventional file extension for f, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatTIFF:
		return ".tiff"
	case FormatBMP:
		return ".bmp"
	case FormatWebP:
		return ".webp"
	default:
		return ".bin"
	}
}

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceGray ColorSpace = "gray"
	// ColorSpaceBinary marks a grayscale buffer holding exactly two sample
	// values (0 foreground, 255 background).
	ColorSpaceBinary ColorSpace = "binary"
)

// Classification is the verdict of the quality gate.
type Classification int

const (
	// ClassBad routes a page to the local Sauvola branch.
	ClassBad Classification = iota
	// ClassGood routes a page to the model-backed branch.
	ClassGood
)

func (c Classification) String() string {
	if c == ClassGood {
		return "good"
	}
	return "bad"
}

// Metadata holds basic image information carried alongside pixel data.
type Metadata struct {
	Width      int
	Height     int
	Format     Format
	ColorSpace ColorSpace
	SizeBytes  int64
}

// ImageData is the in-memory representation passed through a pipeline.
// Data holds encoded bytes; Image holds the decoded pixel buffer when a
// stage has produced one.  Stages never mutate a buffer they received —
// each transformation allocates its own output.
type ImageData struct {
	Data   []byte
	Format Format
	Image  image.Image
	Meta   Metadata

	// Identity of the file this buffer came from.  SourcePath is the
	// cleaned absolute path (the score-cache key); RelPath locates the
	// output inside the destination tree.
	SourcePath string
	RelPath    string

	// SkewDegrees records the rotation applied by the deskew stage.
	// Diagnostics only; never persisted.
	SkewDegrees float64

	// Size of the original raw input before normalization.
	OriginalSize int64
}

// FileTask names one input file for a run.
type FileTask struct {
	// Path is the cleaned absolute source path.
	Path string
	// Rel is the path relative to the source root, preserved in the
	// destination tree.
	Rel string
}

// FileStatus describes how a file left the run.
type FileStatus int

const (
	// StatusProcessed means the file took the full quality-gated path.
	StatusProcessed FileStatus = iota
	// StatusPassthrough means the file was normalized and copied through.
	StatusPassthrough
	// StatusSkipped means a model boundary failed for this file and it was
	// left out without aborting the run.
	StatusSkipped
	// StatusFailed means an I/O or pipeline error stopped this file.
	StatusFailed
)

func (s FileStatus) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusPassthrough:
		return "passthrough"
	case StatusSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// FileOutcome reports the fate of a single input file.
type FileOutcome struct {
	Path       string
	Rel        string
	Status     FileStatus
	Class      Classification // valid only when Status == StatusProcessed
	Score      float64        // valid only when Status == StatusProcessed
	CacheHit   bool
	SkewDeg    float64
	OutputPath string
	Err        error
	Duration   time.Duration
}

// RunSummary aggregates every per-file outcome of a run.  No failure is
// dropped: files that could not be processed appear here with their error.
type RunSummary struct {
	RunID       string
	Total       int
	Processed   int
	Passthrough int
	Skipped     int
	Failed      int
	Files       []FileOutcome
	Duration    time.Duration
}

func (s *RunSummary) add(o FileOutcome) {
	s.Total++
	switch o.Status {
	case StatusProcessed:
		s.Processed++
	case StatusPassthrough:
		s.Passthrough++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
	s.Files = append(s.Files, o)
}

// Step is the fundamental pipeline building block.  Each Step transforms an
// *ImageData value and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}

// StorageKey uniquely identifies a stored output.
type StorageKey struct {
	Bucket string
	Path   string
}
