package core

import (
	"context"
	"image"
	"io"
	"time"
)

// Decoder converts raw bytes / a reader into an in-memory ImageData.
// Implementations live in adapters/decoder/.
type Decoder interface {
	// Decode reads from r and returns a decoded ImageData.
	Decode(ctx context.Context, r io.Reader) (*ImageData, error)
	// CanDecode reports whether this decoder handles the given format hint.
	CanDecode(format Format) bool
}

// Encoder serialises an ImageData to bytes in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality  int  // 1-100; 0 = use encoder default
	Lossless bool // PNG / TIFF are always lossless; JPEG ignores this
}

// QualityScorer produces a scalar quality score for an image.  The concrete
// scorer is an external model; implementations are thin transport adapters
// and must treat the model as a black box.
type QualityScorer interface {
	// Name identifies the scorer (model id) for cache annotations and logs.
	Name() string
	// Assess returns the quality score for the encoded image in img.Data.
	// Any failure means the score is unavailable for this file.
	Assess(ctx context.Context, img *ImageData) (float64, error)
}

// Binarizer converts a grayscale page into a two-valued page of identical
// dimensions (0 foreground, 255 background).
type Binarizer interface {
	Name() string
	Binarize(ctx context.Context, src *image.Gray) (*image.Gray, error)
}

// ScoreStore persists quality scores keyed by cleaned absolute source path.
// Implementations must be safe for concurrent use.
type ScoreStore interface {
	Get(path string) (score float64, ok bool, err error)
	Put(path string, score float64) error
	Close() error
}

// Gate decides which branch a file takes.  Decide returns the verdict, the
// score behind it, and whether that score came from the cache.  A non-nil
// error means no score could be obtained and the file must be skipped.
type Gate interface {
	Decide(ctx context.Context, img *ImageData) (class Classification, score float64, cacheHit bool, err error)
}

// Normalizer rewrites an encoded image so it satisfies upload requirements
// (bounded dimensions and byte size).  It works on encoded bytes so that
// CGO-backed implementations never need to produce an image.Image.
type Normalizer interface {
	Name() string
	Normalize(ctx context.Context, img *ImageData) (*ImageData, error)
}

// StorageAdapter persists processed images and retrieves them later.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Get(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Delete(ctx context.Context, key StorageKey) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
}

// MetricsCollector receives observations from the pipeline.
type MetricsCollector interface {
	ObserveStage(stage string, d time.Duration)
	RecordError(stage string, category string)
	RecordClassification(class Classification)
	RecordCacheLookup(hit bool)
	ObserveSkew(degrees float64)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}
