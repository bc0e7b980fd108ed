package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryDecode    Category = "decode"
	CategoryEncode    Category = "encode"
	CategoryScore     Category = "score"
	CategoryCache     Category = "cache"
	CategoryEnhance   Category = "enhance"
	CategoryBinarize  Category = "binarize"
	CategoryDeskew    Category = "deskew"
	CategoryPipeline  Category = "pipeline"
	CategoryStorage   Category = "storage"
	CategoryConfig    Category = "config"
	CategoryTransient Category = "transient"
	CategoryInput     Category = "input"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Transient creates a retryable ProcessingError.
func Transient(op string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryTransient, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// CategoryOf returns err's category, or CategoryPipeline for plain errors.
func CategoryOf(err error) Category {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryPipeline
}

// OpOf returns the operation that produced err, or "" for plain errors.
func OpOf(err error) string {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Op
	}
	return ""
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrEmptyInput         = errors.New("empty input")
	ErrContextCanceled    = errors.New("context canceled")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrScoreUnavailable marks a file whose quality score could not be
	// produced; the file is skipped, the run continues.
	ErrScoreUnavailable = errors.New("quality score unavailable")

	// ErrBinarizationFailed marks a file whose binarization engine
	// returned no usable result; the file is skipped, the run continues.
	ErrBinarizationFailed = errors.New("binarization failed")

	// ErrCacheUnavailable signals that the score cache cannot be read or
	// written. Callers degrade to uncached scoring rather than abort.
	ErrCacheUnavailable = errors.New("score cache unavailable")
)

// IsSkip reports whether err is a per-file failure that should skip the
// file without aborting the run (missing score or failed binarization).
func IsSkip(err error) bool {
	return errors.Is(err, ErrScoreUnavailable) || errors.Is(err, ErrBinarizationFailed)
}
