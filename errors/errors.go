// Package errors provides standardized error handling for RecordStream
// components. It defines the domain error taxonomy, error classification,
// and helpers for consistent wrapping across the dispatch pipeline.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried;
	// the worker loop leaves these unacknowledged so the broker redelivers.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input; these are
	// permanent and must be recorded, never retried.
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Record store errors
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicateID     = errors.New("duplicate record identifier")

	// Request validation errors
	ErrValidation   = errors.New("validation failed")
	ErrInvalidData  = errors.New("invalid data format")
	ErrEmptyPayload = errors.New("empty payload")

	// Broker and transport errors
	ErrBrokerUnavailable  = errors.New("broker unavailable")
	ErrPublishTimeout     = errors.New("publish timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrNoConnection       = errors.New("no connection available")

	// Job lifecycle errors
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
	ErrUnknownOp       = errors.New("unknown operation tag")
	ErrSchemaVersion   = errors.New("unsupported envelope schema version")

	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ChunkError reports a malformed row inside a batch chunk. Line numbers are
// 1-based over the whole input, with the CSV header counting as line 1.
type ChunkError struct {
	Chunk int
	Line  int
	Err   error
}

// Error implements the error interface
func (ce *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: line %d: %v", ce.Chunk, ce.Line, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ChunkError) Unwrap() error {
	return ce.Err
}

// NewChunkError creates a ChunkError for the given chunk index and input line
func NewChunkError(chunk, line int, err error) *ChunkError {
	return &ChunkError{Chunk: chunk, Line: line, Err: err}
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried.
// The worker loop uses this to decide between redelivery (no ack) and
// recording a terminal failure (ack).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	// Cancellation means the run was interrupted (shutdown, deadline), not
	// that the work itself is bad. The job must survive for redelivery.
	if errors.Is(err, ErrBrokerUnavailable) ||
		errors.Is(err, ErrPublishTimeout) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Check error message for common transient patterns
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	var chunkErr *ChunkError
	if errors.As(err, &chunkErr) {
		return true
	}

	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrEmptyPayload) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnknownOp) ||
		errors.Is(err, ErrSchemaVersion)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsFatal(err) {
		return ErrorFatal
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error.
// Internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Is reports whether any error in err's chain matches target.
// Re-exported so callers don't need both this package and stdlib errors.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
