// Package errors provides structured error handling for the muxing module.
// It defines error types, sentinel errors, and helpers shared by the resolver,
// the pipe copiers and the muxer.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies a muxing failure
type ErrorType string

const (
	// ErrorTypeStream indicates the muxed stream cannot be produced at all
	ErrorTypeStream ErrorType = "stream"
	// ErrorTypeProbe indicates a failed version probe
	ErrorTypeProbe ErrorType = "probe"
	// ErrorTypePipe indicates named pipe creation or I/O errors
	ErrorTypePipe ErrorType = "pipe"
	// ErrorTypeProcess indicates child process spawn or control errors
	ErrorTypeProcess ErrorType = "process"
	// ErrorTypeValidation indicates invalid input or command line
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStorage indicates session history persistence errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeInternal indicates internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinel errors for common scenarios
var (
	// ErrToolUnavailable indicates no usable muxing binary was found
	ErrToolUnavailable = errors.New("cannot use ffmpeg")

	// ErrAlreadyOpen indicates Open was called twice on the same muxer
	ErrAlreadyOpen = errors.New("muxer already open")

	// ErrClosed indicates the muxer has been closed
	ErrClosed = errors.New("muxer closed")

	// ErrPipeClosed indicates a named pipe was closed before or while opening
	ErrPipeClosed = errors.New("pipe closed")

	// ErrInvalidCommand indicates a built command line failed validation
	ErrInvalidCommand = errors.New("invalid command")

	// ErrUnsupported indicates named pipes are not available on this platform
	ErrUnsupported = errors.New("named pipes are not supported on this platform")

	// ErrInvalidInput indicates invalid request parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a session or process doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timed out")
)

// MuxError provides structured error information with context
type MuxError struct {
	Type    ErrorType              // Error classification
	Op      string                 // Operation that failed (e.g., "open", "probe")
	MuxID   string                 // Related muxer ID if applicable
	Err     error                  // Underlying error
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *MuxError) Error() string {
	if e.MuxID != "" {
		return fmt.Sprintf("%s error in %s for mux %s: %v", e.Type, e.Op, e.MuxID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Type, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *MuxError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *MuxError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new MuxError
func New(errType ErrorType, op string, err error) *MuxError {
	return &MuxError{
		Type:    errType,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithMux adds muxer context to the error
func (e *MuxError) WithMux(muxID string) *MuxError {
	e.MuxID = muxID
	return e
}

// WithDetail adds a key-value detail to the error
func (e *MuxError) WithDetail(key string, value interface{}) *MuxError {
	e.Details[key] = value
	return e
}

// IsRecoverable returns true if the error might succeed on retry
func (e *MuxError) IsRecoverable() bool {
	if errors.Is(e.Err, ErrTimeout) {
		return true
	}
	// A spawn failure can be transient (fd or process limits)
	return e.Type == ErrorTypeProcess || e.Type == ErrorTypeInternal
}

// StreamError creates the error raised when no muxed stream can be produced
func StreamError(op string, err error) *MuxError {
	return New(ErrorTypeStream, op, err)
}

// ProbeError creates a version probe error
func ProbeError(op string, err error) *MuxError {
	return New(ErrorTypeProbe, op, err)
}

// PipeError creates a named pipe error
func PipeError(op string, err error) *MuxError {
	return New(ErrorTypePipe, op, err)
}

// ProcessError creates a child process error
func ProcessError(op string, err error) *MuxError {
	return New(ErrorTypeProcess, op, err)
}

// ValidationError creates a validation error
func ValidationError(op string, err error) *MuxError {
	return New(ErrorTypeValidation, op, err)
}

// StorageError creates a storage-related error
func StorageError(op string, err error) *MuxError {
	return New(ErrorTypeStorage, op, err)
}

// InternalError creates an internal system error
func InternalError(op string, err error) *MuxError {
	return New(ErrorTypeInternal, op, err)
}

// Wrap wraps an error with operation context if it's not already a MuxError
func Wrap(err error, errType ErrorType, op string) error {
	if err == nil {
		return nil
	}

	var mErr *MuxError
	if errors.As(err, &mErr) {
		return err
	}

	return New(errType, op, err)
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var mErr *MuxError
	if errors.As(err, &mErr) {
		return mErr.Type
	}
	return ErrorTypeInternal
}

// GetOperation extracts the operation from an error
func GetOperation(err error) string {
	var mErr *MuxError
	if errors.As(err, &mErr) {
		return mErr.Op
	}
	return "unknown"
}

// GetMuxID extracts the muxer ID from an error
func GetMuxID(err error) string {
	var mErr *MuxError
	if errors.As(err, &mErr) {
		return mErr.MuxID
	}
	return ""
}

// IsStreamError reports whether err means the muxed stream cannot be produced
func IsStreamError(err error) bool {
	return GetType(err) == ErrorTypeStream
}
