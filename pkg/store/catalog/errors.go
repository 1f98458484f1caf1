package catalog

import (
	"errors"
	"fmt"
)

// StoreError represents a domain error from catalog or volume operations.
//
// These are filesystem-level errors (entry not found, directory not empty,
// verifier mismatch, etc.) as opposed to infrastructure errors (badger I/O
// failure, encoding error). Infrastructure errors are wrapped in a
// StoreError with ErrIOError so every operation surfaces one error code.
//
// The plugin layer translates ErrorCode values to errnos (see hfsplus.Errno).
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the entry name related to the error (if applicable)
	Path string

	// Err is the underlying infrastructure error, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = msg + ": " + e.Path
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying infrastructure error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode represents the category of a StoreError.
type ErrorCode int

const (
	// ErrNotFound indicates the entry doesn't exist, or a lookup went stale
	// before the operation could lock it
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates an entry with the name already exists
	ErrAlreadyExists

	// ErrNotEmpty indicates a directory still has entries
	ErrNotEmpty

	// ErrIsDirectory indicates the operation expected a non-directory
	ErrIsDirectory

	// ErrNotDirectory indicates the operation expected a directory
	ErrNotDirectory

	// ErrInvalidArgument indicates invalid parameters
	// Examples: empty name, read-only attribute in a create request, rename cycle
	ErrInvalidArgument

	// ErrNameTooLong indicates a name exceeds 255 UTF-16 code units
	ErrNameTooLong

	// ErrPermission indicates the object is immutable or append-only
	ErrPermission

	// ErrAccessDenied indicates the object is locked against the operation
	// (reserved system folders, the root directory)
	ErrAccessDenied

	// ErrNoSpace indicates there are no free blocks or no catalog space
	ErrNoSpace

	// ErrBusy indicates the object is in use and cannot be removed
	ErrBusy

	// ErrRetry indicates a lost race the caller should retry against fresh state
	ErrRetry

	// ErrIOError indicates an infrastructure failure in the backing store
	ErrIOError

	// ErrNotSupported indicates the operation is not supported on this object
	ErrNotSupported

	// ErrVerifierMismatch indicates an enumeration cookie was issued against
	// a directory version that is no longer current
	ErrVerifierMismatch

	// ErrBadCookie indicates an enumeration cookie points past the directory
	ErrBadCookie

	// ErrEndOfDirectory is the normal enumeration termination signal
	ErrEndOfDirectory
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:         "not found",
	ErrAlreadyExists:    "already exists",
	ErrNotEmpty:         "not empty",
	ErrIsDirectory:      "is a directory",
	ErrNotDirectory:     "not a directory",
	ErrInvalidArgument:  "invalid argument",
	ErrNameTooLong:      "name too long",
	ErrPermission:       "operation not permitted",
	ErrAccessDenied:     "access denied",
	ErrNoSpace:          "no space",
	ErrBusy:             "busy",
	ErrRetry:            "retry",
	ErrIOError:          "i/o error",
	ErrNotSupported:     "not supported",
	ErrVerifierMismatch: "verifier mismatch",
	ErrBadCookie:        "bad cookie",
	ErrEndOfDirectory:   "end of directory",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// NewError creates a StoreError with the given code.
func NewError(code ErrorCode, message, path string) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path}
}

// WrapIO wraps an infrastructure error as ErrIOError. StoreErrors pass
// through unchanged.
func WrapIO(err error, message string) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Code: ErrIOError, Message: message, Err: err}
}

// CodeOf returns the ErrorCode carried by err and true, or false if err is
// not a StoreError.
func CodeOf(err error) (ErrorCode, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsCode reports whether err is a StoreError with the given code.
func IsCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return IsCode(err, ErrNotFound)
}
