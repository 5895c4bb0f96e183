// Package errors provides structured error types for libby.
//
// Every failure that leaves the resolution pipeline is an *Error carrying a
// machine-readable [Code] plus the pipeline stage, the coordinate being
// resolved and, when known, the repository that was involved. Callers branch
// on the code; humans read the message.
//
// # Error Codes
//
//   - NOT_FOUND: no repository could supply the artifact
//   - CHECKSUM_MISMATCH: downloaded bytes do not match the declared checksum
//   - CHECKSUM_REQUIRED: strict policy and no checksum declared
//   - TRANSIENT_FETCH: a single fetch attempt failed in a retryable way
//   - RELOCATION_FAILED: the artifact could not be rewritten
//   - TRANSITIVE_FAILED: the isolated resolver could not expand dependencies
//   - CACHE_CORRUPTION: an on-disk entry failed validation
//   - INVALID_INPUT: malformed descriptor, manifest or flag
//   - INTERNAL: unexpected internal failure
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidInput, "bad coordinate %q", s)
//	if errors.Is(err, errors.ErrCodeInvalidInput) {
//	    // Handle validation error
//	}
//
//	err := errors.Wrap(errors.ErrCodeRelocation, cause, "rewrite %s", name).
//	    At(errors.StageRelocate, coord.String(), "")
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for the resolution pipeline.
const (
	ErrCodeNotFound         Code = "NOT_FOUND"
	ErrCodeChecksumMismatch Code = "CHECKSUM_MISMATCH"
	ErrCodeChecksumRequired Code = "CHECKSUM_REQUIRED"
	ErrCodeTransientFetch   Code = "TRANSIENT_FETCH"
	ErrCodeRelocation       Code = "RELOCATION_FAILED"
	ErrCodeTransitive       Code = "TRANSITIVE_FAILED"
	ErrCodeCacheCorruption  Code = "CACHE_CORRUPTION"
	ErrCodeInvalidInput     Code = "INVALID_INPUT"
	ErrCodeInternal         Code = "INTERNAL"
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageLocate     Stage = "locate"
	StageVerify     Stage = "verify"
	StageRelocate   Stage = "relocate"
	StageCache      Stage = "cache"
	StageTransitive Stage = "transitive"
	StageInject     Stage = "inject"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code       Code   // Machine-readable error code
	Message    string // Human-readable message
	Stage      Stage  // Pipeline stage (optional)
	Coordinate string // Coordinate being resolved (optional)
	Repository string // Repository URL involved (optional)
	Cause      error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Stage != "" {
		b.WriteString(" [" + string(e.Stage) + "]")
	}
	b.WriteString(": ")
	if e.Coordinate != "" {
		b.WriteString(e.Coordinate + ": ")
	}
	b.WriteString(e.Message)
	if e.Repository != "" {
		b.WriteString(" (" + e.Repository + ")")
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// At attaches pipeline context and returns e. Empty arguments leave the
// existing values in place.
func (e *Error) At(stage Stage, coordinate, repository string) *Error {
	if stage != "" {
		e.Stage = stage
	}
	if coordinate != "" {
		e.Coordinate = coordinate
	}
	if repository != "" {
		e.Repository = repository
	}
	return e
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Context returns the outermost *Error in err's chain, or nil.
func Context(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Coordinate != "" {
			return e.Coordinate + ": " + e.Message
		}
		return e.Message
	}
	return err.Error()
}
