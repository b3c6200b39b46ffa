package varsource

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies resolution failures. Codes are stable and safe to match on.
type Code string

// File source error codes.
const (
	CodeMissingFileSourcePath      Code = "MISSING_FILE_SOURCE_PATH"
	CodeInvalidFileSourcePath      Code = "INVALID_FILE_SOURCE_PATH"
	CodeInvalidFileSourceAddress   Code = "INVALID_FILE_SOURCE_ADDRESS"
	CodePathOutsideOfService       Code = "FILE_SOURCE_PATH_OUTSIDE_OF_SERVICE"
	CodeFileNotAccessible          Code = "FILE_NOT_ACCESSIBLE"
	CodeFileParse                  Code = "FILE_PARSE_ERROR"
	CodeFileContentResolution      Code = "FILE_CONTENT_RESOLUTION_ERROR"
	CodeFunctionSourceNotSupported Code = "NOT_SUPPORTED_JS_FUNCTION_SOURCE"
	CodeFunctionResolution         Code = "JS_FILE_FUNCTION_RESOLUTION_ERROR"
	CodeModuleResolution           Code = "JS_FILE_RESOLUTION_ERROR"
	CodePropertyFunctionResolution Code = "JS_FILE_PROPERTY_FUNCTION_RESOLUTION_ERROR"
)

// Error is a classified resolution failure.
type Error struct {
	Code Code

	// Message is the user-facing description. Paths in it are relative to the
	// service root.
	Message string

	// Path is the service-relative file path involved, if any.
	Path string

	// Address is the requested property address, if relevant.
	Address string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so callers can write
// errors.Is(err, &varsource.Error{Code: varsource.CodeFileParse}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Newf creates a classified error without an underlying cause.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under code. A missing dependency is never classified:
// it is returned as is so the engine can retry once the dependency resolves.
func Wrap(code Code, cause error, format string, args ...any) error {
	var pending *MissingDependencyError
	if errors.As(cause, &pending) {
		return pending
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// CodeOf returns the code of the first classified error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MissingDependencyError signals that a referenced variable is not resolved yet.
//
// It is a retry signal for the resolution engine, not a failure, and passes
// through every source unchanged.
type MissingDependencyError struct {
	// Path is the unresolved property path.
	Path []string
}

func (e *MissingDependencyError) Error() string {
	if len(e.Path) == 0 {
		return "missing variable dependency"
	}
	return fmt.Sprintf("missing variable dependency: %q is not resolved yet", strings.Join(e.Path, "."))
}

// IsPending reports whether err carries a missing dependency signal.
func IsPending(err error) bool {
	var pending *MissingDependencyError
	return errors.As(err, &pending)
}
