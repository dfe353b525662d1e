// Package errdef defines the engine's error taxonomy: a small set of
// named codes plus the source location at which the error was raised,
// preserved across wrapping.
package errdef

import (
	stdErrors "errors"
	"fmt"
	"runtime"
)

// Code identifies the class of failure. Names follow spec.md §7; exact
// spelling is this implementation's choice, not a wire contract.
type Code string

const (
	CodeUnknown              Code = "unknown"
	CodeMalformedURI         Code = "malformed_uri"
	CodeMethodNotSupported   Code = "method_not_supported"
	CodeAlreadyActive        Code = "already_active"
	CodeHandleAbandoned      Code = "handle_abandoned"
	CodeCouldNotResolveHost  Code = "could_not_resolve_host"
	CodeCouldNotConnect      Code = "could_not_connect"
	CodeOperationTimedOut    Code = "operation_timed_out"
	CodeSSLConnectError      Code = "ssl_connect_error"
	CodePeerFailedVerify     Code = "peer_failed_verification"
	CodeSSLCertProblem       Code = "ssl_cert_problem"
	CodeAbortedByCallback    Code = "aborted_by_callback"
	CodeBadContentEncoding   Code = "bad_content_encoding"
	CodeUnsupportedOption    Code = "unsupported_option"
	CodeBadSetup             Code = "bad_setup"
	CodeHTTP                 Code = "http"
	CodeInternal             Code = "internal"
)

// Location is the file/function/line an error was raised or wrapped at.
type Location struct {
	File     string
	Function string
	Line     int
}

func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d (%s)", l.File, l.Line, l.Function)
}

func here(skip int) Location {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Location{}
	}
	fn := runtime.FuncForPC(pc)
	name := ""
	if fn != nil {
		name = fn.Name()
	}
	return Location{File: file, Function: name, Line: line}
}

// Error is the concrete error type the engine returns. It always carries a
// Code and the Location at which it was created; Err, when set, is the
// wrapped cause and participates in errors.Is/errors.As via Unwrap.
type Error struct {
	Code     Code
	Message  string
	Err      error
	Location Location
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap annotates err with code, message and the caller's location. Returns
// nil when err is nil so call sites can Wrap unconditionally.
func Wrap(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: ensureCode(code), Message: msg, Err: err, Location: here(1)}
}

// New creates a formatted error carrying code and the caller's location.
func New(code Code, format string, args ...any) error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: ensureCode(code), Message: msg, Location: here(1)}
}

// CodeOf extracts the engine error code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if stdErrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stdErrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// LocationOf extracts the recorded Location from err, if any.
func LocationOf(err error) (Location, bool) {
	var e *Error
	if stdErrors.As(err, &e) {
		return e.Location, true
	}
	return Location{}, false
}

func ensureCode(code Code) Code {
	if code == "" {
		return CodeUnknown
	}
	return code
}
