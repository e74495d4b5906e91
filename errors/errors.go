// Package errors wraps github.com/pkg/errors and adds the error-code
// taxonomy used throughout OpenSet's query path.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Code identifies an error's class for routing/response purposes. Codes
// are checked with Is, not with direct comparison, so wrapping with
// WithMessage or WithStack never loses the code.
type Code string

const (
	// CodeSyntaxError covers script compile failures (parse class) and
	// semantic rule violations caught post-parse (query class). Both map
	// to a 4xx JSON reply.
	CodeSyntaxError Code = "syntax_error"

	// CodeGeneralError covers missing table, missing script, unknown
	// sort column (query class).
	CodeGeneralError Code = "general_error"

	// CodeGeneralConfigError covers schema lookup failures such as an
	// unknown column (config class).
	CodeGeneralConfigError Code = "general_config_error"

	// CodeRouteError covers "no owner found" and a peer returning an
	// empty/non-OK body (config class). Retriable by the client.
	CodeRouteError Code = "route_error"

	// CodeInternodeError covers a peer returning an empty success body
	// (internode class).
	CodeInternodeError Code = "internode_error"
)

// codedError pairs a Code with a message and participates in errors.Is
// via Unwrap/Is semantics from the standard errors package (through
// pkg/errors' wrapping, which preserves the chain).
type codedError struct {
	Code    Code
	Message string
}

func (e codedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is a codedError with the same Code,
// allowing errors.Is(err, targetCode) style checks via Is() below.
func (e codedError) Is(target error) bool {
	other, ok := target.(codedError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// New creates a new coded error with a stack trace attached.
func New(code Code, message string) error {
	return pkgerrors.WithStack(codedError{Code: code, Message: message})
}

// Newf is New with fmt.Sprintf-style formatting of the message.
func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

// Is reports whether err (or anything it wraps) carries the given Code.
func Is(err error, code Code) bool {
	return pkgerrors.Is(err, codedError{Code: code})
}

// CodeOf extracts the Code from err, if any layer of the chain carries
// one. ok is false if no codedError is found.
func CodeOf(err error) (code Code, ok bool) {
	var ce codedError
	if pkgerrors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

// Wrap, WithMessage, As, Cause, Errorf delegate to pkg/errors so callers
// never need to import it directly.
func Wrap(err error, message string) error           { return pkgerrors.Wrap(err, message) }
func Wrapf(err error, format string, args ...interface{}) error { return pkgerrors.Wrapf(err, format, args...) }
func WithMessage(err error, message string) error     { return pkgerrors.WithMessage(err, message) }
func As(err error, target interface{}) bool           { return pkgerrors.As(err, target) }
func Cause(err error) error                           { return pkgerrors.Cause(err) }
func Errorf(format string, args ...interface{}) error { return pkgerrors.Errorf(format, args...) }
