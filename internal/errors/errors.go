package errors

import (
	"errors"
	"fmt"
)

// Error codes for programmatic handling.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeUnknownOperation   = "UNKNOWN_OPERATION"
	CodeMalformedArguments = "MALFORMED_ARGUMENTS"
	CodeStorageFailure     = "STORAGE_FAILURE"
)

// JSON-RPC error classes the codes map onto.
const (
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
)

// Error is a structured error with a machine-readable code.
type Error struct {
	Code    string // machine-readable code (e.g. NOT_FOUND)
	Message string // human-readable description
	Err     error  // wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap supports errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks whether target matches this error's code.
func (e *Error) Is(target error) bool {
	var ce *Error
	if errors.As(target, &ce) {
		return e.Code == ce.Code
	}
	return false
}

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping an existing error.
func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound           = New(CodeNotFound, "not found")
	ErrUnknownOperation   = New(CodeUnknownOperation, "unknown operation")
	ErrMalformedArguments = New(CodeMalformedArguments, "malformed arguments")
	ErrStorageFailure     = New(CodeStorageFailure, "storage failure")
)

// AsCode extracts the code from an error, or "" if it carries none.
func AsCode(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// RPCCode maps an error to the JSON-RPC error class a transport should report.
func RPCCode(err error) int {
	switch AsCode(err) {
	case CodeNotFound:
		return RPCInvalidRequest
	case CodeUnknownOperation:
		return RPCMethodNotFound
	case CodeMalformedArguments:
		return RPCInvalidParams
	default:
		return RPCInternalError
	}
}
