package message

import (
	"errors"
	"fmt"
)

// Error codes carried by RemoteError. Application errors have no code.
const (
	CodeProcedureNotFound = "procedure_not_found"
	CodePanic             = "panic"
	CodeEncodeFailed      = "encode_failed"
)

// RemoteError is the serializable form of an error raised by a procedure.
// It is what a caller receives when a call is rejected.
type RemoteError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Code != "" && e.Message == "" {
		return e.Code
	}
	return e.Message
}

// Is matches another RemoteError by code, so callers can compare against a
// sentinel such as &RemoteError{Code: CodeProcedureNotFound}.
func (e *RemoteError) Is(target error) bool {
	t, ok := target.(*RemoteError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// ToRemoteError converts any error into its wire form.
// A *RemoteError is passed through unchanged. Any other error keeps its full
// message; if it wraps a *RemoteError, that error's code and data come along.
func ToRemoteError(err error) *RemoteError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RemoteError); ok {
		return re
	}
	out := &RemoteError{Message: err.Error()}
	var inner *RemoteError
	if errors.As(err, &inner) {
		out.Code = inner.Code
		out.Data = inner.Data
	}
	return out
}

// NotFound builds the rejection for an unknown procedure name.
func NotFound(procedure string) *RemoteError {
	return &RemoteError{
		Code:    CodeProcedureNotFound,
		Message: fmt.Sprintf("procedure %q is not registered", procedure),
	}
}

// FromPanic builds the rejection for a procedure that panicked.
func FromPanic(v any) *RemoteError {
	return &RemoteError{
		Code:    CodePanic,
		Message: fmt.Sprint(v),
	}
}
