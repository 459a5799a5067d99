package event

import (
	"errors"
	"fmt"
	"strings"
)

// Stable error codes carried by Error payloads.
const (
	CodeProducerFailed = "producer_failed"
	CodeProducerPanic  = "producer_panic"
	CodeCommandFailed  = "command_failed"
	CodeLLMUnavailable = "llm_unavailable"
	CodeInvalidRequest = "invalid_request"
	CodeToolRounds     = "max_tool_rounds"
)

// CodedError attaches a stable error code to a producer failure.
type CodedError struct {
	Code string
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }

func (e *CodedError) Unwrap() error { return e.Err }

// WithCode wraps err with a stable code. A nil err stays nil.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Err: err}
}

// Errorf formats a new coded error.
func Errorf(code, format string, args ...any) error {
	return &CodedError{Code: code, Err: fmt.Errorf(format, args...)}
}

// ErrorPayload converts a producer failure into an Error payload.
// Errors without a code are reported as producer_failed.
func ErrorPayload(err error) Error {
	code := CodeProducerFailed
	var ce *CodedError
	if errors.As(err, &ce) && ce.Code != "" {
		code = ce.Code
	}
	return Error{Code: code, Message: err.Error(), Type: errorType(err)}
}

// errorType names the type of the error that caused err, looking through
// coded and fmt %w wrappers. Joined errors report their own type.
func errorType(err error) string {
	for {
		name := fmt.Sprintf("%T", err)
		var next error
		if _, ok := err.(*CodedError); ok || strings.HasPrefix(name, "*fmt.") {
			next = errors.Unwrap(err)
		}
		if next == nil {
			return name
		}
		err = next
	}
}
