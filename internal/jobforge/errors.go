package jobforge

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure that the core surfaces to callers.
// The HTTP adapter maps each Code to a status; the core itself never
// speaks HTTP.
type Code string

const (
	CodeInvalidQueue      Code = "INVALID_QUEUE"
	CodeInvalidJobType    Code = "INVALID_JOB_TYPE"
	CodeInvalidDelay      Code = "INVALID_DELAY"
	CodeInvalidCron       Code = "INVALID_CRON"
	CodePayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"
	CodeValidation        Code = "VALIDATION"
	CodeAuthRequired      Code = "AUTH_REQUIRED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeAdminRequired     Code = "ADMIN_REQUIRED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeDuplicate         Code = "DUPLICATE"
	CodeRefusedActive     Code = "REFUSED_ACTIVE"
	CodeNotRetriable      Code = "NOT_RETRIABLE"
	CodeNotTriggerable    Code = "NOT_TRIGGERABLE"
	CodeHandlerRetriable  Code = "HANDLER_RETRIABLE"
	CodeHandlerFatal      Code = "HANDLER_FATAL"
	CodeHandlerTimeout    Code = "HANDLER_TIMEOUT"
	CodeStoreUnavailable  Code = "STORE_UNAVAILABLE"
	CodeBrokerUnavailable Code = "BROKER_UNAVAILABLE"
	CodeBadToken          Code = "BAD_TOKEN"
	CodeInvalidConfig     Code = "INVALID_CONFIG"
)

// Error is the single error type the core returns. Callers compare
// against a Code with errors.As, never by string matching.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, jobforge.NewError(Code,"",nil)) match on Code alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError constructs an Error, optionally wrapping a cause.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrap is shorthand for NewError with fmt.Errorf-style formatting of message.
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// HasCode reports whether err is a jobforge.Error carrying the given code.
func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
