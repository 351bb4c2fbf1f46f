package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures so callers can branch without
// matching on message strings.
type ErrorCode string

const (
	// CodeLoginFailed means authentication was rejected or the login page
	// was unreachable.
	CodeLoginFailed ErrorCode = "LOGIN_FAILED"

	// CodeSessionExtraction means the login succeeded but the state
	// snapshot (cookies/storage) could not be taken.
	CodeSessionExtraction ErrorCode = "SESSION_EXTRACTION_FAILED"

	// CodeSelectorResolution is a per-step, recoverable failure to resolve
	// an action's selector against the live page.
	CodeSelectorResolution ErrorCode = "SELECTOR_RESOLUTION_FAILED"

	// CodeNavigationFailed is fatal to the current operation.
	CodeNavigationFailed ErrorCode = "NAVIGATION_FAILED"

	// CodeCronParse marks an unparsable cron expression. APIs that can
	// return this prefer nil/invalid results over errors, since expressions
	// are evaluated speculatively in display contexts.
	CodeCronParse ErrorCode = "CRON_PARSE_FAILED"
)

// EngineError is a coded engine failure. The code is stable API; the
// message is for humans.
type EngineError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewError creates a coded error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a coded error wrapping an underlying cause.
func WrapError(code ErrorCode, err error, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the error code from err, or empty if err carries none.
func CodeOf(err error) ErrorCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}
