package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorValidation         ErrorCode = "VALIDATION"
	ErrorNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	ErrorInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrorTransport          ErrorCode = "TRANSPORT"
	ErrorNoRefreshToken     ErrorCode = "NO_REFRESH_TOKEN"
	ErrorRefreshFailed      ErrorCode = "REFRESH_FAILED"
	ErrorFeatureDisabled    ErrorCode = "FEATURE_DISABLED"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorInternal when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorInternal
}

// IsSessionExpired reports whether err ended the session. Only these errors
// may force the user back to the sign-in entry point.
func IsSessionExpired(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == ErrorNoRefreshToken || e.Code == ErrorRefreshFailed
}
