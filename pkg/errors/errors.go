package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode classifies a failure of the 2FA engine.
type ErrorCode string

const (
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeConfiguration      ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"
	ErrCodePolicy             ErrorCode = "POLICY_ERROR"
)

var statusByCode = map[ErrorCode]int{
	ErrCodeInvalidInput:       http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeVerificationFailed: http.StatusUnauthorized,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodePolicy:             http.StatusConflict,
}

const internalMessage = "internal error"

// Error is a classified failure. Message is safe to show to an end user for
// every code except ErrCodeInternal and ErrCodeConfiguration.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, New(code, ""))
// tests the classification.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// GetCode returns the code of the first *Error in err's chain, or
// ErrCodeInternal for unclassified errors.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsFatal reports whether err comes from corrupt key material. Such errors are
// not the user's fault and retrying cannot succeed.
func IsFatal(err error) bool {
	return IsCode(err, ErrCodeConfiguration)
}

// PublicMessage returns the message safe to show to an end user.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return internalMessage
	}
	switch e.Code {
	case ErrCodeInternal, ErrCodeConfiguration:
		return internalMessage
	}
	return e.Message
}

func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Configuration reports unusable key material, such as a stored secret that
// does not decode.
func Configuration(message string, err error) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: message, Err: err}
}

// VerificationFailed is a rejected code. The user may try again.
func VerificationFailed(message string) *Error {
	return New(ErrCodeVerificationFailed, message)
}

func NotFound(resource string) *Error {
	return New(ErrCodeNotFound, resource+" not found").WithDetail("resource", resource)
}

// Policy is an operation the device kind does not allow.
func Policy(message string) *Error {
	return New(ErrCodePolicy, message)
}

func InvalidInput(field, reason string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason))
}

func Unauthorized(message string) *Error {
	return New(ErrCodeUnauthorized, message)
}
