package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"

	// The following codes implement spec.md §7's error kinds for the
	// request pipeline. CodeEmptyResponseRetry is internal-only and must
	// never reach an HTTP response; the orchestrator consumes it.
	CodeBackendError       ErrorCode = "BACKEND_ERROR"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
	CodeLoopDetected       ErrorCode = "LOOP_DETECTION_ERROR"
	CodeEmptyResponseRetry ErrorCode = "EMPTY_RESPONSE_RETRY"
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewAlreadyExistsError 创建已存在错误
func NewAlreadyExistsError(message string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsInvalidInput 判断是否为无效输入错误
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput || appErr.Code == CodeValidation
	}
	return false
}

// NewBackendError wraps an adapter-side failure (network, 5xx, upstream
// auth); the failover coordinator retries these before giving up.
func NewBackendError(message string, cause error) *AppError {
	return &AppError{Code: CodeBackendError, Message: message, Err: cause}
}

// NewRateLimitError reports either a local admission gate or a provider
// 429; retry_after, when known, is carried by the caller alongside this
// error (the sliding-window limiter owns the actual duration).
func NewRateLimitError(message string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message}
}

// NewLoopDetectionError aborts an in-flight response; maps to HTTP 400
// with type "loop_detection_error".
func NewLoopDetectionError(message string) *AppError {
	return &AppError{Code: CodeLoopDetected, Message: message}
}

// NewValidationError reports a malformed request shape; maps to HTTP 400
// with type "invalid_request_error".
func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

// IsRateLimited reports whether err is (or wraps) a rate-limit error.
func IsRateLimited(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeRateLimited
	}
	return false
}

// IsBackendError reports whether err is (or wraps) a backend error.
func IsBackendError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeBackendError
	}
	return false
}

// IsLoopDetected reports whether err is (or wraps) a loop-detection abort.
func IsLoopDetected(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeLoopDetected
	}
	return false
}

// EmptyResponseRetryError is the internal control signal raised by the
// response pipeline when a non-streaming reply is empty/whitespace
// (spec.md §4.10). The orchestrator catches it, resubmits once with
// RecoveryPrompt appended as a trailing user message, and must never let
// it escape as an HTTP error.
type EmptyResponseRetryError struct {
	RecoveryPrompt string
}

func (e *EmptyResponseRetryError) Error() string {
	return "empty response: retry requested"
}

// AsEmptyResponseRetry reports whether err is an EmptyResponseRetryError,
// returning it for the caller to read RecoveryPrompt from.
func AsEmptyResponseRetry(err error) (*EmptyResponseRetryError, bool) {
	var e *EmptyResponseRetryError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
