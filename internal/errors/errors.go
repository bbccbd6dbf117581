// Package errors defines the typed failures used across the skeleton.
// Handlers and services return *ServiceError values; the problem
// normalizer converts them to RFC 7807 documents at the boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error kind independent of its HTTP mapping.
type Code string

const (
	CodeValidation    Code = "validation_error"
	CodeUnauthorized  Code = "unauthorized"
	CodeForbidden     Code = "forbidden"
	CodeNotFound      Code = "not_found"
	CodeMethod        Code = "method_not_allowed"
	CodeConflict      Code = "conflict"
	CodePayloadLarge  Code = "payload_too_large"
	CodeUnprocessable Code = "unprocessable"
	CodeRateLimited   Code = "rate_limited"
	CodeInternal      Code = "internal_error"
	CodeUnavailable   Code = "service_unavailable"
	CodeBadGateway    Code = "bad_gateway"
	CodeTimeout       Code = "gateway_timeout"
	CodeInvalidToken  Code = "invalid_token"
	CodeRevokedToken  Code = "revoked_token"
	CodeExpiredToken  Code = "expired_token"
)

// ServiceError is the one error shape the boundary understands.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]any
	Headers    http.Header
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair of structured context and returns
// the error for chaining.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithHeader attaches a response header to emit with the error.
func (e *ServiceError) WithHeader(key, value string) *ServiceError {
	if e.Headers == nil {
		e.Headers = make(http.Header)
	}
	e.Headers.Set(key, value)
	return e
}

func newError(code Code, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// BadRequest signals a malformed payload.
func BadRequest(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// Unprocessable signals a schema violation on a well-formed payload.
func Unprocessable(message string) *ServiceError {
	return newError(CodeUnprocessable, http.StatusUnprocessableEntity, message, nil)
}

// Unauthorized signals a missing or invalid credential.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// Forbidden signals an authenticated but unpermitted request.
func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// NotFound signals an absent route or resource.
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message, nil)
}

// MethodNotAllowed signals a known route with an unsupported method.
func MethodNotAllowed(message string) *ServiceError {
	return newError(CodeMethod, http.StatusMethodNotAllowed, message, nil)
}

// Conflict signals a uniqueness or state violation.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

// PayloadTooLarge signals a request exceeding a configured cap.
func PayloadTooLarge(message string) *ServiceError {
	return newError(CodePayloadLarge, http.StatusRequestEntityTooLarge, message, nil)
}

// RateLimited signals an exhausted quota. Limit and window describe the
// violated profile for the problem document.
func RateLimited(limit int, window string) *ServiceError {
	e := newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil)
	return e.WithDetails("limit", limit).WithDetails("window", window)
}

// Unavailable signals a downstream dependency outage.
func Unavailable(message string) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, nil)
}

// BadGateway signals a downstream 5xx.
func BadGateway(message string) *ServiceError {
	return newError(CodeBadGateway, http.StatusBadGateway, message, nil)
}

// GatewayTimeout signals a downstream timeout.
func GatewayTimeout(message string) *ServiceError {
	return newError(CodeTimeout, http.StatusGatewayTimeout, message, nil)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// InvalidToken signals a token that fails signature or shape checks.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid token", err)
}

// ExpiredToken signals a token past its expiry.
func ExpiredToken() *ServiceError {
	return newError(CodeExpiredToken, http.StatusUnauthorized, "token expired", nil)
}

// RevokedToken signals a token whose jti is on the deny list.
func RevokedToken() *ServiceError {
	return newError(CodeRevokedToken, http.StatusUnauthorized, "token revoked", nil)
}

// GetServiceError returns the *ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
