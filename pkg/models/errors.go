package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies request failures so callers can branch on them
type ErrorKind string

const (
	ErrInvalidRequest   ErrorKind = "invalid_request"
	ErrQuotaExceeded    ErrorKind = "quota_exceeded"
	ErrUpstreamError    ErrorKind = "upstream_error"
	ErrPersistenceError ErrorKind = "persistence_error"
)

// APIError is the error shape surfaced by every endpoint
type APIError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatus maps the error kind to its response status
func (e *APIError) HTTPStatus() int {
	switch e.Kind {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates an APIError with the given kind and message
func NewAPIError(kind ErrorKind, message string) *APIError {
	return &APIError{Kind: kind, Message: message}
}

// QuotaExceededError carries the standard upgrade guidance so quota denials
// are distinguishable from generic failures in the UI
func QuotaExceededError() *APIError {
	return NewAPIError(ErrQuotaExceeded,
		"Monthly AI usage limit reached. Upgrade to Pro for a higher limit.")
}

// AsAPIError extracts an APIError from an error chain, defaulting unknown
// errors to persistence_error so unverified state fails closed
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewAPIError(ErrPersistenceError, "internal error")
}
