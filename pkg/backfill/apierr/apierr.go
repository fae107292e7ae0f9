// Package apierr defines the stable machine-readable error taxonomy for the
// backfill and snapshot orchestration subsystem, and its mapping onto HTTP
// status codes for the admin API.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier. Clients match on
// Code, never on Message.
type Code string

const (
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeInvalidDateRange   Code = "INVALID_DATE_RANGE"
	CodeInvalidJobType     Code = "INVALID_JOB_TYPE"
	CodeForceRequired      Code = "FORCE_REQUIRED"
	CodeJobAlreadyRunning  Code = "JOB_ALREADY_RUNNING"
	CodeJobNotFound        Code = "JOB_NOT_FOUND"
	CodeInvalidJobState    Code = "INVALID_JOB_STATE"
	CodeCancellationFailed Code = "CANCELLATION_FAILED"
	CodeStorageError       Code = "STORAGE_ERROR"
	CodeSnapshotNotFound   Code = "SNAPSHOT_NOT_FOUND"
	CodeAnalyticsNotFound  Code = "ANALYTICS_NOT_FOUND"
	CodeUnsupported        Code = "UNSUPPORTED"
)

// statusByCode maps each Code to the HTTP status the admin API reports it
// as. Kept as a single table so the mapping can't drift between handlers.
var statusByCode = map[Code]int{
	CodeValidationError:    http.StatusBadRequest,
	CodeInvalidDateRange:   http.StatusBadRequest,
	CodeInvalidJobType:     http.StatusBadRequest,
	CodeForceRequired:      http.StatusBadRequest,
	CodeJobAlreadyRunning:  http.StatusConflict,
	CodeJobNotFound:        http.StatusNotFound,
	CodeInvalidJobState:    http.StatusBadRequest,
	CodeCancellationFailed: http.StatusConflict,
	CodeStorageError:       http.StatusInternalServerError,
	CodeSnapshotNotFound:   http.StatusNotFound,
	CodeAnalyticsNotFound:  http.StatusNotFound,
	CodeUnsupported:        http.StatusNotImplemented,
}

// Error is a typed error carrying a stable Code alongside a human message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that carries an underlying cause for logging, while
// still presenting a stable code and message to API clients.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the Code from err, or "" if err is not (or does not wrap)
// an *Error.
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// StatusOf returns the HTTP status the admin API should report for err. A
// nil error maps to 200; an unrecognized error maps to 500.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	code := CodeOf(err)
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether err represents a transient upstream condition
// the executor should retry with backoff, as opposed to a fatal or
// validation error.
func Retryable(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		// Unclassified errors (network errors, context deadline, etc.)
		// surfacing from the upstream fetcher are treated as retryable;
		// only explicitly classified errors are not.
		return true
	}
	switch apiErr.Code {
	case CodeValidationError, CodeInvalidDateRange, CodeInvalidJobType,
		CodeForceRequired, CodeJobAlreadyRunning, CodeJobNotFound,
		CodeInvalidJobState, CodeStorageError, CodeUnsupported:
		return false
	default:
		return true
	}
}
