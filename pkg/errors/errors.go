// Package errors defines the failure taxonomy of the ingestion pipeline.
// Every failure is classified by one sentinel (transient, permanent,
// referential, persistence) so retry and isolation decisions use errors.Is.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrTransient         = errors.New("transient fetch error")
	ErrPermanent         = errors.New("permanent fetch error")
	ErrReferential       = errors.New("referential integrity error")
	ErrPersistence       = errors.New("persistence error")
	ErrNotFound          = errors.New("not found")
	ErrRunNotFound       = errors.New("ingestion run not found")
	ErrInvalidTransition = errors.New("invalid run status transition")
)

// Error classes reported in logs and metrics.
const (
	ClassTransient   = "transient"
	ClassPermanent   = "permanent"
	ClassReferential = "referential"
	ClassPersistence = "persistence"
	ClassCanceled    = "canceled"
	ClassUnknown     = "unknown"
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
	// RetryAfter is the server-requested delay before the next attempt.
	RetryAfter time.Duration
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Err.Error(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Wrap classifies cause under sentinel while keeping it reachable through
// errors.Is and errors.As.
func Wrap(sentinel error, cause error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// FromStatus classifies a non-2xx HTTP response. 408, 429 and 5xx are
// transient; every other status is permanent.
func FromStatus(statusCode int, message string, retryAfter time.Duration) *AppError {
	sentinel := ErrPermanent
	if retryableStatus(statusCode) {
		sentinel = ErrTransient
	}
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
	}
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500 && code <= 599:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err belongs to the transient class.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.RetryAfter > 0 {
		return appErr.RetryAfter, true
	}
	return 0, false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

// Classify maps err onto one of the Class* labels.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReferential):
		return ClassReferential
	case errors.Is(err, ErrPersistence):
		return ClassPersistence
	case errors.Is(err, ErrPermanent):
		return ClassPermanent
	case errors.Is(err, ErrTransient):
		return ClassTransient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	default:
		return ClassUnknown
	}
}
