package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies remote failures independently of provider message text.
type ErrorKind string

const (
	KindAuth           ErrorKind = "auth"
	KindNotFound       ErrorKind = "not_found"
	KindRateLimit      ErrorKind = "rate_limit"
	KindTransient      ErrorKind = "transient"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindUnknown        ErrorKind = "unknown"
)

// Error is returned by every LLMClient for failed remote calls.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (%s, status %d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Provider, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a provider error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimit:
		return true
	default:
		return false
	}
}

// kindForStatus maps an HTTP status code to an error kind.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	case status >= 400:
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}

// networkError wraps a transport failure.
func networkError(provider string, err error) *Error {
	return &Error{
		Provider: provider,
		Kind:     KindTransient,
		Message:  err.Error(),
		Err:      err,
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
