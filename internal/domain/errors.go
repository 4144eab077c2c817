package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredential is returned when the api token is empty or malformed
	ErrInvalidCredential = errors.New("invalid api token")

	// ErrNotFound is returned when a job cannot be found
	ErrNotFound = errors.New("job not found")

	// ErrNotReady is returned when results are requested before the job finished
	ErrNotReady = errors.New("results not ready")

	// ErrInvalidState is returned for an illegal state transition request
	ErrInvalidState = errors.New("invalid job state")

	// ErrInvalidArgument is returned for bad pagination or filter arguments
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnavailable is returned when no worker can accept the job
	ErrUnavailable = errors.New("service unavailable")
)

// FetchErrorKind classifies upstream failures
type FetchErrorKind string

const (
	FetchErrorNetwork        FetchErrorKind = "network"
	FetchErrorAuthentication FetchErrorKind = "authentication"
	FetchErrorRateLimited    FetchErrorKind = "rate_limited"
	FetchErrorMalformed      FetchErrorKind = "malformed"
	FetchErrorUpstream       FetchErrorKind = "upstream"
)

// FetchError is a failure of the contacts fetch capability. It is recorded
// on the job, never returned to an HTTP caller.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	var prefix string
	switch e.Kind {
	case FetchErrorNetwork:
		prefix = "network error while contacting upstream"
	case FetchErrorAuthentication:
		prefix = "upstream authentication failed"
	case FetchErrorRateLimited:
		prefix = "upstream rate limit exceeded"
	case FetchErrorMalformed:
		prefix = "malformed upstream response"
	default:
		prefix = "upstream request failed"
	}

	if e.StatusCode != 0 {
		prefix = fmt.Sprintf("%s (status %d)", prefix, e.StatusCode)
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new fetch error of the given kind
func NewFetchError(kind FetchErrorKind, statusCode int, err error) *FetchError {
	return &FetchError{Kind: kind, StatusCode: statusCode, Err: err}
}

// FetchErrorKindOf returns the kind of a fetch error, or "unknown"
func FetchErrorKindOf(err error) string {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return string(fetchErr.Kind)
	}
	return "unknown"
}
