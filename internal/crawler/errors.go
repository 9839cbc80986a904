package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates the requested record or page content does not exist.
	ErrNotFound = errors.New("not found")
	// ErrFetchFailed indicates the upstream site could not be fetched.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrRunInProgress indicates a bulk run is already queued.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrQueueClosed is returned by Dequeue once the queue has shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// FetchErrorKind classifies a failed retrieval.
type FetchErrorKind int

// Fetch error classes.
const (
	// FetchErrorNetwork covers transport failures where no response arrived.
	FetchErrorNetwork FetchErrorKind = iota
	// FetchErrorHTTPStatus is a non-2xx response other than 429.
	FetchErrorHTTPStatus
	// FetchErrorRateLimited is an HTTP 429 response.
	FetchErrorRateLimited
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchErrorNetwork:
		return "network"
	case FetchErrorHTTPStatus:
		return "http_status"
	case FetchErrorRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// FetchError describes why a page could not be retrieved.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Reason     string
}

// NewNetworkError builds a Network fetch error.
func NewNetworkError(reason string) *FetchError {
	return &FetchError{Kind: FetchErrorNetwork, Reason: reason}
}

// NewStatusError classifies a non-success status code.
func NewStatusError(code int) *FetchError {
	if code == http.StatusTooManyRequests {
		return &FetchError{Kind: FetchErrorRateLimited, StatusCode: code}
	}
	return &FetchError{Kind: FetchErrorHTTPStatus, StatusCode: code}
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchErrorNetwork:
		return fmt.Sprintf("network error: %s", e.Reason)
	case FetchErrorRateLimited:
		return "rate limited (HTTP 429)"
	default:
		return fmt.Sprintf("HTTP status %d", e.StatusCode)
	}
}

// Retryable reports whether another attempt may succeed. Network errors are
// never retried.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchErrorRateLimited:
		return true
	case FetchErrorHTTPStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// IsRetryable reports whether err wraps a retryable FetchError.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable()
}
