package prometheus

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed backend query
type ErrorKind int

const (
	// KindUnreachable covers transport failures and timeouts
	KindUnreachable ErrorKind = iota
	// KindHTTPStatus is a non-2xx response
	KindHTTPStatus
	// KindNoData is a response without a usable scalar value
	KindNoData
)

var (
	ErrUnreachable = errors.New("metrics backend unreachable")
	ErrHTTPStatus  = errors.New("metrics backend returned non-success status")
	ErrNoData      = errors.New("metrics backend returned no data")
)

// String returns the metrics label for the kind
func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindHTTPStatus:
		return "http_status"
	case KindNoData:
		return "no_data"
	default:
		return "unknown"
	}
}

// BackendError is returned by Client.Query for every failed query
type BackendError struct {
	Kind       ErrorKind
	StatusCode int
	Query      string
	Err        error
}

func (e *BackendError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("prometheus query failed with status %d: %v", e.StatusCode, e.Err)
	case KindNoData:
		return fmt.Sprintf("prometheus query returned no data: %v", e.Err)
	default:
		return fmt.Sprintf("failed to query prometheus: %v", e.Err)
	}
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrHTTPStatus:
		return e.Kind == KindHTTPStatus
	case ErrNoData:
		return e.Kind == KindNoData
	}
	return false
}

// Retryable reports whether retrying the query may succeed
func (e *BackendError) Retryable() bool {
	return e.Kind == KindUnreachable || (e.Kind == KindHTTPStatus && e.StatusCode >= 500)
}

func unreachable(query string, err error) *BackendError {
	return &BackendError{Kind: KindUnreachable, Query: query, Err: err}
}

func httpStatus(query string, code int, body string) *BackendError {
	return &BackendError{Kind: KindHTTPStatus, StatusCode: code, Query: query, Err: errors.New(body)}
}

func noData(query string, reason string) *BackendError {
	return &BackendError{Kind: KindNoData, Query: query, Err: errors.New(reason)}
}
