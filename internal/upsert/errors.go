package upsert

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an upsert failure
type ErrorKind int

const (
	// KindPersistenceUnavailable means the metric record itself could not be stored
	KindPersistenceUnavailable ErrorKind = iota + 1
	// KindLinkFailed means the record was stored but an entity update failed
	KindLinkFailed
)

var (
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrLinkFailed             = errors.New("entity link failed")
	ErrInvalidHostContext     = errors.New("invalid host context")
	ErrUnknownMetricType      = errors.New("unknown metric type")
)

func (k ErrorKind) String() string {
	switch k {
	case KindPersistenceUnavailable:
		return "persistence unavailable"
	case KindLinkFailed:
		return "link failed"
	default:
		return "unknown"
	}
}

// UpsertError reports a failed upsert. For KindLinkFailed, RecordIDs names the records
// that were persisted but may be missing from the entity graph.
type UpsertError struct {
	Kind      ErrorKind
	Entity    string
	EntityID  string
	RecordIDs []string
	Err       error
}

func (e *UpsertError) Error() string {
	if e.Kind == KindLinkFailed {
		return fmt.Sprintf("%s: %s %q (records %s): %v",
			e.Kind, e.Entity, e.EntityID, strings.Join(e.RecordIDs, ", "), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *UpsertError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *UpsertError) Is(target error) bool {
	switch target {
	case ErrPersistenceUnavailable:
		return e.Kind == KindPersistenceUnavailable
	case ErrLinkFailed:
		return e.Kind == KindLinkFailed
	}
	return false
}
