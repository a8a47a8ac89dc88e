package annotation

import (
	"fmt"
	"strings"

	"github.com/japaniel/readmark/pkg/geometry"
)

// ValidationError reports a selection that breaks the span rules. Nothing
// has been mutated when it is returned.
type ValidationError struct {
	Kind   Kind
	Range  geometry.Range
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s selection %v: %s", e.Kind, e.Range, e.Reason)
}

// OverlapConflictError reports a selection that partially overlaps an
// existing annotation. Nothing has been mutated when it is returned.
type OverlapConflictError struct {
	Kind     Kind
	Range    geometry.Range
	Conflict ID
	// ConflictKind is the kind of the annotation in the way.
	ConflictKind Kind
}

func (e *OverlapConflictError) Error() string {
	if e.ConflictKind != "" && e.ConflictKind != e.Kind {
		return fmt.Sprintf("%s selection %v cannot nest with %s annotation %s", e.Kind, e.Range, e.ConflictKind, e.Conflict)
	}
	return fmt.Sprintf("%s selection %v partially overlaps annotation %s", e.Kind, e.Range, e.Conflict)
}

// StaleRangeError reports that a range could not be located in the
// document any more. The operation that hit it became a no-op.
type StaleRangeError struct {
	ID    ID
	Range geometry.Range
	Err   error
}

func (e *StaleRangeError) Error() string {
	msg := fmt.Sprintf("stale range %v", e.Range)
	if e.ID != "" {
		msg = fmt.Sprintf("annotation %s: %s", e.ID, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StaleRangeError) Unwrap() error { return e.Err }

// MetadataFetchError wraps a failed translation lookup. The annotation
// stays bound without metadata.
type MetadataFetchError struct {
	ID  ID
	Err error
}

func (e *MetadataFetchError) Error() string {
	return fmt.Sprintf("metadata for annotation %s: %v", e.ID, e.Err)
}

func (e *MetadataFetchError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed storage write. Visible state is kept.
type PersistenceError struct {
	Op  string
	IDs []ID
	Err error
}

func (e *PersistenceError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = string(id)
	}
	return fmt.Sprintf("persist %s [%s]: %v", e.Op, strings.Join(ids, ","), e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
