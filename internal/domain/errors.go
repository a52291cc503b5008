package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Stable conflict codes surfaced verbatim through the batch error map.
// Operators and tests match on these.
const (
	// ErrCodeDuplicateEmail: an account for the same recipe with the same
	// email already exists on an overlapping tenant.
	ErrCodeDuplicateEmail = "E003"

	// ErrCodePrimaryUserConflict: the email is already attached to a primary
	// user somewhere in the storage pool, so linking would break primary-user
	// uniqueness.
	ErrCodePrimaryUserConflict = "E027"
)

// BatchInsertError aggregates per-user failures from an import batch. Users
// absent from the map succeeded; callers inspect outcomes without losing
// information about siblings.
type BatchInsertError struct {
	ErrorsByUserID map[string]error
}

func (e *BatchInsertError) Error() string {
	ids := make([]string, 0, len(e.ErrorsByUserID))
	for id := range e.ErrorsByUserID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.ErrorsByUserID[id]))
	}
	return "bulk import batch insert failed: " + strings.Join(parts, "; ")
}

// NewBatchInsertError builds the aggregate from a non-empty error map.
func NewBatchInsertError(errs map[string]error) *BatchInsertError {
	return &BatchInsertError{ErrorsByUserID: errs}
}
