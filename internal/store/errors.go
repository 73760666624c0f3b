package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a single-row lookup matches nothing
var ErrNotFound = errors.New("record not found")

// ErrStaleStatus is returned when a send-log status update finds the row no
// longer in the attempted state.
var ErrStaleStatus = errors.New("send log row is not in attempted state")

// ConstraintViolation is returned when an insert hits a unique constraint.
// Constraint is the index name when the driver reports it.
type ConstraintViolation struct {
	Constraint string
	Err        error
}

func (e *ConstraintViolation) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("unique constraint violated: %v", e.Err)
	}
	return fmt.Sprintf("unique constraint %s violated: %v", e.Constraint, e.Err)
}

func (e *ConstraintViolation) Unwrap() error {
	return e.Err
}

// IsConstraintViolation reports whether err is, or wraps, a ConstraintViolation
func IsConstraintViolation(err error) bool {
	var cv *ConstraintViolation
	return errors.As(err, &cv)
}
