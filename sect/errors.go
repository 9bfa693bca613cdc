package sect

import (
	"errors"
	"fmt"
)

// Sentinel errors for the operation outcomes callers branch on. Wrapped
// values carry context; match with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrPermission   = errors.New("permission denied")
	ErrNotFound     = errors.New("not found")
	ErrState        = errors.New("invalid state")
	ErrCollaborator = errors.New("collaborator failure")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func permissionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func statef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

func collaboratorErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCollaborator, op, err)
}
