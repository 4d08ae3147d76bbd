package engine

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated indicates the caller did not identify itself.
var ErrUnauthenticated = errors.New("authentication required")

// AccessDeniedError indicates the caller does not own the record.
type AccessDeniedError struct {
	Action   string
	Resource string
}

func (e AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: only the owner can %s this %s", e.Action, e.Resource)
}

// InvalidTransitionError indicates a status change blocked by a guard.
type InvalidTransitionError struct {
	Reason string
}

func (e InvalidTransitionError) Error() string {
	return e.Reason
}
