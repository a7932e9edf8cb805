package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Domain errors returned by the order service. Callers match them with
// errors.Is; repositories and services wrap them with pkg/errors for context.
var (
	ErrNotFound          = errors.New("not found")
	ErrGigNotAvailable   = errors.New("gig is not orderable")
	ErrInvalidPackage    = errors.New("package not offered by gig")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("actor is not authorized for this action")
	ErrConflict          = errors.New("concurrent transition conflict")
)

// InvalidTransitionError rejects a status edge absent from the transition
// table. It matches ErrInvalidTransition under errors.Is and carries the
// attempted edge.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match the typed error
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
