package services

import (
	"time"

	"example.com/marketplace/services/orders/internal/models"

	"github.com/pkg/errors"
)

// statusEdge is one (from, to) pair of the transition table
type statusEdge struct {
	From models.OrderStatus
	To   models.OrderStatus
}

// transitionTable lists every legal edge and the party roles allowed to
// perform it. RoleSystem may perform any listed edge.
var transitionTable = map[statusEdge][]models.Role{
	{models.OrderStatusPending, models.OrderStatusAccepted}:      {models.RoleSeller},
	{models.OrderStatusPending, models.OrderStatusRejected}:      {models.RoleSeller},
	{models.OrderStatusAccepted, models.OrderStatusInProgress}:   {models.RoleSeller},
	{models.OrderStatusAccepted, models.OrderStatusCancelled}:    {models.RoleBuyer, models.RoleSeller},
	{models.OrderStatusInProgress, models.OrderStatusDelivered}:  {models.RoleSeller},
	{models.OrderStatusInProgress, models.OrderStatusCancelled}:  {models.RoleBuyer, models.RoleSeller},
	{models.OrderStatusDelivered, models.OrderStatusCompleted}:   {models.RoleBuyer},
	{models.OrderStatusDelivered, models.OrderStatusDisputed}:    {models.RoleBuyer},
	{models.OrderStatusDisputed, models.OrderStatusCompleted}:    {models.RoleBuyer},
	{models.OrderStatusDisputed, models.OrderStatusCancelled}:    {models.RoleBuyer, models.RoleSeller},
}

// TransitionResult is the set of derived field updates a validated
// transition requires. The state machine computes it; the order service
// applies it inside the owning transaction.
type TransitionResult struct {
	Status             models.OrderStatus
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason *string
	// ActiveDelta is the change to the seller's active-order counter:
	// +1 entering the active set, -1 leaving it, 0 otherwise.
	ActiveDelta int
}

// StateMachine validates and derives order status transitions. It is pure:
// it performs no I/O and holds no state.
type StateMachine struct{}

// NewStateMachine creates a new state machine
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// Validate decides whether (current -> requested) is legal for the acting
// role and returns the derived field updates. It returns an
// InvalidTransitionError for an edge absent from the table and ErrForbidden
// when the role is not authorized for the edge.
func (m *StateMachine) Validate(current, requested models.OrderStatus, role models.Role, reason string, now time.Time) (*TransitionResult, error) {
	if !requested.IsValid() {
		return nil, &models.InvalidTransitionError{From: current, To: requested}
	}

	allowed, ok := transitionTable[statusEdge{From: current, To: requested}]
	if !ok {
		return nil, &models.InvalidTransitionError{From: current, To: requested}
	}

	if !roleAllowed(role, allowed) {
		return nil, errors.Wrapf(models.ErrForbidden, "role %s may not perform %s -> %s", role, current, requested)
	}

	result := &TransitionResult{
		Status:      requested,
		ActiveDelta: CounterDelta(current, requested),
	}

	switch requested {
	case models.OrderStatusCompleted:
		ts := now
		result.CompletedAt = &ts
	case models.OrderStatusCancelled:
		ts := now
		result.CancelledAt = &ts
		if reason == "" {
			reason = defaultCancellationReason(role)
		}
		result.CancellationReason = &reason
	case models.OrderStatusRejected:
		ts := now
		result.CancelledAt = &ts
		if reason == "" {
			reason = "declined by seller"
		}
		result.CancellationReason = &reason
	}

	return result, nil
}

// ExtendDeadline recomputes the delivery deadline for an extension request.
// Extensions do not change status; they only move the deadline forward. The
// order must still be in an active state and only the seller (or the system)
// may grant one.
func (m *StateMachine) ExtendDeadline(status models.OrderStatus, role models.Role, deadline time.Time, days int) (time.Time, error) {
	if !status.IsActive() {
		return time.Time{}, &models.InvalidTransitionError{From: status, To: status}
	}
	if role != models.RoleSeller && role != models.RoleSystem {
		return time.Time{}, errors.Wrapf(models.ErrForbidden, "role %s may not extend delivery", role)
	}
	if days <= 0 {
		return time.Time{}, errors.New("extension must be a positive number of days")
	}
	return deadline.AddDate(0, 0, days), nil
}

// CounterDelta computes the seller active-order counter change for a status
// edge. The delta is applied as a relative update inside the same
// transaction as the status change, never as read-modify-write.
func CounterDelta(old, new models.OrderStatus) int {
	switch {
	case !old.IsActive() && new.IsActive():
		return 1
	case old.IsActive() && !new.IsActive():
		return -1
	}
	return 0
}

func roleAllowed(role models.Role, allowed []models.Role) bool {
	if role == models.RoleSystem {
		return true
	}
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

func defaultCancellationReason(role models.Role) string {
	switch role {
	case models.RoleBuyer:
		return "cancelled by buyer"
	case models.RoleSeller:
		return "cancelled by seller"
	}
	return "cancelled by system"
}
