package services

import (
	"testing"
	"time"

	"example.com/marketplace/services/orders/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestValidateAllowsTableEdges(t *testing.T) {
	machine := NewStateMachine()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		from models.OrderStatus
		to   models.OrderStatus
		role models.Role
	}{
		{"seller accepts", models.OrderStatusPending, models.OrderStatusAccepted, models.RoleSeller},
		{"seller rejects", models.OrderStatusPending, models.OrderStatusRejected, models.RoleSeller},
		{"seller starts work", models.OrderStatusAccepted, models.OrderStatusInProgress, models.RoleSeller},
		{"seller delivers", models.OrderStatusInProgress, models.OrderStatusDelivered, models.RoleSeller},
		{"buyer completes", models.OrderStatusDelivered, models.OrderStatusCompleted, models.RoleBuyer},
		{"buyer disputes", models.OrderStatusDelivered, models.OrderStatusDisputed, models.RoleBuyer},
		{"buyer resolves dispute", models.OrderStatusDisputed, models.OrderStatusCompleted, models.RoleBuyer},
		{"buyer cancels accepted", models.OrderStatusAccepted, models.OrderStatusCancelled, models.RoleBuyer},
		{"seller cancels in progress", models.OrderStatusInProgress, models.OrderStatusCancelled, models.RoleSeller},
		{"system cancels disputed", models.OrderStatusDisputed, models.OrderStatusCancelled, models.RoleSystem},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := machine.Validate(tc.from, tc.to, tc.role, "", now)
			require.NoError(t, err)
			require.Equal(t, tc.to, result.Status)
		})
	}
}

func TestValidateRejectsUnknownEdges(t *testing.T) {
	machine := NewStateMachine()
	now := time.Now()

	cases := []struct {
		name string
		from models.OrderStatus
		to   models.OrderStatus
	}{
		{"pending cannot complete", models.OrderStatusPending, models.OrderStatusCompleted},
		{"pending cannot cancel", models.OrderStatusPending, models.OrderStatusCancelled},
		{"accepted cannot deliver", models.OrderStatusAccepted, models.OrderStatusDelivered},
		{"delivered cannot cancel", models.OrderStatusDelivered, models.OrderStatusCancelled},
		{"completed is terminal", models.OrderStatusCompleted, models.OrderStatusDisputed},
		{"cancelled is terminal", models.OrderStatusCancelled, models.OrderStatusAccepted},
		{"rejected is terminal", models.OrderStatusRejected, models.OrderStatusPending},
		{"no backward edge", models.OrderStatusInProgress, models.OrderStatusAccepted},
		{"unknown status", models.OrderStatusAccepted, models.OrderStatus("SHIPPED")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := machine.Validate(tc.from, tc.to, models.RoleSystem, "", now)
			require.Error(t, err)
			require.ErrorIs(t, err, models.ErrInvalidTransition)

			var ite *models.InvalidTransitionError
			require.True(t, errors.As(err, &ite))
			require.Equal(t, tc.from, ite.From)
		})
	}
}

func TestValidateEnforcesRoles(t *testing.T) {
	machine := NewStateMachine()
	now := time.Now()

	// Buyers cannot accept, sellers cannot complete
	_, err := machine.Validate(models.OrderStatusPending, models.OrderStatusAccepted, models.RoleBuyer, "", now)
	require.ErrorIs(t, err, models.ErrForbidden)

	_, err = machine.Validate(models.OrderStatusDelivered, models.OrderStatusCompleted, models.RoleSeller, "", now)
	require.ErrorIs(t, err, models.ErrForbidden)

	_, err = machine.Validate(models.OrderStatusDelivered, models.OrderStatusDisputed, models.RoleSeller, "", now)
	require.ErrorIs(t, err, models.ErrForbidden)

	// The system actor bypasses party checks on any legal edge
	result, err := machine.Validate(models.OrderStatusDelivered, models.OrderStatusCompleted, models.RoleSystem, "", now)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCompleted, result.Status)
}

func TestValidateDerivesTerminalFields(t *testing.T) {
	machine := NewStateMachine()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	result, err := machine.Validate(models.OrderStatusDelivered, models.OrderStatusCompleted, models.RoleBuyer, "", now)
	require.NoError(t, err)
	require.NotNil(t, result.CompletedAt)
	require.Equal(t, now, *result.CompletedAt)
	require.Nil(t, result.CancelledAt)

	result, err = machine.Validate(models.OrderStatusAccepted, models.OrderStatusCancelled, models.RoleBuyer, "changed my mind", now)
	require.NoError(t, err)
	require.NotNil(t, result.CancelledAt)
	require.Equal(t, now, *result.CancelledAt)
	require.NotNil(t, result.CancellationReason)
	require.Equal(t, "changed my mind", *result.CancellationReason)

	// An omitted reason falls back to a role-derived default
	result, err = machine.Validate(models.OrderStatusAccepted, models.OrderStatusCancelled, models.RoleSeller, "", now)
	require.NoError(t, err)
	require.Equal(t, "cancelled by seller", *result.CancellationReason)

	result, err = machine.Validate(models.OrderStatusPending, models.OrderStatusRejected, models.RoleSeller, "", now)
	require.NoError(t, err)
	require.NotNil(t, result.CancelledAt)
	require.Equal(t, "declined by seller", *result.CancellationReason)
}

func TestCounterDelta(t *testing.T) {
	require.Equal(t, 1, CounterDelta(models.OrderStatusPending, models.OrderStatusAccepted))
	require.Equal(t, 0, CounterDelta(models.OrderStatusAccepted, models.OrderStatusInProgress))
	require.Equal(t, 0, CounterDelta(models.OrderStatusInProgress, models.OrderStatusDelivered))
	require.Equal(t, 0, CounterDelta(models.OrderStatusDelivered, models.OrderStatusDisputed))
	require.Equal(t, -1, CounterDelta(models.OrderStatusDelivered, models.OrderStatusCompleted))
	require.Equal(t, -1, CounterDelta(models.OrderStatusInProgress, models.OrderStatusCancelled))
	require.Equal(t, 0, CounterDelta(models.OrderStatusPending, models.OrderStatusRejected))
}

func TestExtendDeadline(t *testing.T) {
	machine := NewStateMachine()
	deadline := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)

	extended, err := machine.ExtendDeadline(models.OrderStatusInProgress, models.RoleSeller, deadline, 3)
	require.NoError(t, err)
	require.Equal(t, deadline.AddDate(0, 0, 3), extended)

	_, err = machine.ExtendDeadline(models.OrderStatusPending, models.RoleSeller, deadline, 3)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = machine.ExtendDeadline(models.OrderStatusCompleted, models.RoleSeller, deadline, 3)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = machine.ExtendDeadline(models.OrderStatusInProgress, models.RoleBuyer, deadline, 3)
	require.ErrorIs(t, err, models.ErrForbidden)

	_, err = machine.ExtendDeadline(models.OrderStatusInProgress, models.RoleSeller, deadline, 0)
	require.Error(t, err)

	_, err = machine.ExtendDeadline(models.OrderStatusInProgress, models.RoleSeller, deadline, -2)
	require.Error(t, err)
}
