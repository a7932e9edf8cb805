package models

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestStatusClassification(t *testing.T) {
	require.False(t, OrderStatusPending.IsActive())
	require.False(t, OrderStatusPending.IsTerminal())

	for _, s := range ActiveStatuses {
		require.True(t, s.IsActive(), "status %s", s)
		require.False(t, s.IsTerminal(), "status %s", s)
	}

	for _, s := range []OrderStatus{OrderStatusCompleted, OrderStatusCancelled, OrderStatusRejected} {
		require.False(t, s.IsActive(), "status %s", s)
		require.True(t, s.IsTerminal(), "status %s", s)
	}

	require.True(t, OrderStatusDisputed.IsValid())
	require.False(t, OrderStatus("SHIPPED").IsValid())
	require.False(t, OrderStatus("").IsValid())
}

func TestPartyRole(t *testing.T) {
	order := &Order{BuyerID: 10}

	require.Equal(t, RoleBuyer, order.PartyRole(10, 30))
	require.Equal(t, RoleSeller, order.PartyRole(30, 30))
	require.Equal(t, RoleNone, order.PartyRole(99, 30))
}

func TestPackageByName(t *testing.T) {
	gig := &Gig{
		Packages: []GigPackage{
			{Name: "basic", Price: 100},
			{Name: "premium", Price: 250},
		},
	}

	pkg := gig.PackageByName("premium")
	require.NotNil(t, pkg)
	require.Equal(t, 250.0, pkg.Price)

	require.Nil(t, gig.PackageByName("enterprise"))
}

func TestInvalidTransitionErrorMatching(t *testing.T) {
	err := &InvalidTransitionError{From: OrderStatusPending, To: OrderStatusCompleted}

	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NotErrorIs(t, err, ErrForbidden)
	require.Contains(t, err.Error(), "PENDING")
	require.Contains(t, err.Error(), "COMPLETED")

	// Matching survives pkg/errors wrapping
	wrapped := errors.Wrap(err, "transition rejected")
	require.ErrorIs(t, wrapped, ErrInvalidTransition)

	var ite *InvalidTransitionError
	require.True(t, errors.As(wrapped, &ite))
	require.Equal(t, OrderStatusPending, ite.From)
}
