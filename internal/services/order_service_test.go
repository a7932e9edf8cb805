package services

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"example.com/marketplace/services/orders/internal/metrics"
	"example.com/marketplace/services/orders/internal/models"
	"example.com/marketplace/services/orders/internal/tracing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeUnitOfWork runs the transaction body directly. The repositories under
// test are mocks, so no real *gorm.DB is needed.
type fakeUnitOfWork struct {
	err   error
	calls int
}

func (f *fakeUnitOfWork) Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return fc(nil)
}

// Mock repositories for testing

type MockOrderStore struct {
	mock.Mock
}

func (m *MockOrderStore) Create(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	args := m.Called(ctx, tx, order)
	return args.Error(0)
}

func (m *MockOrderStore) GetByID(ctx context.Context, id uint) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderStore) GetWithHistory(ctx context.Context, id uint) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderStore) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	args := m.Called(ctx, number)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderStore) ApplyTransition(ctx context.Context, tx *gorm.DB, orderID uint, from models.OrderStatus, updates map[string]interface{}) (bool, error) {
	args := m.Called(ctx, tx, orderID, from, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderStore) ExtendDeadline(ctx context.Context, tx *gorm.DB, orderID uint, status models.OrderStatus, deadline time.Time) (bool, error) {
	args := m.Called(ctx, tx, orderID, status, deadline)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderStore) ListForBuyer(ctx context.Context, buyerID uint, limit int) ([]models.Order, error) {
	args := m.Called(ctx, buyerID, limit)
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *MockOrderStore) ListForSeller(ctx context.Context, profileID uint, limit int) ([]models.Order, error) {
	args := m.Called(ctx, profileID, limit)
	return args.Get(0).([]models.Order), args.Error(1)
}

type MockGigStore struct {
	mock.Mock
}

func (m *MockGigStore) GetByID(ctx context.Context, id uint) (*models.Gig, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Gig), args.Error(1)
}

func (m *MockGigStore) IncrementOrderStats(ctx context.Context, tx *gorm.DB, gigID uint, orderedAt time.Time) error {
	args := m.Called(ctx, tx, gigID, orderedAt)
	return args.Error(0)
}

type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) GetByID(ctx context.Context, id uint) (*models.SellerProfile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SellerProfile), args.Error(1)
}

func (m *MockProfileStore) GetByUserID(ctx context.Context, userID uint) (*models.SellerProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SellerProfile), args.Error(1)
}

func (m *MockProfileStore) ApplyCounterDelta(ctx context.Context, tx *gorm.DB, profileID uint, activeDelta, lifetimeDelta int) error {
	args := m.Called(ctx, tx, profileID, activeDelta, lifetimeDelta)
	return args.Error(0)
}

func (m *MockProfileStore) RecalculateActiveOrders(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockHistoryStore struct {
	mock.Mock
}

func (m *MockHistoryStore) Append(ctx context.Context, tx *gorm.DB, record *models.OrderStatusHistory) error {
	args := m.Called(ctx, tx, record)
	return args.Error(0)
}

func (m *MockHistoryStore) ListByOrder(ctx context.Context, orderID uint) ([]models.OrderStatusHistory, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]models.OrderStatusHistory), args.Error(1)
}

type MockInboxStore struct {
	mock.Mock
}

func (m *MockInboxStore) ListInbox(ctx context.Context, recipientID uint, limit int) ([]models.Notification, error) {
	args := m.Called(ctx, recipientID, limit)
	return args.Get(0).([]models.Notification), args.Error(1)
}

func (m *MockInboxStore) MarkRead(ctx context.Context, id, recipientID uint) error {
	args := m.Called(ctx, id, recipientID)
	return args.Error(0)
}

func (m *MockInboxStore) MarkDeliveredForEvent(ctx context.Context, orderID uint, category string) (int64, error) {
	args := m.Called(ctx, orderID, category)
	return args.Get(0).(int64), args.Error(1)
}

type MockNotificationStore struct {
	mock.Mock
}

func (m *MockNotificationStore) Create(ctx context.Context, notification *models.Notification) error {
	args := m.Called(ctx, notification)
	return args.Error(0)
}

type serviceMocks struct {
	uow     *fakeUnitOfWork
	orders  *MockOrderStore
	gigs    *MockGigStore
	profile *MockProfileStore
	history *MockHistoryStore
	inbox   *MockInboxStore
	notifs  *MockNotificationStore
}

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService() (*OrderService, *serviceMocks) {
	m := &serviceMocks{
		uow:     &fakeUnitOfWork{},
		orders:  new(MockOrderStore),
		gigs:    new(MockGigStore),
		profile: new(MockProfileStore),
		history: new(MockHistoryStore),
		inbox:   new(MockInboxStore),
		notifs:  new(MockNotificationStore),
	}

	collector := metrics.NewMetrics()
	service := &OrderService{
		uow:         m.uow,
		orderRepo:   m.orders,
		gigRepo:     m.gigs,
		profileRepo: m.profile,
		historyRepo: m.history,
		inboxRepo:   m.inbox,
		notifier:    NewNotifier(m.notifs, nil, nil, collector),
		machine:     NewStateMachine(),
		metrics:     collector,
		tracer:      &tracing.NewRelicTracer{},
		now:         func() time.Time { return testNow },
	}
	return service, m
}

func testGig() *models.Gig {
	return &models.Gig{
		ID:              7,
		SellerProfileID: 3,
		Title:           "Logo design",
		Status:          models.GigStatusActive,
		LeadTimeDays:    5,
		Packages: []models.GigPackage{
			{GigID: 7, Name: "basic", Price: 100},
			{GigID: 7, Name: "premium", Price: 250},
		},
	}
}

func testProfile() *models.SellerProfile {
	return &models.SellerProfile{ID: 3, UserID: 30, DisplayName: "studio"}
}

func TestCreateOrder(t *testing.T) {
	service, m := newTestService()

	m.gigs.On("GetByID", mock.Anything, uint(7)).Return(testGig(), nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)
	m.orders.On("ExistsByNumber", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	m.orders.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Order")).
		Run(func(args mock.Arguments) {
			args.Get(2).(*models.Order).ID = 42
		}).Return(nil)
	m.history.On("Append", mock.Anything, mock.Anything, mock.AnythingOfType("*models.OrderStatusHistory")).Return(nil)
	m.gigs.On("IncrementOrderStats", mock.Anything, mock.Anything, uint(7), testNow).Return(nil)
	m.profile.On("ApplyCounterDelta", mock.Anything, mock.Anything, uint(3), 0, 1).Return(nil)
	m.notifs.On("Create", mock.Anything, mock.AnythingOfType("*models.Notification")).Return(nil)
	m.history.On("ListByOrder", mock.Anything, uint(42)).
		Return([]models.OrderStatusHistory{{OrderID: 42, Status: models.OrderStatusPending}}, nil)

	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:     10,
		GigID:       7,
		PackageName: "basic",
	})

	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPending, order.Status)
	require.Equal(t, uint(10), order.BuyerID)
	require.Equal(t, uint(3), order.SellerProfileID)
	require.Equal(t, "basic", order.PackageName)
	require.Equal(t, 100.0, order.TotalPrice)
	require.Nil(t, order.PriorityFee)
	require.False(t, order.IsUrgent)
	require.Equal(t, models.DefaultCurrency, order.Currency)
	require.Equal(t, testNow.AddDate(0, 0, 5), order.DeliveryDeadline)
	require.Regexp(t, regexp.MustCompile(`^ORD-20250310-[0-9A-F]{8}$`), order.OrderNumber)
	require.Len(t, order.History, 1)

	// One committed transaction, both parties notified
	require.Equal(t, 1, m.uow.calls)
	m.notifs.AssertNumberOfCalls(t, "Create", 2)
	m.orders.AssertExpectations(t)
	m.history.AssertExpectations(t)
	m.profile.AssertExpectations(t)
}

func TestCreateOrderExpressPricing(t *testing.T) {
	service, m := newTestService()

	m.gigs.On("GetByID", mock.Anything, uint(7)).Return(testGig(), nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)
	m.orders.On("ExistsByNumber", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
	m.orders.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Order")).
		Run(func(args mock.Arguments) {
			args.Get(2).(*models.Order).ID = 43
		}).Return(nil)
	m.history.On("Append", mock.Anything, mock.Anything, mock.AnythingOfType("*models.OrderStatusHistory")).Return(nil)
	m.gigs.On("IncrementOrderStats", mock.Anything, mock.Anything, uint(7), testNow).Return(nil)
	m.profile.On("ApplyCounterDelta", mock.Anything, mock.Anything, uint(3), 0, 1).Return(nil)
	m.notifs.On("Create", mock.Anything, mock.AnythingOfType("*models.Notification")).Return(nil)
	m.history.On("ListByOrder", mock.Anything, uint(43)).Return([]models.OrderStatusHistory{}, nil)

	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:         10,
		GigID:           7,
		PackageName:     "basic",
		ExpressDelivery: true,
	})

	require.NoError(t, err)
	require.Equal(t, 150.0, order.TotalPrice)
	require.NotNil(t, order.PriorityFee)
	require.Equal(t, 50.0, *order.PriorityFee)
	require.True(t, order.IsUrgent)
	require.Equal(t, 1, order.UrgencyLevel)
	require.Equal(t, 10, order.PriorityRank)
}

func TestCreateOrderGigNotOrderable(t *testing.T) {
	service, m := newTestService()

	gig := testGig()
	gig.Status = models.GigStatusPaused
	m.gigs.On("GetByID", mock.Anything, uint(7)).Return(gig, nil)

	_, err := service.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:     10,
		GigID:       7,
		PackageName: "basic",
	})

	require.ErrorIs(t, err, models.ErrGigNotAvailable)
	require.Equal(t, 0, m.uow.calls)
	m.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateOrderUnknownPackage(t *testing.T) {
	service, m := newTestService()

	m.gigs.On("GetByID", mock.Anything, uint(7)).Return(testGig(), nil)

	_, err := service.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:     10,
		GigID:       7,
		PackageName: "enterprise",
	})

	require.ErrorIs(t, err, models.ErrInvalidPackage)
	require.Equal(t, 0, m.uow.calls)
}

func TestCreateOrderRegeneratesNumberOnCollision(t *testing.T) {
	service, m := newTestService()

	m.gigs.On("GetByID", mock.Anything, uint(7)).Return(testGig(), nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)
	// First candidate number is already taken, the second is free
	m.orders.On("ExistsByNumber", mock.Anything, mock.AnythingOfType("string")).Return(true, nil).Once()
	m.orders.On("ExistsByNumber", mock.Anything, mock.AnythingOfType("string")).Return(false, nil).Once()
	m.orders.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Order")).
		Run(func(args mock.Arguments) {
			args.Get(2).(*models.Order).ID = 44
		}).Return(nil)
	m.history.On("Append", mock.Anything, mock.Anything, mock.AnythingOfType("*models.OrderStatusHistory")).Return(nil)
	m.gigs.On("IncrementOrderStats", mock.Anything, mock.Anything, uint(7), testNow).Return(nil)
	m.profile.On("ApplyCounterDelta", mock.Anything, mock.Anything, uint(3), 0, 1).Return(nil)
	m.notifs.On("Create", mock.Anything, mock.AnythingOfType("*models.Notification")).Return(nil)
	m.history.On("ListByOrder", mock.Anything, uint(44)).Return([]models.OrderStatusHistory{}, nil)

	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		BuyerID:     10,
		GigID:       7,
		PackageName: "premium",
	})

	require.NoError(t, err)
	require.Equal(t, 250.0, order.TotalPrice)
	require.Equal(t, 1, m.uow.calls)
	m.orders.AssertNumberOfCalls(t, "ExistsByNumber", 2)
}

func pendingOrder() *models.Order {
	return &models.Order{
		ID:              42,
		OrderNumber:     "ORD-20250310-AAAA1111",
		BuyerID:         10,
		SellerProfileID: 3,
		GigID:           7,
		Status:          models.OrderStatusPending,
		TotalPrice:      100,
	}
}

func TestTransitionOrderSellerAccepts(t *testing.T) {
	service, m := newTestService()

	m.orders.On("GetByID", mock.Anything, uint(42)).Return(pendingOrder(), nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)
	m.orders.On("ApplyTransition", mock.Anything, mock.Anything, uint(42), models.OrderStatusPending,
		mock.AnythingOfType("map[string]interface {}")).Return(true, nil)
	m.history.On("Append", mock.Anything, mock.Anything, mock.MatchedBy(func(r *models.OrderStatusHistory) bool {
		return r.OrderID == 42 && r.Status == models.OrderStatusAccepted && r.ActorID != nil && *r.ActorID == 30
	})).Return(nil)
	// Entering the active set bumps the seller's active counter
	m.profile.On("ApplyCounterDelta", mock.Anything, mock.Anything, uint(3), 1, 0).Return(nil)
	m.notifs.On("Create", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
		return n.RecipientID == 10 && n.Category == EventOrderAccepted
	})).Return(nil)

	order, err := service.TransitionOrder(context.Background(), 42, 30, models.OrderStatusAccepted, "")

	require.NoError(t, err)
	require.Equal(t, models.OrderStatusAccepted, order.Status)
	require.Nil(t, order.CompletedAt)
	require.Nil(t, order.CancelledAt)
	m.history.AssertExpectations(t)
	m.profile.AssertExpectations(t)
	m.notifs.AssertExpectations(t)
}

func TestTransitionOrderBuyerCancelsAccepted(t *testing.T) {
	service, m := newTestService()

	order := pendingOrder()
	order.Status = models.OrderStatusAccepted
	m.orders.On("GetByID", mock.Anything, uint(42)).Return(order, nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)
	m.orders.On("ApplyTransition", mock.Anything, mock.Anything, uint(42), models.OrderStatusAccepted,
		mock.MatchedBy(func(updates map[string]interface{}) bool {
			return updates["status"] == models.OrderStatusCancelled &&
				updates["cancellation_reason"] == "found another seller" &&
				updates["cancelled_at"] == testNow
		})).Return(true, nil)
	m.history.On("Append", mock.Anything, mock.Anything, mock.AnythingOfType("*models.OrderStatusHistory")).Return(nil)
	// Leaving the active set decrements the seller's active counter
	m.profile.On("ApplyCounterDelta", mock.Anything, mock.Anything, uint(3), -1, 0).Return(nil)
	m.notifs.On("Create", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
		return n.RecipientID == 30 && n.Category == EventOrderCancelled
	})).Return(nil)

	result, err := service.TransitionOrder(context.Background(), 42, 10, models.OrderStatusCancelled, "found another seller")

	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCancelled, result.Status)
	require.NotNil(t, result.CancelledAt)
	require.Equal(t, testNow, *result.CancelledAt)
	require.NotNil(t, result.CancellationReason)
	require.Equal(t, "found another seller", *result.CancellationReason)
	m.profile.AssertExpectations(t)
	m.notifs.AssertExpectations(t)
}

func TestTransitionOrderStrangerForbidden(t *testing.T) {
	service, m := newTestService()

	m.orders.On("GetByID", mock.Anything, uint(42)).Return(pendingOrder(), nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)

	_, err := service.TransitionOrder(context.Background(), 42, 99, models.OrderStatusAccepted, "")

	require.ErrorIs(t, err, models.ErrForbidden)
	require.Equal(t, 0, m.uow.calls)
}

func TestTransitionOrderIllegalEdge(t *testing.T) {
	service, m := newTestService()

	m.orders.On("GetByID", mock.Anything, uint(42)).Return(pendingOrder(), nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)

	_, err := service.TransitionOrder(context.Background(), 42, 30, models.OrderStatusCompleted, "")

	require.ErrorIs(t, err, models.ErrInvalidTransition)
	require.Equal(t, 0, m.uow.calls)
}

func TestTransitionOrderConflictAfterRetry(t *testing.T) {
	service, m := newTestService()

	m.orders.On("GetByID", mock.Anything, uint(42)).Return(pendingOrder(), nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)
	// Both attempts lose the guarded update race
	m.orders.On("ApplyTransition", mock.Anything, mock.Anything, uint(42), models.OrderStatusPending,
		mock.AnythingOfType("map[string]interface {}")).Return(false, nil)

	_, err := service.TransitionOrder(context.Background(), 42, 30, models.OrderStatusAccepted, "")

	require.ErrorIs(t, err, models.ErrConflict)
	require.Equal(t, 2, m.uow.calls)
	m.history.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)
	m.profile.AssertNotCalled(t, "ApplyCounterDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTransitionOrderRetriesOnceAfterLostRace(t *testing.T) {
	service, m := newTestService()

	m.orders.On("GetByID", mock.Anything, uint(42)).Return(pendingOrder(), nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)
	m.orders.On("ApplyTransition", mock.Anything, mock.Anything, uint(42), models.OrderStatusPending,
		mock.AnythingOfType("map[string]interface {}")).Return(false, nil).Once()
	m.orders.On("ApplyTransition", mock.Anything, mock.Anything, uint(42), models.OrderStatusPending,
		mock.AnythingOfType("map[string]interface {}")).Return(true, nil).Once()
	m.history.On("Append", mock.Anything, mock.Anything, mock.AnythingOfType("*models.OrderStatusHistory")).Return(nil)
	m.profile.On("ApplyCounterDelta", mock.Anything, mock.Anything, uint(3), 1, 0).Return(nil)
	m.notifs.On("Create", mock.Anything, mock.AnythingOfType("*models.Notification")).Return(nil)

	order, err := service.TransitionOrder(context.Background(), 42, 30, models.OrderStatusAccepted, "")

	require.NoError(t, err)
	require.Equal(t, models.OrderStatusAccepted, order.Status)
	require.Equal(t, 2, m.uow.calls)
}

func TestCancelOrderTerminalState(t *testing.T) {
	service, m := newTestService()

	order := pendingOrder()
	order.Status = models.OrderStatusCompleted
	m.orders.On("GetByID", mock.Anything, uint(42)).Return(order, nil)

	_, err := service.CancelOrder(context.Background(), 42, 10, "too late")

	require.ErrorIs(t, err, models.ErrInvalidTransition)
	require.Equal(t, 0, m.uow.calls)
}

func TestExtendDelivery(t *testing.T) {
	service, m := newTestService()

	order := pendingOrder()
	order.Status = models.OrderStatusInProgress
	order.DeliveryDeadline = testNow.AddDate(0, 0, 5)
	expected := order.DeliveryDeadline.AddDate(0, 0, 3)

	m.orders.On("GetByID", mock.Anything, uint(42)).Return(order, nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)
	m.orders.On("ExtendDeadline", mock.Anything, mock.Anything, uint(42), models.OrderStatusInProgress, expected).Return(true, nil)
	m.notifs.On("Create", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
		return n.RecipientID == 10 && n.Category == EventOrderExtended
	})).Return(nil)

	result, err := service.ExtendDelivery(context.Background(), 42, 30, 3)

	require.NoError(t, err)
	require.Equal(t, expected, result.DeliveryDeadline)
	require.Equal(t, 1, result.ExtensionCount)
	require.Equal(t, models.OrderStatusInProgress, result.Status)
	m.notifs.AssertExpectations(t)
}

func TestExtendDeliveryLostRace(t *testing.T) {
	service, m := newTestService()

	order := pendingOrder()
	order.Status = models.OrderStatusInProgress
	order.DeliveryDeadline = testNow.AddDate(0, 0, 5)

	m.orders.On("GetByID", mock.Anything, uint(42)).Return(order, nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)
	m.orders.On("ExtendDeadline", mock.Anything, mock.Anything, uint(42), models.OrderStatusInProgress,
		mock.AnythingOfType("time.Time")).Return(false, nil)

	_, err := service.ExtendDelivery(context.Background(), 42, 30, 3)

	require.ErrorIs(t, err, models.ErrConflict)
}

func TestExtendDeliveryBuyerForbidden(t *testing.T) {
	service, m := newTestService()

	order := pendingOrder()
	order.Status = models.OrderStatusInProgress
	m.orders.On("GetByID", mock.Anything, uint(42)).Return(order, nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)

	_, err := service.ExtendDelivery(context.Background(), 42, 10, 3)

	require.ErrorIs(t, err, models.ErrForbidden)
	require.Equal(t, 0, m.uow.calls)
}

func TestProcessDeliveryMessage(t *testing.T) {
	service, m := newTestService()

	m.inbox.On("MarkDeliveredForEvent", mock.Anything, uint(42), EventOrderAccepted).Return(int64(1), nil)

	message := &azservicebus.ReceivedMessage{
		Body: []byte(`{"order_id":42,"buyer_id":10,"seller_profile_id":3,"order_number":"ORD-20250310-AAAA1111","event_kind":"order.accepted"}`),
	}

	err := service.ProcessDeliveryMessage(context.Background(), message)

	require.NoError(t, err)
	m.inbox.AssertExpectations(t)
}

func TestProcessDeliveryMessageBadPayload(t *testing.T) {
	service, m := newTestService()

	message := &azservicebus.ReceivedMessage{Body: []byte("not json")}

	err := service.ProcessDeliveryMessage(context.Background(), message)

	require.Error(t, err)
	m.inbox.AssertNotCalled(t, "MarkDeliveredForEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileCounters(t *testing.T) {
	service, m := newTestService()

	m.profile.On("RecalculateActiveOrders", mock.Anything).Return(int64(2), nil)

	err := service.ReconcileCounters(context.Background())

	require.NoError(t, err)
	m.profile.AssertExpectations(t)
}

func TestSystemActorMayTransition(t *testing.T) {
	service, m := newTestService()

	order := pendingOrder()
	order.Status = models.OrderStatusDisputed
	m.orders.On("GetByID", mock.Anything, uint(42)).Return(order, nil)
	m.profile.On("GetByID", mock.Anything, uint(3)).Return(testProfile(), nil)
	m.orders.On("ApplyTransition", mock.Anything, mock.Anything, uint(42), models.OrderStatusDisputed,
		mock.AnythingOfType("map[string]interface {}")).Return(true, nil)
	// System-initiated audit rows carry no actor
	m.history.On("Append", mock.Anything, mock.Anything, mock.MatchedBy(func(r *models.OrderStatusHistory) bool {
		return r.Status == models.OrderStatusCancelled && r.ActorID == nil
	})).Return(nil)
	m.profile.On("ApplyCounterDelta", mock.Anything, mock.Anything, uint(3), -1, 0).Return(nil)
	m.notifs.On("Create", mock.Anything, mock.AnythingOfType("*models.Notification")).Return(nil)

	result, err := service.TransitionOrder(context.Background(), 42, 0, models.OrderStatusCancelled, "dispute resolved against seller")

	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCancelled, result.Status)
	m.history.AssertExpectations(t)
}
