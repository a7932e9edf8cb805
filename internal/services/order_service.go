package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"example.com/marketplace/services/orders/internal/cache"
	"example.com/marketplace/services/orders/internal/messaging"
	"example.com/marketplace/services/orders/internal/metrics"
	"example.com/marketplace/services/orders/internal/models"
	"example.com/marketplace/services/orders/internal/repositories"
	"example.com/marketplace/services/orders/internal/search"
	"example.com/marketplace/services/orders/internal/tracing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// orderNumberAttempts bounds regeneration on order-number collisions
const orderNumberAttempts = 3

// expressPriceFactor multiplies the base package price for express delivery
const expressPriceFactor = 1.5

// orderCacheTTL bounds staleness of the order display cache between
// invalidations
const orderCacheTTL = 5 * time.Minute

// UnitOfWork runs a function inside one atomic database transaction.
// Satisfied by *gorm.DB.
type UnitOfWork interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

// GigStore is the catalog access the coordinator needs
type GigStore interface {
	GetByID(ctx context.Context, id uint) (*models.Gig, error)
	IncrementOrderStats(ctx context.Context, tx *gorm.DB, gigID uint, orderedAt time.Time) error
}

// ProfileStore is the seller profile access the coordinator needs
type ProfileStore interface {
	GetByID(ctx context.Context, id uint) (*models.SellerProfile, error)
	GetByUserID(ctx context.Context, userID uint) (*models.SellerProfile, error)
	ApplyCounterDelta(ctx context.Context, tx *gorm.DB, profileID uint, activeDelta, lifetimeDelta int) error
	RecalculateActiveOrders(ctx context.Context) (int64, error)
}

// OrderStore is the order persistence the coordinator needs
type OrderStore interface {
	Create(ctx context.Context, tx *gorm.DB, order *models.Order) error
	GetByID(ctx context.Context, id uint) (*models.Order, error)
	GetWithHistory(ctx context.Context, id uint) (*models.Order, error)
	ExistsByNumber(ctx context.Context, number string) (bool, error)
	ApplyTransition(ctx context.Context, tx *gorm.DB, orderID uint, from models.OrderStatus, updates map[string]interface{}) (bool, error)
	ExtendDeadline(ctx context.Context, tx *gorm.DB, orderID uint, status models.OrderStatus, deadline time.Time) (bool, error)
	ListForBuyer(ctx context.Context, buyerID uint, limit int) ([]models.Order, error)
	ListForSeller(ctx context.Context, profileID uint, limit int) ([]models.Order, error)
}

// HistoryStore is the audit trail access the coordinator needs
type HistoryStore interface {
	Append(ctx context.Context, tx *gorm.DB, record *models.OrderStatusHistory) error
	ListByOrder(ctx context.Context, orderID uint) ([]models.OrderStatusHistory, error)
}

// InboxStore is the notification access the read side and the worker need
type InboxStore interface {
	ListInbox(ctx context.Context, recipientID uint, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID uint) error
	MarkDeliveredForEvent(ctx context.Context, orderID uint, category string) (int64, error)
}

// OrderService coordinates the order lifecycle: it owns the transactional
// boundary around order row, audit row and counter deltas, and sequences
// the best-effort fan-out after commit. All order mutations go through it.
type OrderService struct {
	uow         UnitOfWork
	orderRepo   OrderStore
	gigRepo     GigStore
	profileRepo ProfileStore
	historyRepo HistoryStore
	inboxRepo   InboxStore
	notifier    *Notifier
	machine     *StateMachine
	cache       *cache.RedisCache
	metrics     *metrics.Metrics
	tracer      tracing.Tracer
	now         func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	redisCache *cache.RedisCache,
	elasticClient *search.ElasticClient,
	bus messaging.ServiceBusClient,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *OrderService {
	notificationRepo := repositories.NewNotificationRepository(db, readOnlyDB)

	return &OrderService{
		uow:         db,
		orderRepo:   repositories.NewOrderRepository(db, readOnlyDB),
		gigRepo:     repositories.NewGigRepository(db, readOnlyDB),
		profileRepo: repositories.NewProfileRepository(db, readOnlyDB),
		historyRepo: repositories.NewHistoryRepository(db, readOnlyDB),
		inboxRepo:   notificationRepo,
		notifier:    NewNotifier(notificationRepo, bus, elasticClient, metricsCollector),
		machine:     NewStateMachine(),
		cache:       redisCache,
		metrics:     metricsCollector,
		tracer:      tracer,
		now:         time.Now,
	}
}

// CreateOrderInput carries a buyer's order creation request
type CreateOrderInput struct {
	BuyerID         uint
	GigID           uint
	PackageName     string
	ExpressDelivery bool
	Requirements    string
	OriginChannel   string
	ClientIP        string
}

// CreateOrder places a new order against a gig. The order row, the initial
// audit row and the catalog/profile counter bumps commit as one atomic
// transaction; notifications and the delivery job follow best-effort.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	txn := s.tracer.StartTransaction("create-order")
	defer s.tracer.EndTransaction(txn)
	start := s.now()

	gig, err := s.gigRepo.GetByID(ctx, input.GigID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	if gig.Status != models.GigStatusActive {
		return nil, errors.Wrapf(models.ErrGigNotAvailable, "gig %d is %s", gig.ID, gig.Status)
	}

	pkg := gig.PackageByName(input.PackageName)
	if pkg == nil {
		return nil, errors.Wrapf(models.ErrInvalidPackage, "gig %d has no package %q", gig.ID, input.PackageName)
	}

	profile, err := s.profileRepo.GetByID(ctx, gig.SellerProfileID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	now := s.now()
	order := s.buildOrder(input, gig, pkg, now)

	created := false
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.OrderNumber = generateOrderNumber(now)

		taken, err := s.orderRepo.ExistsByNumber(ctx, order.OrderNumber)
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, err
		}
		if taken {
			continue
		}

		err = s.uow.Transaction(func(tx *gorm.DB) error {
			if err := s.orderRepo.Create(ctx, tx, order); err != nil {
				return err
			}
			actorID := input.BuyerID
			if err := s.historyRepo.Append(ctx, tx, &models.OrderStatusHistory{
				OrderID: order.ID,
				Status:  models.OrderStatusPending,
				ActorID: &actorID,
			}); err != nil {
				return errors.Wrap(err, "failed to append initial audit record")
			}
			if err := s.gigRepo.IncrementOrderStats(ctx, tx, gig.ID, now); err != nil {
				return err
			}
			// Lifetime counter moves at creation; the active counter waits
			// until the order leaves PENDING for an active state
			return s.profileRepo.ApplyCounterDelta(ctx, tx, profile.ID, 0, 1)
		})
		if err == nil {
			created = true
			break
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the uniqueness race to a concurrent creation; regenerate
			order.ID = 0
			continue
		}
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "order creation transaction failed")
	}
	if !created {
		err := errors.New("failed to allocate a unique order number")
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Uint("buyer_id", order.BuyerID).
		Uint("gig_id", order.GigID).
		Float64("total_price", order.TotalPrice).
		Msg("Order created")

	s.notifier.OrderCreated(ctx, order, gig, profile.UserID)

	s.metrics.IncrementCounter("orders_created")
	s.metrics.RecordTimer("create_order", s.now().Sub(start))

	history, err := s.historyRepo.ListByOrder(ctx, order.ID)
	if err != nil {
		log.Warn().Err(err).Uint("order_id", order.ID).Msg("Failed to load audit trail for response")
	} else {
		order.History = history
	}

	return order, nil
}

// TransitionOrder applies a requested status change to an order on behalf of
// the acting user. A lost race against a concurrent transition is retried
// once against re-read state; a second loss surfaces as ErrConflict.
func (s *OrderService) TransitionOrder(ctx context.Context, orderID, actingUserID uint, requested models.OrderStatus, reason string) (*models.Order, error) {
	txn := s.tracer.StartTransaction("transition-order")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "order_id", orderID)
	s.tracer.AddAttribute(txn, "requested_status", string(requested))

	for attempt := 0; attempt < 2; attempt++ {
		order, err := s.orderRepo.GetByID(ctx, orderID)
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, err
		}

		role, sellerUserID, err := s.resolveRole(ctx, order, actingUserID)
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, err
		}

		result, err := s.machine.Validate(order.Status, requested, role, reason, s.now())
		if err != nil {
			return nil, err
		}

		applied := false
		err = s.uow.Transaction(func(tx *gorm.DB) error {
			ok, err := s.orderRepo.ApplyTransition(ctx, tx, order.ID, order.Status, transitionUpdates(result))
			if err != nil {
				return err
			}
			if !ok {
				// Another transition committed first; abort and re-validate
				return nil
			}
			applied = true

			if err := s.historyRepo.Append(ctx, tx, &models.OrderStatusHistory{
				OrderID: order.ID,
				Status:  result.Status,
				ActorID: actorIDFor(role, actingUserID),
			}); err != nil {
				return errors.Wrap(err, "failed to append audit record")
			}

			if result.ActiveDelta != 0 {
				return s.profileRepo.ApplyCounterDelta(ctx, tx, order.SellerProfileID, result.ActiveDelta, 0)
			}
			return nil
		})
		if err != nil {
			s.tracer.RecordError(txn, err)
			return nil, errors.Wrap(err, "transition transaction failed")
		}
		if !applied {
			s.metrics.IncrementCounter("transition_conflicts")
			continue
		}

		applyTransitionFields(order, result)

		log.Info().
			Str("order_number", order.OrderNumber).
			Str("status", string(result.Status)).
			Str("role", string(role)).
			Msg("Order transitioned")

		s.notifier.OrderTransitioned(ctx, order, s.counterpartyID(order, role, sellerUserID), EventKindFor(result.Status))
		s.invalidateOrderCache(ctx, order.ID)
		s.metrics.IncrementCounter("orders_transitioned")

		return order, nil
	}

	return nil, errors.Wrapf(models.ErrConflict, "order %d transition to %s lost a concurrent race", orderID, requested)
}

// CancelOrder is a thin wrapper over TransitionOrder to CANCELLED that
// additionally rejects orders already in a terminal state.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, actingUserID uint, reason string) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, &models.InvalidTransitionError{From: order.Status, To: models.OrderStatusCancelled}
	}

	return s.TransitionOrder(ctx, orderID, actingUserID, models.OrderStatusCancelled, reason)
}

// ExtendDelivery grants a delivery extension: the deadline moves forward and
// the extension counter increments, with no status change and no audit row.
func (s *OrderService) ExtendDelivery(ctx context.Context, orderID, actingUserID uint, days int) (*models.Order, error) {
	txn := s.tracer.StartTransaction("extend-delivery")
	defer s.tracer.EndTransaction(txn)

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	role, _, err := s.resolveRole(ctx, order, actingUserID)
	if err != nil {
		return nil, err
	}

	newDeadline, err := s.machine.ExtendDeadline(order.Status, role, order.DeliveryDeadline, days)
	if err != nil {
		return nil, err
	}

	applied := false
	err = s.uow.Transaction(func(tx *gorm.DB) error {
		ok, err := s.orderRepo.ExtendDeadline(ctx, tx, order.ID, order.Status, newDeadline)
		if err != nil {
			return err
		}
		applied = ok
		return nil
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "extension transaction failed")
	}
	if !applied {
		return nil, errors.Wrapf(models.ErrConflict, "order %d changed state during extension", orderID)
	}

	order.DeliveryDeadline = newDeadline
	order.ExtensionCount++

	log.Info().
		Str("order_number", order.OrderNumber).
		Time("delivery_deadline", newDeadline).
		Int("extension_count", order.ExtensionCount).
		Msg("Delivery deadline extended")

	s.notifier.DeadlineExtended(ctx, order)
	s.invalidateOrderCache(ctx, order.ID)
	s.metrics.IncrementCounter("delivery_extensions")

	return order, nil
}

// GetOrder returns an order with its audit trail, read through the display
// cache. The cache never feeds write decisions and is invalidated on every
// mutation.
func (s *OrderService) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	if s.cache != nil {
		var cached models.Order
		if err := s.cache.Get(ctx, cache.GetOrderCacheKey(id), &cached); err == nil {
			return &cached, nil
		}
	}

	order, err := s.orderRepo.GetWithHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.GetOrderCacheKey(id), order, orderCacheTTL); err != nil {
			log.Debug().Err(err).Uint("order_id", id).Msg("Failed to cache order")
		}
	}

	return order, nil
}

// GetOrderHistory returns the order's audit trail in timestamp order
func (s *OrderService) GetOrderHistory(ctx context.Context, orderID uint) ([]models.OrderStatusHistory, error) {
	if _, err := s.orderRepo.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.historyRepo.ListByOrder(ctx, orderID)
}

// ListBuyerOrders lists a buyer's orders, newest first
func (s *OrderService) ListBuyerOrders(ctx context.Context, buyerID uint, limit int) ([]models.Order, error) {
	return s.orderRepo.ListForBuyer(ctx, buyerID, limit)
}

// ListSellerOrders lists the work queue of the seller behind the given user
func (s *OrderService) ListSellerOrders(ctx context.Context, sellerUserID uint, limit int) ([]models.Order, error) {
	profile, err := s.profileRepo.GetByUserID(ctx, sellerUserID)
	if err != nil {
		return nil, err
	}
	return s.orderRepo.ListForSeller(ctx, profile.ID, limit)
}

// ListNotifications lists a recipient's inbox, newest first
func (s *OrderService) ListNotifications(ctx context.Context, recipientID uint, limit int) ([]models.Notification, error) {
	return s.inboxRepo.ListInbox(ctx, recipientID, limit)
}

// MarkNotificationRead marks one notification read for its recipient
func (s *OrderService) MarkNotificationRead(ctx context.Context, id, recipientID uint) error {
	return s.inboxRepo.MarkRead(ctx, id, recipientID)
}

// ProcessDeliveryMessage handles one deferred delivery job from the queue,
// marking the event's notification records delivered
func (s *OrderService) ProcessDeliveryMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var job models.DeliveryJob
	if err := json.Unmarshal(message.Body, &job); err != nil {
		return errors.Wrap(err, "failed to unmarshal delivery job")
	}

	delivered, err := s.inboxRepo.MarkDeliveredForEvent(ctx, job.OrderID, job.EventKind)
	if err != nil {
		return errors.Wrap(err, "failed to mark notifications delivered")
	}

	log.Info().
		Str("order_number", job.OrderNumber).
		Str("event", job.EventKind).
		Int64("notifications", delivered).
		Msg("Delivery job processed")

	s.metrics.IncrementCounter("delivery_jobs_processed")
	return nil
}

// ReconcileCounters recomputes seller active-order counters from the orders
// table and repairs drift. Defense in depth: the transactional deltas are
// the mechanism of record, so any repair here is reported as an anomaly.
func (s *OrderService) ReconcileCounters(ctx context.Context) error {
	txn := s.tracer.StartTransaction("reconcile-counters")
	defer s.tracer.EndTransaction(txn)

	repaired, err := s.profileRepo.RecalculateActiveOrders(ctx)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return err
	}

	if repaired > 0 {
		log.Warn().Int64("profiles_repaired", repaired).Msg("Active-order counter drift detected and repaired")
		s.metrics.IncrementCounterBy("counter_drift_repairs", repaired)
	} else {
		log.Info().Msg("Active-order counters consistent")
	}

	return nil
}

// resolveRole determines which party to the order the acting user is. A zero
// acting user denotes a system actor (cron, queue worker).
func (s *OrderService) resolveRole(ctx context.Context, order *models.Order, actingUserID uint) (models.Role, uint, error) {
	profile, err := s.profileRepo.GetByID(ctx, order.SellerProfileID)
	if err != nil {
		return models.RoleNone, 0, err
	}

	if actingUserID == 0 {
		return models.RoleSystem, profile.UserID, nil
	}

	role := order.PartyRole(actingUserID, profile.UserID)
	if role == models.RoleNone {
		return models.RoleNone, 0, errors.Wrapf(models.ErrForbidden, "user %d is not a party to order %d", actingUserID, order.ID)
	}
	return role, profile.UserID, nil
}

// counterpartyID picks the notification recipient opposite the actor
func (s *OrderService) counterpartyID(order *models.Order, actorRole models.Role, sellerUserID uint) uint {
	if actorRole == models.RoleBuyer {
		return sellerUserID
	}
	return order.BuyerID
}

func (s *OrderService) invalidateOrderCache(ctx context.Context, orderID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.GetOrderCacheKey(orderID)); err != nil {
		log.Debug().Err(err).Uint("order_id", orderID).Msg("Failed to invalidate order cache")
	}
}

func (s *OrderService) buildOrder(input CreateOrderInput, gig *models.Gig, pkg *models.GigPackage, now time.Time) *models.Order {
	total := pkg.Price
	var priorityFee *float64
	urgencyLevel := 0
	priorityRank := 0
	if input.ExpressDelivery {
		fee := pkg.Price / 2
		total = pkg.Price * expressPriceFactor
		priorityFee = &fee
		urgencyLevel = 1
		priorityRank = 10
	}

	leadTime := gig.LeadTimeDays
	if leadTime <= 0 {
		leadTime = models.DefaultLeadTimeDays
	}

	metadata, err := json.Marshal(models.OrderMetadata{
		OriginChannel: input.OriginChannel,
		ClientIP:      input.ClientIP,
		Requirements:  input.Requirements,
	})
	if err != nil {
		metadata = nil
	}

	return &models.Order{
		BuyerID:          input.BuyerID,
		SellerProfileID:  gig.SellerProfileID,
		GigID:            gig.ID,
		PackageName:      pkg.Name,
		TotalPrice:       total,
		PriorityFee:      priorityFee,
		Currency:         models.DefaultCurrency,
		Status:           models.OrderStatusPending,
		ExpressDelivery:  input.ExpressDelivery,
		IsUrgent:         input.ExpressDelivery,
		UrgencyLevel:     urgencyLevel,
		PriorityRank:     priorityRank,
		DeliveryDeadline: now.AddDate(0, 0, leadTime),
		Metadata:         metadata,
	}
}

// generateOrderNumber builds a date-stamped order number with a random
// suffix, e.g. ORD-20250114-9F2C41AB. Uniqueness is enforced by the unique
// index; collisions regenerate.
func generateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

// transitionUpdates maps the state machine's derived fields onto the guarded
// order update
func transitionUpdates(result *TransitionResult) map[string]interface{} {
	updates := map[string]interface{}{
		"status": result.Status,
	}
	if result.CompletedAt != nil {
		updates["completed_at"] = *result.CompletedAt
	}
	if result.CancelledAt != nil {
		updates["cancelled_at"] = *result.CancelledAt
	}
	if result.CancellationReason != nil {
		updates["cancellation_reason"] = *result.CancellationReason
	}
	return updates
}

func applyTransitionFields(order *models.Order, result *TransitionResult) {
	order.Status = result.Status
	if result.CompletedAt != nil {
		order.CompletedAt = result.CompletedAt
	}
	if result.CancelledAt != nil {
		order.CancelledAt = result.CancelledAt
	}
	if result.CancellationReason != nil {
		order.CancellationReason = result.CancellationReason
	}
}

func actorIDFor(role models.Role, actingUserID uint) *uint {
	if role == models.RoleSystem {
		// System-initiated changes carry no acting party
		return nil
	}
	id := actingUserID
	return &id
}
