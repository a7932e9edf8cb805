package services

import (
	"context"
	"fmt"

	"example.com/marketplace/services/orders/internal/messaging"
	"example.com/marketplace/services/orders/internal/metrics"
	"example.com/marketplace/services/orders/internal/models"
	"example.com/marketplace/services/orders/internal/search"

	"github.com/rs/zerolog/log"
)

// Order event kinds carried on notifications and delivery jobs
const (
	EventOrderCreated   = "order.created"
	EventOrderAccepted  = "order.accepted"
	EventOrderStarted   = "order.started"
	EventOrderDelivered = "order.delivered"
	EventOrderDisputed  = "order.disputed"
	EventOrderCompleted = "order.completed"
	EventOrderCancelled = "order.cancelled"
	EventOrderRejected  = "order.rejected"
	EventOrderExtended  = "order.extended"
)

var statusEventKinds = map[models.OrderStatus]string{
	models.OrderStatusPending:    EventOrderCreated,
	models.OrderStatusAccepted:   EventOrderAccepted,
	models.OrderStatusInProgress: EventOrderStarted,
	models.OrderStatusDelivered:  EventOrderDelivered,
	models.OrderStatusDisputed:   EventOrderDisputed,
	models.OrderStatusCompleted:  EventOrderCompleted,
	models.OrderStatusCancelled:  EventOrderCancelled,
	models.OrderStatusRejected:   EventOrderRejected,
}

// EventKindFor maps an order status to its notification event kind
func EventKindFor(status models.OrderStatus) string {
	if kind, ok := statusEventKinds[status]; ok {
		return kind
	}
	return "order.updated"
}

// NotificationStore is the subset of the notification repository the
// fan-out writes through
type NotificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Notifier fans out order events: in-store notification rows for the
// affected parties, a deferred delivery job on the queue, and the reporting
// index update. Everything here is best-effort and runs strictly after the
// core transaction has committed; failures are logged, never returned.
type Notifier struct {
	store   NotificationStore
	bus     messaging.ServiceBusClient
	elastic *search.ElasticClient
	metrics *metrics.Metrics
}

// NewNotifier creates a new notifier. bus and elastic may be nil, in which
// case those hand-offs are skipped.
func NewNotifier(store NotificationStore, bus messaging.ServiceBusClient, elastic *search.ElasticClient, m *metrics.Metrics) *Notifier {
	return &Notifier{
		store:   store,
		bus:     bus,
		elastic: elastic,
		metrics: m,
	}
}

// OrderCreated notifies both parties of a newly placed order
func (n *Notifier) OrderCreated(ctx context.Context, order *models.Order, gig *models.Gig, sellerUserID uint) {
	n.createNotification(ctx, order, order.BuyerID, EventOrderCreated,
		fmt.Sprintf("Your order %s for %q was placed", order.OrderNumber, gig.Title))
	n.createNotification(ctx, order, sellerUserID, EventOrderCreated,
		fmt.Sprintf("New order %s for %q", order.OrderNumber, gig.Title))

	n.enqueue(ctx, order, EventOrderCreated)
	n.index(ctx, order, gig)
}

// OrderTransitioned notifies the counter-party of a status change
func (n *Notifier) OrderTransitioned(ctx context.Context, order *models.Order, recipientID uint, eventKind string) {
	n.createNotification(ctx, order, recipientID, eventKind, transitionContent(order, eventKind))

	n.enqueue(ctx, order, eventKind)
	n.index(ctx, order, nil)
}

// DeadlineExtended notifies the buyer of a granted delivery extension
func (n *Notifier) DeadlineExtended(ctx context.Context, order *models.Order) {
	n.createNotification(ctx, order, order.BuyerID, EventOrderExtended,
		fmt.Sprintf("Delivery of order %s was extended to %s",
			order.OrderNumber, order.DeliveryDeadline.Format("2006-01-02")))

	n.enqueue(ctx, order, EventOrderExtended)
	n.index(ctx, order, nil)
}

func (n *Notifier) createNotification(ctx context.Context, order *models.Order, recipientID uint, eventKind, content string) {
	priority := 0
	if order.IsUrgent {
		priority = 1
	}

	notification := &models.Notification{
		RecipientID: recipientID,
		Category:    eventKind,
		Content:     content,
		OrderID:     order.ID,
		Priority:    priority,
		Channel:     "in_app",
	}

	if err := n.store.Create(ctx, notification); err != nil {
		log.Error().
			Err(err).
			Str("order_number", order.OrderNumber).
			Uint("recipient_id", recipientID).
			Str("event", eventKind).
			Msg("Failed to create notification record")
		n.metrics.IncrementCounter("notification_create_failures")
	}
}

func (n *Notifier) enqueue(ctx context.Context, order *models.Order, eventKind string) {
	if n.bus == nil {
		return
	}

	job := models.DeliveryJob{
		OrderID:         order.ID,
		BuyerID:         order.BuyerID,
		SellerProfileID: order.SellerProfileID,
		OrderNumber:     order.OrderNumber,
		EventKind:       eventKind,
	}

	if err := n.bus.SendMessage(ctx, job); err != nil {
		// Delivery is degraded, not the operation: the order transaction
		// already committed
		log.Warn().
			Err(err).
			Str("order_number", order.OrderNumber).
			Str("event", eventKind).
			Msg("Failed to enqueue delivery job")
		n.metrics.IncrementCounter("delivery_enqueue_failures")
	}
}

func (n *Notifier) index(ctx context.Context, order *models.Order, gig *models.Gig) {
	if n.elastic == nil {
		return
	}

	if err := n.elastic.IndexOrder(ctx, order, gig); err != nil {
		log.Warn().
			Err(err).
			Str("order_number", order.OrderNumber).
			Msg("Failed to index order for reporting")
		n.metrics.IncrementCounter("order_index_failures")
	}
}

func transitionContent(order *models.Order, eventKind string) string {
	switch eventKind {
	case EventOrderAccepted:
		return fmt.Sprintf("Order %s was accepted", order.OrderNumber)
	case EventOrderStarted:
		return fmt.Sprintf("Work on order %s has started", order.OrderNumber)
	case EventOrderDelivered:
		return fmt.Sprintf("Order %s was delivered", order.OrderNumber)
	case EventOrderDisputed:
		return fmt.Sprintf("Order %s was disputed", order.OrderNumber)
	case EventOrderCompleted:
		return fmt.Sprintf("Order %s was completed", order.OrderNumber)
	case EventOrderCancelled:
		reason := ""
		if order.CancellationReason != nil {
			reason = ": " + *order.CancellationReason
		}
		return fmt.Sprintf("Order %s was cancelled%s", order.OrderNumber, reason)
	case EventOrderRejected:
		return fmt.Sprintf("Order %s was declined", order.OrderNumber)
	}
	return fmt.Sprintf("Order %s was updated", order.OrderNumber)
}
