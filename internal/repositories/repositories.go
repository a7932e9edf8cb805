package repositories

import (
	"context"
	"time"

	"example.com/marketplace/services/orders/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// GigRepository provides access to gig catalog data
type GigRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewGigRepository creates a new gig repository
func NewGigRepository(db *gorm.DB, readOnlyDB *gorm.DB) *GigRepository {
	return &GigRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets a gig with its price list
func (r *GigRepository) GetByID(ctx context.Context, id uint) (*models.Gig, error) {
	var gig models.Gig
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).Preload("Packages").First(&gig, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(models.ErrNotFound, "gig %d", id)
		}
		return nil, errors.Wrap(err, "failed to get gig by ID")
	}
	return &gig, nil
}

// IncrementOrderStats bumps the gig's lifetime order counter and last-ordered
// timestamp. Relative update: safe under concurrent order creation.
func (r *GigRepository) IncrementOrderStats(ctx context.Context, tx *gorm.DB, gigID uint, orderedAt time.Time) error {
	result := tx.WithContext(ctx).
		Model(&models.Gig{}).
		Where("id = ?", gigID).
		Updates(map[string]interface{}{
			"orders_count":    gorm.Expr("orders_count + 1"),
			"last_ordered_at": orderedAt,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to increment gig order stats")
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(models.ErrNotFound, "gig %d", gigID)
	}
	return nil
}

// ProfileRepository provides access to seller profile data
type ProfileRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ProfileRepository {
	return &ProfileRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets a seller profile by ID
func (r *ProfileRepository) GetByID(ctx context.Context, id uint) (*models.SellerProfile, error) {
	var profile models.SellerProfile
	err := r.readOnlyDB.WithContext(ctx).First(&profile, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(models.ErrNotFound, "seller profile %d", id)
		}
		return nil, errors.Wrap(err, "failed to get seller profile by ID")
	}
	return &profile, nil
}

// GetByUserID gets a seller profile by the user behind it
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID uint) (*models.SellerProfile, error) {
	var profile models.SellerProfile
	err := r.readOnlyDB.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(models.ErrNotFound, "seller profile for user %d", userID)
		}
		return nil, errors.Wrap(err, "failed to get seller profile by user ID")
	}
	return &profile, nil
}

// ApplyCounterDelta applies relative increments to a profile's order
// counters inside the caller's transaction. Never read-modify-write: two
// concurrent transitions for the same seller must both land.
func (r *ProfileRepository) ApplyCounterDelta(ctx context.Context, tx *gorm.DB, profileID uint, activeDelta, lifetimeDelta int) error {
	if activeDelta == 0 && lifetimeDelta == 0 {
		return nil
	}
	result := tx.WithContext(ctx).
		Model(&models.SellerProfile{}).
		Where("id = ?", profileID).
		Updates(map[string]interface{}{
			"active_orders":   gorm.Expr("active_orders + ?", activeDelta),
			"lifetime_orders": gorm.Expr("lifetime_orders + ?", lifetimeDelta),
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to apply profile counter delta")
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(models.ErrNotFound, "seller profile %d", profileID)
	}
	return nil
}

// RecalculateActiveOrders repairs drift between each profile's active-order
// counter and the live count of its active-status orders. Defense in depth
// only: the per-transaction deltas are the mechanism of record.
func (r *ProfileRepository) RecalculateActiveOrders(ctx context.Context) (int64, error) {
	var repaired int64

	result := r.db.WithContext(ctx).Exec(`
		UPDATE seller_profiles sp
		SET active_orders = sub.cnt
		FROM (
			SELECT seller_profile_id, COUNT(*) AS cnt
			FROM orders
			WHERE status IN ?
			GROUP BY seller_profile_id
		) sub
		WHERE sp.id = sub.seller_profile_id AND sp.active_orders <> sub.cnt`,
		models.ActiveStatuses)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to recalculate active order counters")
	}
	repaired += result.RowsAffected

	result = r.db.WithContext(ctx).Exec(`
		UPDATE seller_profiles sp
		SET active_orders = 0
		WHERE sp.active_orders <> 0 AND NOT EXISTS (
			SELECT 1 FROM orders o
			WHERE o.seller_profile_id = sp.id AND o.status IN ?
		)`,
		models.ActiveStatuses)
	if result.Error != nil {
		return repaired, errors.Wrap(result.Error, "failed to zero stale active order counters")
	}
	repaired += result.RowsAffected

	return repaired, nil
}

// OrderRepository provides access to order data
type OrderRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB, readOnlyDB *gorm.DB) *OrderRepository {
	return &OrderRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create inserts a new order inside the caller's transaction
func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	return tx.WithContext(ctx).Create(order).Error
}

// GetByID gets an order from the write database. Transition validation must
// see the latest committed state, so this does not go through the replica.
func (r *OrderRepository) GetByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(models.ErrNotFound, "order %d", id)
		}
		return nil, errors.Wrap(err, "failed to get order by ID")
	}
	return &order, nil
}

// GetWithHistory gets an order with its audit trail for display
func (r *OrderRepository) GetWithHistory(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(models.ErrNotFound, "order %d", id)
		}
		return nil, errors.Wrap(err, "failed to get order with history")
	}
	return &order, nil
}

// ExistsByNumber reports whether an order number is already taken
func (r *OrderRepository) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_number = ?", number).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check order number")
	}
	return count > 0, nil
}

// ApplyTransition updates the order row guarded by the expected current
// status. A zero row count means another transition committed first; the
// caller re-reads and re-validates.
func (r *OrderRepository) ApplyTransition(ctx context.Context, tx *gorm.DB, orderID uint, from models.OrderStatus, updates map[string]interface{}) (bool, error) {
	result := tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to apply order transition")
	}
	return result.RowsAffected > 0, nil
}

// ExtendDeadline moves the delivery deadline forward and bumps the extension
// counter, guarded by the current status so a concurrent terminal transition
// loses no update.
func (r *OrderRepository) ExtendDeadline(ctx context.Context, tx *gorm.DB, orderID uint, status models.OrderStatus, deadline time.Time) (bool, error) {
	result := tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND delivery_deadline < ?", orderID, status, deadline).
		Updates(map[string]interface{}{
			"delivery_deadline": deadline,
			"extension_count":   gorm.Expr("extension_count + 1"),
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to extend delivery deadline")
	}
	return result.RowsAffected > 0, nil
}

// ListForBuyer lists a buyer's orders, newest first
func (r *OrderRepository) ListForBuyer(ctx context.Context, buyerID uint, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders for buyer")
	}
	return orders, nil
}

// ListForSeller lists a seller's orders in work-queue order: priority rank
// first, then nearest deadline
func (r *OrderRepository) ListForSeller(ctx context.Context, profileID uint, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Where("seller_profile_id = ?", profileID).
		Order("priority_rank DESC, delivery_deadline ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders for seller")
	}
	return orders, nil
}

// HistoryRepository provides access to the order audit trail
type HistoryRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *gorm.DB, readOnlyDB *gorm.DB) *HistoryRepository {
	return &HistoryRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Append writes one audit row inside the caller's transaction. The trail is
// append-only: there is deliberately no update or delete here.
func (r *HistoryRepository) Append(ctx context.Context, tx *gorm.DB, record *models.OrderStatusHistory) error {
	return tx.WithContext(ctx).Create(record).Error
}

// ListByOrder returns the order's audit trail in timestamp order
func (r *HistoryRepository) ListByOrder(ctx context.Context, orderID uint) ([]models.OrderStatusHistory, error) {
	var history []models.OrderStatusHistory
	err := r.readOnlyDB.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&history).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list order history")
	}
	return history, nil
}

// NotificationRepository provides access to notification data
type NotificationRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB, readOnlyDB *gorm.DB) *NotificationRepository {
	return &NotificationRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create creates a notification record
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

// ListInbox lists a recipient's notifications, newest first
func (r *NotificationRepository) ListInbox(ctx context.Context, recipientID uint, limit int) ([]models.Notification, error) {
	var notifications []models.Notification
	err := r.readOnlyDB.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list notifications")
	}
	return notifications, nil
}

// MarkRead marks one notification read for its recipient
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID uint) error {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("is_read", true)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to mark notification read")
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(models.ErrNotFound, "notification %d for recipient %d", id, recipientID)
	}
	return nil
}

// MarkDeliveredForEvent marks the notifications of one order event as
// delivered. Called by the worker once the deferred delivery job lands.
func (r *NotificationRepository) MarkDeliveredForEvent(ctx context.Context, orderID uint, category string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("order_id = ? AND category = ? AND delivered = ?", orderID, category, false).
		Update("delivered", true)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to mark notifications delivered")
	}
	return result.RowsAffected, nil
}
