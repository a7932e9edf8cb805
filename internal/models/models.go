package models

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order lifecycle states
const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusAccepted   OrderStatus = "ACCEPTED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusDisputed   OrderStatus = "DISPUTED"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRejected   OrderStatus = "REJECTED"
)

// ActiveStatuses are the states that count against a seller's concurrent
// order capacity. Pending is not yet active; terminal states never are.
var ActiveStatuses = []OrderStatus{
	OrderStatusAccepted,
	OrderStatusInProgress,
	OrderStatusDelivered,
	OrderStatusDisputed,
}

// IsActive reports whether the status counts toward seller capacity
func (s OrderStatus) IsActive() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRejected
}

// IsValid reports whether the value is a known status
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAccepted, OrderStatusInProgress,
		OrderStatusDelivered, OrderStatusDisputed, OrderStatusCompleted,
		OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Role identifies which party to an order an actor is
type Role string

// Actor roles
const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
	RoleSystem Role = "SYSTEM"
	RoleNone   Role = "NONE"
)

// GigStatus is the availability state of a gig listing
type GigStatus string

// Gig listing states
const (
	GigStatusActive  GigStatus = "ACTIVE"
	GigStatusPaused  GigStatus = "PAUSED"
	GigStatusRetired GigStatus = "RETIRED"
)

// DefaultLeadTimeDays applies when a gig does not state a lead time
const DefaultLeadTimeDays = 7

// DefaultCurrency is the fixed order currency
const DefaultCurrency = "USD"

// Order is the central entity: a paid work order placed by a buyer against
// a seller's gig. Rows are never deleted; cancellation and rejection are
// terminal statuses, not row removals.
type Order struct {
	ID                 uint                 `gorm:"primaryKey" json:"id"`
	CreatedAt          time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
	OrderNumber        string               `gorm:"not null;uniqueIndex" json:"order_number"`
	BuyerID            uint                 `gorm:"not null;index" json:"buyer_id"`
	SellerProfileID    uint                 `gorm:"not null;index" json:"seller_profile_id"`
	GigID              uint                 `gorm:"not null;index" json:"gig_id"`
	PackageName        string               `gorm:"not null" json:"package_name"`
	TotalPrice         float64              `gorm:"not null" json:"total_price"`
	PriorityFee        *float64             `json:"priority_fee"`
	Currency           string               `gorm:"not null;default:USD" json:"currency"`
	Status             OrderStatus          `gorm:"not null;index" json:"status"`
	ExpressDelivery    bool                 `gorm:"not null;default:false" json:"express_delivery"`
	IsUrgent           bool                 `gorm:"not null;default:false" json:"is_urgent"`
	UrgencyLevel       int                  `gorm:"not null;default:0" json:"urgency_level"`
	PriorityRank       int                  `gorm:"not null;default:0" json:"priority_rank"`
	DeliveryDeadline   time.Time            `gorm:"not null" json:"delivery_deadline"`
	ExtensionCount     int                  `gorm:"not null;default:0" json:"extension_count"`
	CompletedAt        *time.Time           `json:"completed_at"`
	CancelledAt        *time.Time           `json:"cancelled_at"`
	CancellationReason *string              `json:"cancellation_reason"`
	Metadata           []byte               `gorm:"type:jsonb" json:"metadata"`
	History            []OrderStatusHistory `gorm:"foreignKey:OrderID" json:"history,omitempty"`
}

// PartyRole resolves which party to this order the user is. sellerUserID is
// the user behind the order's seller profile.
func (o *Order) PartyRole(userID, sellerUserID uint) Role {
	switch userID {
	case o.BuyerID:
		return RoleBuyer
	case sellerUserID:
		return RoleSeller
	}
	return RoleNone
}

// OrderMetadata is the structured free-form detail captured at creation
type OrderMetadata struct {
	OriginChannel string `json:"origin_channel,omitempty"`
	ClientIP      string `json:"client_ip,omitempty"`
	Requirements  string `json:"requirements,omitempty"`
}

// OrderStatusHistory is the append-only audit trail of status changes.
// Exactly one row is written per committed transition, including the
// initial PENDING row. Rows are never updated or deleted.
type OrderStatusHistory struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time   `gorm:"autoCreateTime;index:idx_order_history,priority:2" json:"created_at"`
	OrderID   uint        `gorm:"not null;index:idx_order_history,priority:1" json:"order_id"`
	Status    OrderStatus `gorm:"not null" json:"status"`
	ActorID   *uint       `json:"actor_id"`
}

// Gig is a priced service listing orders are placed against
type Gig struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
	SellerProfileID uint           `gorm:"not null;index" json:"seller_profile_id"`
	Title           string         `gorm:"not null" json:"title"`
	Status          GigStatus      `gorm:"not null;default:ACTIVE" json:"status"`
	LeadTimeDays    int            `gorm:"not null;default:0" json:"lead_time_days"`
	OrdersCount     int            `gorm:"not null;default:0" json:"orders_count"`
	LastOrderedAt   *time.Time     `json:"last_ordered_at"`
	Packages        []GigPackage   `gorm:"foreignKey:GigID" json:"packages,omitempty"`
}

// PackageByName resolves a package within the gig's price list
func (g *Gig) PackageByName(name string) *GigPackage {
	for i := range g.Packages {
		if g.Packages[i].Name == name {
			return &g.Packages[i]
		}
	}
	return nil
}

// GigPackage is one entry of a gig's price list
type GigPackage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	GigID     uint      `gorm:"not null;uniqueIndex:idx_gig_package,priority:1" json:"gig_id"`
	Name      string    `gorm:"not null;uniqueIndex:idx_gig_package,priority:2" json:"name"`
	Price     float64   `gorm:"not null" json:"price"`
}

// SellerProfile carries the seller's aggregate order counters. ActiveOrders
// must equal the live count of that seller's orders in an active status;
// only the order service mutates it, always inside the owning transaction.
type SellerProfile struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	UserID         uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	DisplayName    string    `json:"display_name"`
	ActiveOrders   int       `gorm:"not null;default:0" json:"active_orders"`
	LifetimeOrders int       `gorm:"not null;default:0" json:"lifetime_orders"`
}

// Notification is one in-store record per (recipient, event)
type Notification struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index:idx_notifications_inbox,priority:2" json:"created_at"`
	RecipientID uint       `gorm:"not null;index:idx_notifications_inbox,priority:1" json:"recipient_id"`
	Category    string     `gorm:"not null" json:"category"`
	Content     string     `gorm:"not null" json:"content"`
	OrderID     uint       `gorm:"not null;index" json:"order_id"`
	Priority    int        `gorm:"not null;default:0" json:"priority"`
	Channel     string     `gorm:"not null;default:in_app" json:"channel"`
	Delivered   bool       `gorm:"not null;default:false" json:"delivered"`
	IsRead      bool       `gorm:"not null;default:false" json:"is_read"`
	RetryCount  int        `gorm:"not null;default:0" json:"retry_count"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// DeliveryJob is the value object handed to the deferred delivery queue.
// It is never persisted by this service.
type DeliveryJob struct {
	OrderID         uint   `json:"order_id"`
	BuyerID         uint   `json:"buyer_id"`
	SellerProfileID uint   `json:"seller_profile_id"`
	OrderNumber     string `json:"order_number"`
	EventKind       string `json:"event_kind"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&SellerProfile{},
		&Gig{},
		&GigPackage{},
		&Order{},
		&OrderStatusHistory{},
		&Notification{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
