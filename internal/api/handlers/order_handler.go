package handlers

import (
	"net/http"
	"strconv"

	"example.com/marketplace/services/orders/internal/models"
	"example.com/marketplace/services/orders/internal/services"
	"example.com/marketplace/services/orders/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultListLimit = 50

// OrderHandler handles order-related HTTP requests
type OrderHandler struct {
	orderService *services.OrderService
	tracer       tracing.Tracer
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orderService *services.OrderService, tracer tracing.Tracer) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		tracer:       tracer,
	}
}

// CreateOrderRequest represents an incoming order creation request
type CreateOrderRequest struct {
	BuyerID         uint   `json:"buyer_id" binding:"required"`
	GigID           uint   `json:"gig_id" binding:"required"`
	PackageName     string `json:"package_name" binding:"required"`
	ExpressDelivery bool   `json:"express_delivery"`
	Requirements    string `json:"requirements"`
	OriginChannel   string `json:"origin_channel"`
}

// TransitionRequest represents a status transition request
type TransitionRequest struct {
	UserID uint               `json:"user_id" binding:"required"`
	Status models.OrderStatus `json:"status" binding:"required"`
	Reason string             `json:"reason"`
}

// CancelRequest represents a cancellation request
type CancelRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

// ExtendRequest represents a delivery extension request
type ExtendRequest struct {
	UserID uint `json:"user_id" binding:"required"`
	Days   int  `json:"days" binding:"required"`
}

// HandleCreateOrder places a new order
func (h *OrderHandler) HandleCreateOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-order")
	defer h.tracer.EndTransaction(txn)

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "gig_id", req.GigID)
	h.tracer.AddAttribute(txn, "buyer_id", req.BuyerID)

	order, err := h.orderService.CreateOrder(c.Request.Context(), services.CreateOrderInput{
		BuyerID:         req.BuyerID,
		GigID:           req.GigID,
		PackageName:     req.PackageName,
		ExpressDelivery: req.ExpressDelivery,
		Requirements:    req.Requirements,
		OriginChannel:   req.OriginChannel,
		ClientIP:        c.ClientIP(),
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// HandleTransitionOrder applies a status transition
func (h *OrderHandler) HandleTransitionOrder(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.TransitionOrder(c.Request.Context(), orderID, req.UserID, req.Status, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// HandleCancelOrder cancels an order
func (h *OrderHandler) HandleCancelOrder(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.CancelOrder(c.Request.Context(), orderID, req.UserID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// HandleExtendDelivery grants a delivery extension
func (h *OrderHandler) HandleExtendDelivery(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.ExtendDelivery(c.Request.Context(), orderID, req.UserID, req.Days)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// HandleGetOrder returns an order with its audit trail
func (h *OrderHandler) HandleGetOrder(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// HandleGetOrderHistory returns an order's audit trail
func (h *OrderHandler) HandleGetOrderHistory(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	history, err := h.orderService.GetOrderHistory(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

// HandleListOrders lists orders for a buyer or a seller
func (h *OrderHandler) HandleListOrders(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var orders []models.Order
	switch c.Query("role") {
	case "seller":
		orders, err = h.orderService.ListSellerOrders(c.Request.Context(), uint(userID), limit)
	default:
		orders, err = h.orderService.ListBuyerOrders(c.Request.Context(), uint(userID), limit)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) orderIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return uint(id), true
}

func (h *OrderHandler) respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Order request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// statusForError maps domain errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrGigNotAvailable),
		errors.Is(err, models.ErrInvalidPackage),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// RegisterRoutes registers the handler's routes
func (h *OrderHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/orders", h.HandleCreateOrder)
	api.GET("/orders", h.HandleListOrders)
	api.GET("/orders/:id", h.HandleGetOrder)
	api.GET("/orders/:id/history", h.HandleGetOrderHistory)
	api.POST("/orders/:id/transition", h.HandleTransitionOrder)
	api.POST("/orders/:id/cancel", h.HandleCancelOrder)
	api.POST("/orders/:id/extend", h.HandleExtendDelivery)
}
