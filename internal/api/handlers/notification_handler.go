package handlers

import (
	"net/http"
	"strconv"

	"example.com/marketplace/services/orders/internal/services"

	"github.com/gin-gonic/gin"
)

// NotificationHandler handles notification inbox requests
type NotificationHandler struct {
	orderService *services.OrderService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(orderService *services.OrderService) *NotificationHandler {
	return &NotificationHandler{orderService: orderService}
}

// HandleListNotifications lists a recipient's inbox
func (h *NotificationHandler) HandleListNotifications(c *gin.Context) {
	recipientID, err := strconv.ParseUint(c.Query("recipient_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipient_id"})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	notifications, err := h.orderService.ListNotifications(c.Request.Context(), uint(recipientID), limit)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, notifications)
}

// HandleMarkRead marks one notification read
func (h *NotificationHandler) HandleMarkRead(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	var req struct {
		RecipientID uint `json:"recipient_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orderService.MarkNotificationRead(c.Request.Context(), uint(id), req.RecipientID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RegisterRoutes registers the handler's routes
func (h *NotificationHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/notifications", h.HandleListNotifications)
	api.POST("/notifications/:id/read", h.HandleMarkRead)
}
