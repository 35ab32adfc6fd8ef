package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/costume-atelier/atelier-api/services"
	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey lets clients retry message creation safely
const HeaderIdempotencyKey = "Idempotency-Key"

// MarkReadRequest represents the request body for marking messages read
type MarkReadRequest struct {
	MessageIDs []uint `json:"messageIds" binding:"required"`
}

// ListMessages handles GET /api/messages - polls a conversation after a cursor
func (h *Handlers) ListMessages(c *gin.Context) {
	var after uint64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(c, "after must be a message id")
			return
		}
		after = v
	}

	list, err := h.Messages.List(c.Request.Context(), services.MessageQuery{
		OrderID:     c.Query("orderId"),
		OrderNumber: c.Query("orderNumber"),
		After:       uint(after),
		Viewer:      strings.ToLower(c.Query("viewer")),
		MessageType: c.Query("messageType"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"success":  true,
		"messages": list.Messages,
		"order":    list.Order,
		"cursor":   list.Cursor,
	})
}

// CreateMessage handles POST /api/messages - stores a message and applies its side effects
func (h *Handlers) CreateMessage(c *gin.Context) {
	var req services.MessageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request data: "+err.Error())
		return
	}

	key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	msg, replay, err := h.Messages.Create(c.Request.Context(), req, key)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if replay {
		status = http.StatusOK
	}
	c.PureJSON(status, gin.H{
		"success": true,
		"message": msg,
	})
}

// MarkMessagesRead handles PUT /api/messages - marks the listed messages read
func (h *Handlers) MarkMessagesRead(c *gin.Context) {
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "messageIds is required")
		return
	}

	n, err := h.Messages.MarkRead(c.Request.Context(), req.MessageIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"modifiedCount": n,
	})
}

// MarkOrderMessagesRead handles PATCH /api/messages?orderId=&readerType=
func (h *Handlers) MarkOrderMessagesRead(c *gin.Context) {
	orderID, ok := requiredQuery(c, "orderId")
	if !ok {
		return
	}

	n, err := h.Messages.MarkOrderRead(c.Request.Context(), orderID, strings.ToLower(c.Query("readerType")))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"modifiedCount": n,
	})
}

// DeleteOrderMessages handles DELETE /api/messages?orderId= - removes a conversation
func (h *Handlers) DeleteOrderMessages(c *gin.Context) {
	orderID, ok := requiredQuery(c, "orderId")
	if !ok {
		return
	}

	n, err := h.Messages.DeleteForOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	logAdminAction(c, "order messages deleted", "order_id", orderID, "count", n)

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"deletedCount": n,
	})
}
