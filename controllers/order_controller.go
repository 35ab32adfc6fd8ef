package controllers

import (
	"io"
	"net/http"

	"github.com/costume-atelier/atelier-api/services"
	"github.com/gin-gonic/gin"
)

const maxPatchBody = 64 << 10

// CreateOrder handles POST /api/orders - creates a catalog order from its item lines
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req services.CatalogOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request data: "+err.Error())
		return
	}

	order, err := h.Orders.CreateCatalogOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"orderNumber": order.OrderNumber,
		"order":       order,
	})
}

// ListOrders handles GET /api/orders/unified - lists active orders of every kind
func (h *Handlers) ListOrders(c *gin.Context) {
	orders, err := h.Orders.List(c.Request.Context(), services.OrderFilter{
		Kind:    c.Query("kind"),
		Status:  c.Query("status"),
		Handler: c.Query("handler"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orders":  orders,
	})
}

// GetOrder handles GET /api/orders/unified/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	order, err := h.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order,
	})
}

// UpdateOrder handles PATCH /api/orders/unified/:id - status transitions and contact edits
func (h *Handlers) UpdateOrder(c *gin.Context) {
	body, ok := readPatchBody(c)
	if !ok {
		return
	}

	order, err := h.Orders.Update(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		respondError(c, err)
		return
	}
	logAdminAction(c, "order updated", "order_id", order.ID, "status", order.Status, "version", order.Version)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order,
	})
}

// DeleteOrder handles DELETE /api/orders/unified/:id - soft-deletes the order
func (h *Handlers) DeleteOrder(c *gin.Context) {
	if err := h.Orders.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	logAdminAction(c, "order deleted", "order_id", c.Param("id"))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Order deleted",
	})
}

func readPatchBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPatchBody+1))
	if err != nil {
		badRequest(c, "Could not read request body")
		return nil, false
	}
	if len(body) > maxPatchBody {
		badRequest(c, "Request body is too large")
		return nil, false
	}
	return body, true
}
