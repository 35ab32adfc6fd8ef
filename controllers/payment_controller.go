package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// VerifyPayment handles GET /api/verify-payment?reference= - settles a paid order
func (h *Handlers) VerifyPayment(c *gin.Context) {
	reference, ok := requiredQuery(c, "reference")
	if !ok {
		return
	}

	result, err := h.Payments.VerifyPayment(c.Request.Context(), reference)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"reference":     result.Reference,
		"amount":        result.Amount,
		"status":        result.Status,
		"orderNumber":   result.OrderNumber,
		"invoiceNumber": result.InvoiceNumber,
	})
}
