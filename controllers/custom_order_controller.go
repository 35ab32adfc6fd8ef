package controllers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/costume-atelier/atelier-api/models"
	"github.com/costume-atelier/atelier-api/services"
	"github.com/costume-atelier/atelier-api/utils"
	"github.com/gin-gonic/gin"
)

// design image form fields, with and without the bracket suffix some clients send
var designImageFields = []string{"designImages", "designImages[]"}

// CreateCustomOrder handles POST /api/custom-orders - multipart bespoke order request
func (h *Handlers) CreateCustomOrder(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			badRequest(c, "Request must be multipart/form-data")
			return
		}
		abortWithError(c, http.StatusBadRequest, "INVALID_FORM", "Could not parse the form")
		return
	}

	in := services.CustomOrderInput{
		FullName:    formValue(form, "fullName"),
		Email:       formValue(form, "email"),
		Phone:       formValue(form, "phone"),
		City:        formValue(form, "city"),
		State:       optionalFormValue(form, "state"),
		Address:     optionalFormValue(form, "address"),
		Description: formValue(form, "description"),
		Quantity:    1,
	}
	if raw := formValue(form, "quantity"); raw != "" {
		quantity, err := strconv.Atoi(raw)
		if err != nil || quantity < 1 {
			badRequest(c, "quantity must be a positive whole number")
			return
		}
		in.Quantity = quantity
	}

	var files []*multipart.FileHeader
	for _, field := range designImageFields {
		files = append(files, form.File[field]...)
	}
	if len(files) > utils.MaxDesignImages {
		respondError(c, utils.ValidateDesignImages(files))
		return
	}

	order, err := h.Orders.CreateCustomOrder(c.Request.Context(), in, files)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"orderNumber": order.OrderNumber,
		"message":     "Custom order received. We will send you a quote shortly.",
		"order":       order,
	})
}

// ListCustomOrders handles GET /api/custom-orders - active custom orders, newest first
func (h *Handlers) ListCustomOrders(c *gin.Context) {
	orders, err := h.Orders.List(c.Request.Context(), services.OrderFilter{
		Kind:   models.KindCustom,
		Status: c.Query("status"),
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

// UpdateCustomOrder handles PATCH /api/custom-orders?id= - status changes only
func (h *Handlers) UpdateCustomOrder(c *gin.Context) {
	id, ok := requiredQuery(c, "id")
	if !ok {
		return
	}
	body, ok := readPatchBody(c)
	if !ok {
		return
	}

	order, err := h.Orders.UpdateCustomStatus(c.Request.Context(), id, body)
	if err != nil {
		respondError(c, err)
		return
	}
	logAdminAction(c, "custom order updated", "order_id", order.ID, "status", order.Status)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order,
	})
}

// DeleteCustomOrder handles DELETE /api/custom-orders?id= - soft delete and cancellation email
func (h *Handlers) DeleteCustomOrder(c *gin.Context) {
	id, ok := requiredQuery(c, "id")
	if !ok {
		return
	}

	if err := h.Orders.DeleteCustomOrder(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	logAdminAction(c, "custom order deleted", "order_id", id)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Custom order deleted",
	})
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

func optionalFormValue(form *multipart.Form, key string) *string {
	if v := formValue(form, key); v != "" {
		return &v
	}
	return nil
}

func requiredQuery(c *gin.Context, key string) (string, bool) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		badRequest(c, key+" query parameter is required")
		return "", false
	}
	return v, true
}
