package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/costume-atelier/atelier-api/middleware"
	"github.com/costume-atelier/atelier-api/pricing"
	"github.com/costume-atelier/atelier-api/services"
	"github.com/costume-atelier/atelier-api/utils"
	"github.com/costume-atelier/atelier-api/workflow"
	"github.com/gin-gonic/gin"
)

// apiError is a stable error code paired with its HTTP status
type apiError struct {
	status int
	code   string
}

// errorTable maps service sentinels to their HTTP representation
var errorTable = []struct {
	target error
	apiError
}{
	{services.ErrInvalidOrderID, apiError{http.StatusBadRequest, "INVALID_ORDER_ID"}},
	{services.ErrUnknownField, apiError{http.StatusBadRequest, "UNKNOWN_FIELD"}},
	{services.ErrValidation, apiError{http.StatusBadRequest, "VALIDATION_ERROR"}},
	{services.ErrNoMessageSelector, apiError{http.StatusBadRequest, "VALIDATION_ERROR"}},
	{workflow.ErrUnknownStatus, apiError{http.StatusBadRequest, "INVALID_STATUS"}},
	{workflow.ErrUnknownTrigger, apiError{http.StatusBadRequest, "INVALID_TRIGGER"}},
	{pricing.ErrNegativePrice, apiError{http.StatusBadRequest, "VALIDATION_ERROR"}},
	{pricing.ErrInvalidQuantity, apiError{http.StatusBadRequest, "VALIDATION_ERROR"}},
	{pricing.ErrNoLines, apiError{http.StatusBadRequest, "VALIDATION_ERROR"}},
	{services.ErrPaymentFailed, apiError{http.StatusBadRequest, "PAYMENT_FAILED"}},
	{services.ErrOrderNotFound, apiError{http.StatusNotFound, "ORDER_NOT_FOUND"}},
	{services.ErrDesignNotFound, apiError{http.StatusNotFound, "DESIGN_NOT_FOUND"}},
	{workflow.ErrInvalidTransition, apiError{http.StatusConflict, "INVALID_TRANSITION"}},
	{services.ErrVersionConflict, apiError{http.StatusConflict, "VERSION_CONFLICT"}},
	{services.ErrPriceFinalized, apiError{http.StatusConflict, "PRICE_FINALIZED"}},
	{services.ErrAmountMismatch, apiError{http.StatusConflict, "AMOUNT_MISMATCH"}},
	{services.ErrAlreadyPaid, apiError{http.StatusConflict, "ALREADY_PAID"}},
	{services.ErrIdempotencyInUse, apiError{http.StatusConflict, "IDEMPOTENCY_IN_USE"}},
	{services.ErrPaymentProvider, apiError{http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR"}},
	{services.ErrGeocoder, apiError{http.StatusBadGateway, "GEOCODER_ERROR"}},
	{services.ErrStorageDisabled, apiError{http.StatusServiceUnavailable, "STORAGE_DISABLED"}},
}

// respondError writes the failure envelope for err. Errors that are not part
// of the public contract are logged and reported as INTERNAL_ERROR.
func respondError(c *gin.Context, err error) {
	var uploadErr *utils.FileUploadError
	if errors.As(err, &uploadErr) {
		abortWithError(c, http.StatusBadRequest, uploadErr.Code, uploadErr.Message)
		return
	}

	for _, entry := range errorTable {
		if errors.Is(err, entry.target) {
			abortWithError(c, entry.status, entry.code, err.Error())
			return
		}
	}

	slog.Error("request failed",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", c.GetString(middleware.ContextRequestID),
		"error", err)
	_ = c.Error(err)
	abortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
}

// logAdminAction records a completed admin write with the staff subject from the token
func logAdminAction(c *gin.Context, action string, args ...any) {
	staffID, err := middleware.GetStaffID(c)
	if err != nil {
		staffID = "anonymous"
	}
	attrs := append([]any{"staff_id", staffID, "request_id", c.GetString(middleware.ContextRequestID)}, args...)
	slog.Info(action, attrs...)
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func badRequest(c *gin.Context, message string) {
	abortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", message)
}
