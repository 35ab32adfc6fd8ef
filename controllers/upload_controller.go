package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetDesignImage handles GET /api/orders/unified/:id/designs/:position - redirects
// to a short-lived presigned URL for the design image
func (h *Handlers) GetDesignImage(c *gin.Context) {
	position, err := strconv.Atoi(c.Param("position"))
	if err != nil || position < 0 {
		abortWithError(c, http.StatusBadRequest, "INVALID_POSITION", "Design position must be a non-negative integer")
		return
	}

	url, err := h.Orders.DesignURL(c.Request.Context(), c.Param("id"), position)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, url)
}
