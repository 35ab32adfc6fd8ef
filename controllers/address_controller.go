package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ValidateAddressRequest represents the request body for address validation
type ValidateAddressRequest struct {
	City  string   `json:"city" binding:"required"`
	State string   `json:"state"`
	Lat   *float64 `json:"lat" binding:"required"`
	Lon   *float64 `json:"lon" binding:"required"`
}

// ReverseGeocode handles GET /api/address/reverse?lat=&lon=
func (h *Handlers) ReverseGeocode(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		badRequest(c, "lat must be a number")
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		badRequest(c, "lon must be a number")
		return
	}

	address, err := h.Geocoder.Reverse(c.Request.Context(), lat, lon)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"address": address,
	})
}

// ValidateAddress handles POST /api/address/validate - checks a typed city/state against coordinates
func (h *Handlers) ValidateAddress(c *gin.Context) {
	var req ValidateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "city, lat and lon are required")
		return
	}

	result, err := h.Geocoder.ValidateAddress(c.Request.Context(), req.City, req.State, *req.Lat, *req.Lon)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"valid":      result.Valid,
		"cityMatch":  result.CityMatch,
		"stateMatch": result.StateMatch,
		"address":    result.Address,
	})
}
