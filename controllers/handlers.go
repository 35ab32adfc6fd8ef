package controllers

import (
	"github.com/costume-atelier/atelier-api/services"
)

// Handlers binds the HTTP endpoints to the services they call
type Handlers struct {
	Orders   *services.OrderService
	Messages *services.MessageService
	Payments *services.PaymentService
	Geocoder *services.GeocodingService
}
