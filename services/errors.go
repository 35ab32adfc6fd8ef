package services

import "errors"

// Errors returned by the services. Controllers map them to HTTP codes.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidOrderID    = errors.New("invalid order id")
	ErrVersionConflict   = errors.New("order was modified by another request")
	ErrPriceFinalized    = errors.New("price has been finalized for this order")
	ErrValidation        = errors.New("validation failed")
	ErrUnknownField      = errors.New("unknown field")
	ErrAmountMismatch    = errors.New("amount paid does not match order total")
	ErrAlreadyPaid       = errors.New("order has already been paid")
	ErrPaymentFailed     = errors.New("payment was not successful")
	ErrPaymentProvider   = errors.New("payment provider error")
	ErrGeocoder          = errors.New("geocoding provider error")
	ErrStorageDisabled   = errors.New("image storage is not configured")
	ErrDesignNotFound    = errors.New("design image not found")
	ErrIdempotencyInUse  = errors.New("idempotency key is being processed")
	ErrNoMessageSelector = errors.New("orderId or orderNumber is required")
)
