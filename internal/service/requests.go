package service

import (
	"strings"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
)

// CheckoutRequest converts the buyer's cart into one order per farmer.
type CheckoutRequest struct {
	DeliveryAddress string               `json:"delivery_address" binding:"required"`
	PaymentMethod   models.PaymentMethod `json:"payment_method" binding:"required,payment_method"`
	// AcceptPriceChanges re-confirms lines whose catalog price moved since they were added.
	AcceptPriceChanges bool `json:"accept_price_changes"`
}

func (r CheckoutRequest) Validate() error {
	if strings.TrimSpace(r.DeliveryAddress) == "" {
		return errs.New(errs.CodeValidation, "delivery_address is required")
	}
	if !r.PaymentMethod.Valid() {
		return errs.Newf(errs.CodeValidation, "unsupported payment method %q", r.PaymentMethod)
	}
	return nil
}

type AddToCartRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1,max=100000"`
}

func (r AddToCartRequest) Validate() error {
	if strings.TrimSpace(r.ProductID) == "" {
		return errs.New(errs.CodeValidation, "product_id is required")
	}
	if r.Quantity <= 0 {
		return errs.New(errs.CodeValidation, "quantity must be greater than 0")
	}
	if r.Quantity > models.MaxLineQuantity {
		return errs.Newf(errs.CodeValidation, "quantity must not exceed %d", models.MaxLineQuantity)
	}
	return nil
}

// UpdateCartItemRequest sets a line's quantity; zero or less removes the line.
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"max=100000"`
}

type AssignTransporterRequest struct {
	TransporterID string     `json:"transporter_id" binding:"required"`
	PickupAddress string     `json:"pickup_address"`
	EstimatedAt   *time.Time `json:"estimated_at"`
}

func (r AssignTransporterRequest) Validate() error {
	if strings.TrimSpace(r.TransporterID) == "" {
		return errs.New(errs.CodeValidation, "transporter_id is required")
	}
	return nil
}

type AdvanceDeliveryRequest struct {
	Status   string `json:"status" binding:"required,tracking_status"`
	Location string `json:"location" binding:"required"`
	Note     string `json:"note"`
}

func (r AdvanceDeliveryRequest) Validate() (models.TrackingStatus, error) {
	status, ok := models.ParseTrackingStatus(r.Status)
	if !ok {
		return "", errs.Newf(errs.CodeValidation, "unknown tracking status %q", r.Status)
	}
	if strings.TrimSpace(r.Location) == "" {
		return "", errs.New(errs.CodeValidation, "location is required")
	}
	return status, nil
}

type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type RateOrderRequest struct {
	Score   int    `json:"score" binding:"required,min=1,max=5"`
	Comment string `json:"comment" binding:"max=1000"`
}

func (r RateOrderRequest) Validate() error {
	if r.Score < models.MinRating || r.Score > models.MaxRating {
		return errs.Newf(errs.CodeValidation, "rating must be between %d and %d", models.MinRating, models.MaxRating)
	}
	return nil
}

type ListOrdersRequest struct {
	Status models.OrderStatus `form:"status"`
	Limit  int                `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset int                `form:"offset" binding:"omitempty,min=0"`
}

// OrderView is an order with its payment and delivery, as read by a party to it.
type OrderView struct {
	Order    *models.Order          `json:"order"`
	Payment  *models.Payment        `json:"payment,omitempty"`
	Delivery *models.DeliveryRecord `json:"delivery,omitempty"`
}
