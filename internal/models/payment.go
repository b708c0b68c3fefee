package models

import (
	"fmt"
	"time"
)

// PaymentState is the escrow-style lifecycle of an order's payment.
type PaymentState string

const (
	PaymentStateInitiated PaymentState = "initiated"
	PaymentStateHeld      PaymentState = "held"
	PaymentStateReleased  PaymentState = "released"
	PaymentStateRefunded  PaymentState = "refunded"
	PaymentStateFailed    PaymentState = "failed"
)

func (s PaymentState) IsTerminal() bool {
	return s == PaymentStateReleased || s == PaymentStateRefunded
}

// PaymentMethod is the settlement rail chosen by the buyer.
type PaymentMethod string

const (
	PaymentMethodMpesa PaymentMethod = "mpesa"
	PaymentMethodBank  PaymentMethod = "bank"
	PaymentMethodCash  PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodMpesa, PaymentMethodBank, PaymentMethodCash:
		return true
	}
	return false
}

// Payment is the one-to-one payment record of an order.
type Payment struct {
	ID                string        `json:"id"`
	OrderID           string        `json:"order_id"`
	Amount            Money         `json:"amount"`
	Method            PaymentMethod `json:"method"`
	ExternalReference string        `json:"external_reference,omitempty"`
	State             PaymentState  `json:"state"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	Attempt           int           `json:"attempt"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// GatewayRequest is one attempt at collecting a payment through the gateway.
type GatewayRequest struct {
	OrderID        string
	Amount         Money
	Method         PaymentMethod
	IdempotencyKey string
}

// GatewayRequest builds the request for the payment's current attempt. The
// idempotency key changes with every re-initiation so a retry is not answered
// with the gateway's cached decline.
func (p *Payment) GatewayRequest() GatewayRequest {
	return GatewayRequest{
		OrderID:        p.OrderID,
		Amount:         p.Amount,
		Method:         p.Method,
		IdempotencyKey: fmt.Sprintf("%s-%d", p.ID, p.Attempt),
	}
}
