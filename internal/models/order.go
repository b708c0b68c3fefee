package models

import (
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/errs"

	"github.com/shopspring/decimal"
)

// OrderItem is the immutable snapshot of a cart line at checkout.
type OrderItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unit_price"`
	LineTotal   Money  `json:"line_total"`
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	Status  OrderStatus `json:"status"`
	ActorID string      `json:"actor_id"`
	At      time.Time   `json:"at"`
	Note    string      `json:"note,omitempty"`
}

// Rating is one side's feedback on a completed order. Immutable once set.
type Rating struct {
	Score   int       `json:"score"`
	Comment string    `json:"comment,omitempty"`
	RatedBy string    `json:"rated_by"`
	RatedAt time.Time `json:"rated_at"`
}

const (
	MinRating = 1
	MaxRating = 5
)

// Order is the fulfillment aggregate root.
type Order struct {
	ID              string         `json:"id"`
	Number          string         `json:"number"`
	BuyerID         string         `json:"buyer_id"`
	FarmerID        string         `json:"farmer_id"`
	Items           []OrderItem    `json:"items"`
	Subtotal        Money          `json:"subtotal"`
	PlatformFee     Money          `json:"platform_fee"`
	Total           Money          `json:"total"`
	Status          OrderStatus    `json:"status"`
	DeliveryAddress string         `json:"delivery_address"`
	PickupAddress   string         `json:"pickup_address"`
	PaymentMethod   PaymentMethod  `json:"payment_method"`
	CancelReason    string         `json:"cancel_reason,omitempty"`
	Rating          *Rating        `json:"rating,omitempty"`
	BuyerRating     *Rating        `json:"buyer_rating,omitempty"`
	StatusHistory   []StatusChange `json:"status_history"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ConfirmedAt     *time.Time     `json:"confirmed_at,omitempty"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
}

// OrderDraft carries everything needed to open a PENDING order.
type OrderDraft struct {
	ID              string
	Number          string
	BuyerID         string
	FarmerID        string
	Items           []OrderItem
	FeeRate         decimal.Decimal
	DeliveryAddress string
	PickupAddress   string
	PaymentMethod   PaymentMethod
	Currency        string
}

// NewOrder builds a PENDING order and computes its totals.
func NewOrder(d OrderDraft, now time.Time) (*Order, error) {
	if len(d.Items) == 0 {
		return nil, errs.New(errs.CodeValidation, "order has no items")
	}
	if strings.TrimSpace(d.DeliveryAddress) == "" {
		return nil, errs.New(errs.CodeValidation, "delivery_address is required")
	}
	currency := d.Currency
	if currency == "" {
		currency = d.Items[0].UnitPrice.Currency
	}

	items := make([]OrderItem, len(d.Items))
	for i, item := range d.Items {
		if item.Quantity <= 0 {
			return nil, errs.New(errs.CodeValidation, "quantity must be greater than 0").With("product_id", item.ProductID)
		}
		if item.UnitPrice.Currency != currency {
			return nil, errs.Newf(errs.CodeValidation, "item priced in %s, order in %s", item.UnitPrice.Currency, currency).
				With("product_id", item.ProductID)
		}
		item.LineTotal = item.UnitPrice.MulInt(int64(item.Quantity))
		items[i] = item
	}

	o := &Order{
		ID:              d.ID,
		Number:          d.Number,
		BuyerID:         d.BuyerID,
		FarmerID:        d.FarmerID,
		Items:           items,
		Status:          OrderStatusPending,
		DeliveryAddress: strings.TrimSpace(d.DeliveryAddress),
		PickupAddress:   d.PickupAddress,
		PaymentMethod:   d.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusHistory: []StatusChange{
			{Status: OrderStatusPending, ActorID: d.BuyerID, At: now, Note: "order placed"},
		},
	}
	o.Subtotal = Zero(currency)
	o.RecalculateTotals(d.FeeRate)
	return o, nil
}

// RecalculateTotals derives subtotal, fee and total from the items.
func (o *Order) RecalculateTotals(feeRate decimal.Decimal) {
	subtotal := Zero(o.Subtotal.Currency)
	for _, item := range o.Items {
		subtotal.Amount += item.LineTotal.Amount
	}
	o.Subtotal = subtotal
	o.PlatformFee = subtotal.MulRate(feeRate)
	o.Total = Money{Amount: subtotal.Amount + o.PlatformFee.Amount, Currency: subtotal.Currency}
}

func (o *Order) invalidTransition(to OrderStatus) *errs.Error {
	return errs.Newf(errs.CodeInvalidTransition, "order cannot move from %s to %s", o.Status, to).
		With("order_id", o.ID).
		With("current_status", string(o.Status)).
		With("attempted_status", string(to))
}

func (o *Order) transition(to OrderStatus, actorID string, now time.Time, note string) error {
	if !CanTransition(o.Status, to) {
		return o.invalidTransition(to)
	}
	if n := len(o.StatusHistory); n > 0 && now.Before(o.StatusHistory[n-1].At) {
		now = o.StatusHistory[n-1].At
	}
	o.Status = to
	o.UpdatedAt = now
	o.StatusHistory = append(o.StatusHistory, StatusChange{Status: to, ActorID: actorID, At: now, Note: note})
	return nil
}

func (o *Order) Confirm(actorID string, now time.Time) error {
	if err := o.transition(OrderStatusConfirmed, actorID, now, "confirmed by farmer"); err != nil {
		return err
	}
	o.ConfirmedAt = cloneTime(&o.UpdatedAt)
	return nil
}

func (o *Order) MarkInTransit(actorID string, now time.Time, note string) error {
	return o.transition(OrderStatusInTransit, actorID, now, note)
}

func (o *Order) MarkDelivered(actorID string, now time.Time, note string) error {
	if err := o.transition(OrderStatusDelivered, actorID, now, note); err != nil {
		return err
	}
	o.DeliveredAt = cloneTime(&o.UpdatedAt)
	return nil
}

func (o *Order) Complete(actorID string, now time.Time) error {
	if err := o.transition(OrderStatusCompleted, actorID, now, "received by buyer"); err != nil {
		return err
	}
	o.CompletedAt = cloneTime(&o.UpdatedAt)
	return nil
}

func (o *Order) Cancel(actorID, reason string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	note := "cancelled"
	if reason != "" {
		note = fmt.Sprintf("cancelled: %s", reason)
	}
	if err := o.transition(OrderStatusCancelled, actorID, now, note); err != nil {
		return err
	}
	o.CancelReason = reason
	o.CancelledAt = cloneTime(&o.UpdatedAt)
	return nil
}

// Rate attaches the buyer's rating of the farmer. Allowed once, only on a completed order.
func (o *Order) Rate(actorID string, score int, comment string, now time.Time) error {
	return o.rate(&o.Rating, "rate", actorID, score, comment, now)
}

// RateBuyer attaches the farmer's rating of the buyer, with the same rules as Rate.
func (o *Order) RateBuyer(actorID string, score int, comment string, now time.Time) error {
	return o.rate(&o.BuyerRating, "rate_buyer", actorID, score, comment, now)
}

func (o *Order) rate(slot **Rating, attempted, actorID string, score int, comment string, now time.Time) error {
	if score < MinRating || score > MaxRating {
		return errs.Newf(errs.CodeValidation, "rating must be between %d and %d", MinRating, MaxRating).
			With("order_id", o.ID)
	}
	if o.Status != OrderStatusCompleted {
		return errs.New(errs.CodeInvalidTransition, "only completed orders can be rated").
			With("order_id", o.ID).
			With("current_status", string(o.Status)).
			With("attempted_transition", attempted)
	}
	if *slot != nil {
		return errs.New(errs.CodeInvalidTransition, "order has already been rated").
			With("order_id", o.ID).
			With("current_status", string(o.Status)).
			With("attempted_transition", attempted)
	}
	*slot = &Rating{Score: score, Comment: strings.TrimSpace(comment), RatedBy: actorID, RatedAt: now}
	o.UpdatedAt = now
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.StatusHistory = append([]StatusChange(nil), o.StatusHistory...)
	c.Rating = cloneRating(o.Rating)
	c.BuyerRating = cloneRating(o.BuyerRating)
	c.ConfirmedAt = cloneTime(o.ConfirmedAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return &c
}

func cloneRating(r *Rating) *Rating {
	if r == nil {
		return nil
	}
	copied := *r
	return &copied
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
