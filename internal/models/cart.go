package models

import (
	"sort"
	"strings"
	"time"

	"fulfillment-service/internal/errs"
)

// MaxLineQuantity caps the units of one product in a cart.
const MaxLineQuantity = 100000

func quantityTooLarge(productID string, quantity int) *errs.Error {
	return errs.Newf(errs.CodeValidation, "quantity must not exceed %d", MaxLineQuantity).
		With("product_id", productID).
		With("quantity", quantity)
}

// CartLine is one product in a buyer's cart with the price seen when it was added.
type CartLine struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice Money     `json:"unit_price"`
	AddedAt   time.Time `json:"added_at"`
}

func (l CartLine) Total() Money {
	return l.UnitPrice.MulInt(int64(l.Quantity))
}

// Cart is a buyer's uncommitted selection, keyed by product id.
type Cart struct {
	BuyerID   string               `json:"buyer_id"`
	Lines     map[string]*CartLine `json:"lines"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func NewCart(buyerID string) *Cart {
	return &Cart{BuyerID: buyerID, Lines: make(map[string]*CartLine)}
}

// Add merges quantity into an existing line or inserts a new one.
// A merge refreshes the price snapshot to unitPrice.
func (c *Cart) Add(productID string, quantity int, unitPrice Money, now time.Time) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errs.New(errs.CodeValidation, "product_id is required")
	}
	if quantity <= 0 {
		return errs.New(errs.CodeValidation, "quantity must be greater than 0").With("product_id", productID)
	}
	if quantity > MaxLineQuantity {
		return quantityTooLarge(productID, quantity)
	}
	if unitPrice.IsNegative() || unitPrice.Currency == "" {
		return errs.New(errs.CodeValidation, "unit price is invalid").With("product_id", productID)
	}
	if !c.IsEmpty() && c.Currency() != unitPrice.Currency {
		return errs.Newf(errs.CodeValidation, "cart is priced in %s", c.Currency())
	}
	if c.Lines == nil {
		c.Lines = make(map[string]*CartLine)
	}

	if line, ok := c.Lines[productID]; ok {
		if line.Quantity > MaxLineQuantity-quantity {
			return quantityTooLarge(productID, line.Quantity+quantity)
		}
		line.Quantity += quantity
		line.UnitPrice = unitPrice
	} else {
		c.Lines[productID] = &CartLine{
			ProductID: productID,
			Quantity:  quantity,
			UnitPrice: unitPrice,
			AddedAt:   now,
		}
	}
	c.UpdatedAt = now
	return nil
}

// Update sets the quantity of a line; quantity <= 0 removes it.
func (c *Cart) Update(productID string, quantity int, now time.Time) error {
	line, ok := c.Lines[productID]
	if !ok {
		return errs.New(errs.CodeNotFound, "product is not in cart").With("product_id", productID)
	}
	if quantity > MaxLineQuantity {
		return quantityTooLarge(productID, quantity)
	}
	if quantity <= 0 {
		delete(c.Lines, productID)
	} else {
		line.Quantity = quantity
	}
	c.UpdatedAt = now
	return nil
}

func (c *Cart) Remove(productID string, now time.Time) {
	delete(c.Lines, productID)
	c.UpdatedAt = now
}

func (c *Cart) Clear(now time.Time) {
	c.Lines = make(map[string]*CartLine)
	c.UpdatedAt = now
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

func (c *Cart) Currency() string {
	for _, line := range c.Lines {
		return line.UnitPrice.Currency
	}
	return DefaultCurrency
}

func (c *Cart) Subtotal() Money {
	total := Zero(c.Currency())
	for _, line := range c.Lines {
		total.Amount += line.Total().Amount
	}
	return total
}

// SortedLines returns copies of the lines ordered by product id.
func (c *Cart) SortedLines() []CartLine {
	lines := make([]CartLine, 0, len(c.Lines))
	for _, line := range c.Lines {
		lines = append(lines, *line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

func (c *Cart) Clone() *Cart {
	clone := &Cart{BuyerID: c.BuyerID, UpdatedAt: c.UpdatedAt, Lines: make(map[string]*CartLine, len(c.Lines))}
	for id, line := range c.Lines {
		copied := *line
		clone.Lines[id] = &copied
	}
	return clone
}
