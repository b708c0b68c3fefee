package models

import (
	"fmt"

	"fulfillment-service/internal/errs"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the settlement currency used when none is configured.
const DefaultCurrency = "KES"

// Money is an amount in integer minor units (cents) of a currency.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

func Zero(currency string) Money {
	return Money{Currency: currency}
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}

func (m Money) IsNegative() bool {
	return m.Amount < 0
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return errs.Newf(errs.CodeValidation, "currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return nil
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Sub subtracts other and refuses to produce a negative balance.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.Amount > m.Amount {
		return Money{}, errs.Newf(errs.CodeValidation, "subtracting %s from %s would go negative", other, m)
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Debit subtracts other and allows a negative result. Refund paths only.
func (m Money) Debit(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

func (m Money) MulInt(n int64) Money {
	return Money{Amount: m.Amount * n, Currency: m.Currency}
}

// MulRate multiplies by a decimal rate and rounds half-up to a whole minor unit.
func (m Money) MulRate(rate decimal.Decimal) Money {
	product := decimal.NewFromInt(m.Amount).Mul(rate)
	return Money{Amount: product.Round(0).IntPart(), Currency: m.Currency}
}

// Compare returns -1, 0 or 1.
func (m Money) Compare(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.Amount < other.Amount:
		return -1, nil
	case m.Amount > other.Amount:
		return 1, nil
	}
	return 0, nil
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount == other.Amount
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency, decimal.NewFromInt(m.Amount).Shift(-2).StringFixed(2))
}
