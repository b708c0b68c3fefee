package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"fulfillment-service/internal/models"
)

type paymentRow struct {
	ID                string         `db:"id"`
	OrderID           string         `db:"order_id"`
	Amount            int64          `db:"amount"`
	Currency          string         `db:"currency"`
	Method            string         `db:"method"`
	ExternalReference sql.NullString `db:"external_reference"`
	State             string         `db:"state"`
	FailureReason     string         `db:"failure_reason"`
	Attempt           int            `db:"attempt"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r paymentRow) toModel() *models.Payment {
	return &models.Payment{
		ID:                r.ID,
		OrderID:           r.OrderID,
		Amount:            models.NewMoney(r.Amount, r.Currency),
		Method:            models.PaymentMethod(r.Method),
		ExternalReference: r.ExternalReference.String,
		State:             models.PaymentState(r.State),
		FailureReason:     r.FailureReason,
		Attempt:           r.Attempt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

const paymentColumns = "id, order_id, amount, currency, method, external_reference, state, failure_reason, attempt, created_at, updated_at"

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreatePayment creates a new payment record
func (t *pgTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		payment.ID, payment.OrderID, payment.Amount.Amount, payment.Amount.Currency, string(payment.Method),
		nullString(payment.ExternalReference), string(payment.State), payment.FailureReason,
		payment.Attempt, payment.CreatedAt, payment.UpdatedAt)
	return dbError(err, "create payment")
}

// UpdatePayment updates payment state and gateway reference
func (t *pgTx) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE payments SET state = $1, external_reference = $2, failure_reason = $3, attempt = $4, updated_at = $5
		WHERE id = $6`,
		string(payment.State), nullString(payment.ExternalReference), payment.FailureReason,
		payment.Attempt, payment.UpdatedAt, payment.ID)
	if err != nil {
		return dbError(err, "update payment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("payment", payment.ID)
	}
	return nil
}

// GetPaymentByOrder retrieves payment for an order
func (t *pgTx) GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	var row paymentRow
	err := t.tx.GetContext(ctx, &row,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 FOR UPDATE", orderID)
	if isNoRows(err) {
		return nil, NotFound("payment", orderID)
	}
	if err != nil {
		return nil, dbError(err, "get payment")
	}
	return row.toModel(), nil
}

func (t *pgTx) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var row paymentRow
	err := t.tx.GetContext(ctx, &row,
		"SELECT "+paymentColumns+" FROM payments WHERE external_reference = $1 FOR UPDATE", reference)
	if isNoRows(err) {
		return nil, NotFound("payment", reference)
	}
	if err != nil {
		return nil, dbError(err, "get payment by reference")
	}
	return row.toModel(), nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
