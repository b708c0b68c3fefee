package store

import (
	"context"
	"time"

	"fulfillment-service/internal/models"
)

type cartLineRow struct {
	BuyerID   string    `db:"buyer_id"`
	ProductID string    `db:"product_id"`
	Quantity  int       `db:"quantity"`
	UnitPrice int64     `db:"unit_price"`
	Currency  string    `db:"currency"`
	AddedAt   time.Time `db:"added_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (t *pgTx) GetCart(ctx context.Context, buyerID string) (*models.Cart, error) {
	var rows []cartLineRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT buyer_id, product_id, quantity, unit_price, currency, added_at, updated_at
		FROM cart_lines WHERE buyer_id = $1 FOR UPDATE`, buyerID)
	if err != nil {
		return nil, dbError(err, "get cart")
	}

	cart := models.NewCart(buyerID)
	for _, row := range rows {
		cart.Lines[row.ProductID] = &models.CartLine{
			ProductID: row.ProductID,
			Quantity:  row.Quantity,
			UnitPrice: models.NewMoney(row.UnitPrice, row.Currency),
			AddedAt:   row.AddedAt,
		}
		if row.UpdatedAt.After(cart.UpdatedAt) {
			cart.UpdatedAt = row.UpdatedAt
		}
	}
	return cart, nil
}

// SaveCart replaces the buyer's stored lines with the cart's lines.
func (t *pgTx) SaveCart(ctx context.Context, cart *models.Cart) error {
	if err := t.DeleteCart(ctx, cart.BuyerID); err != nil {
		return err
	}
	for _, line := range cart.SortedLines() {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO cart_lines (buyer_id, product_id, quantity, unit_price, currency, added_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			cart.BuyerID, line.ProductID, line.Quantity, line.UnitPrice.Amount, line.UnitPrice.Currency,
			line.AddedAt, cart.UpdatedAt)
		if err != nil {
			return dbError(err, "save cart line")
		}
	}
	return nil
}

func (t *pgTx) DeleteCart(ctx context.Context, buyerID string) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE buyer_id = $1", buyerID)
	return dbError(err, "delete cart")
}
