package store

import (
	"context"

	"fulfillment-service/internal/models"
)

type productRow struct {
	ID        string `db:"id"`
	FarmerID  string `db:"farmer_id"`
	Name      string `db:"name"`
	UnitPrice int64  `db:"unit_price"`
	Currency  string `db:"currency"`
	Available int    `db:"available"`
	Location  string `db:"location"`
}

func (r productRow) toModel() *models.Product {
	return &models.Product{
		ID:        r.ID,
		FarmerID:  r.FarmerID,
		Name:      r.Name,
		UnitPrice: models.NewMoney(r.UnitPrice, r.Currency),
		Available: r.Available,
		Location:  r.Location,
	}
}

const productColumns = "id, farmer_id, name, unit_price, currency, available, location"

// GetProduct retrieves a product by ID
func (t *pgTx) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var row productRow
	err := t.tx.GetContext(ctx, &row, "SELECT "+productColumns+" FROM products WHERE id = $1", productID)
	if isNoRows(err) {
		return nil, NotFound("product", productID)
	}
	if err != nil {
		return nil, dbError(err, "get product")
	}
	return row.toModel(), nil
}

// AdjustAvailability uses a conditional update, so concurrent reservations of
// the same product serialize on the row lock and never oversell.
func (t *pgTx) AdjustAvailability(ctx context.Context, productID string, delta int) (*models.Product, error) {
	var row productRow
	err := t.tx.GetContext(ctx, &row, `
		UPDATE products SET available = available + $1, updated_at = NOW()
		WHERE id = $2 AND available + $1 >= 0
		RETURNING `+productColumns, delta, productID)
	if err == nil {
		return row.toModel(), nil
	}
	if !isNoRows(err) {
		return nil, dbError(err, "adjust availability")
	}

	var available int
	err = t.tx.GetContext(ctx, &available, "SELECT available FROM products WHERE id = $1", productID)
	if isNoRows(err) {
		return nil, NotFound("product", productID)
	}
	if err != nil {
		return nil, dbError(err, "read availability")
	}
	return nil, InsufficientStock(productID, available, -delta)
}

type reservationRow struct {
	ID        string `db:"id"`
	OrderID   string `db:"order_id"`
	ProductID string `db:"product_id"`
	Quantity  int    `db:"quantity"`
	State     string `db:"state"`
}

func (t *pgTx) CreateReservation(ctx context.Context, r *models.Reservation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservations (id, order_id, product_id, quantity, state)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.OrderID, r.ProductID, r.Quantity, string(r.State))
	return dbError(err, "create reservation")
}

func (t *pgTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE reservations SET state = $1, updated_at = NOW() WHERE id = $2",
		string(r.State), r.ID)
	if err != nil {
		return dbError(err, "update reservation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("reservation", r.ID)
	}
	return nil
}

func (t *pgTx) ListReservations(ctx context.Context, orderID string) ([]*models.Reservation, error) {
	var rows []reservationRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT id, order_id, product_id, quantity, state FROM reservations
		WHERE order_id = $1 ORDER BY product_id FOR UPDATE`, orderID)
	if err != nil {
		return nil, dbError(err, "list reservations")
	}

	out := make([]*models.Reservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, &models.Reservation{
			ID:        row.ID,
			OrderID:   row.OrderID,
			ProductID: row.ProductID,
			Quantity:  row.Quantity,
			State:     models.ReservationState(row.State),
		})
	}
	return out, nil
}
