package store

import (
	"context"
	"database/sql"
	"time"

	"fulfillment-service/internal/models"
)

type deliveryRow struct {
	ID              string       `db:"id"`
	OrderID         string       `db:"order_id"`
	TransporterID   string       `db:"transporter_id"`
	PickupAddress   string       `db:"pickup_address"`
	DeliveryAddress string       `db:"delivery_address"`
	EstimatedAt     sql.NullTime `db:"estimated_at"`
	CompletedAt     sql.NullTime `db:"completed_at"`
	CreatedAt       time.Time    `db:"created_at"`
}

type trackingRow struct {
	Location string    `db:"location"`
	Status   string    `db:"status"`
	Note     string    `db:"note"`
	At       time.Time `db:"at"`
}

func (t *pgTx) CreateDelivery(ctx context.Context, d *models.DeliveryRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO deliveries (id, order_id, transporter_id, pickup_address, delivery_address,
			estimated_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.OrderID, d.TransporterID, d.PickupAddress, d.DeliveryAddress,
		nullTime(d.EstimatedAt), nullTime(d.CompletedAt), d.CreatedAt)
	if err != nil {
		return dbError(err, "create delivery")
	}
	return t.appendTracking(ctx, d.ID, d.TrackingUpdates)
}

func (t *pgTx) UpdateDelivery(ctx context.Context, d *models.DeliveryRecord) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE deliveries SET estimated_at = $1, completed_at = $2 WHERE id = $3",
		nullTime(d.EstimatedAt), nullTime(d.CompletedAt), d.ID)
	if err != nil {
		return dbError(err, "update delivery")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("delivery", d.ID)
	}

	var stored int
	if err := t.tx.GetContext(ctx, &stored,
		"SELECT COUNT(*) FROM tracking_updates WHERE delivery_id = $1", d.ID); err != nil {
		return dbError(err, "count tracking updates")
	}
	if stored < len(d.TrackingUpdates) {
		return t.appendTracking(ctx, d.ID, d.TrackingUpdates[stored:])
	}
	return nil
}

func (t *pgTx) appendTracking(ctx context.Context, deliveryID string, updates []models.TrackingUpdate) error {
	for _, u := range updates {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO tracking_updates (delivery_id, location, status, note, at)
			VALUES ($1, $2, $3, $4, $5)`,
			deliveryID, u.Location, string(u.Status), u.Note, u.At)
		if err != nil {
			return dbError(err, "append tracking update")
		}
	}
	return nil
}

func (t *pgTx) GetDeliveryByOrder(ctx context.Context, orderID string) (*models.DeliveryRecord, error) {
	var row deliveryRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT id, order_id, transporter_id, pickup_address, delivery_address, estimated_at, completed_at, created_at
		FROM deliveries WHERE order_id = $1 FOR UPDATE`, orderID)
	if isNoRows(err) {
		return nil, NotFound("delivery", orderID)
	}
	if err != nil {
		return nil, dbError(err, "get delivery")
	}

	var updates []trackingRow
	if err := t.tx.SelectContext(ctx, &updates, `
		SELECT location, status, note, at FROM tracking_updates
		WHERE delivery_id = $1 ORDER BY id`, row.ID); err != nil {
		return nil, dbError(err, "load tracking updates")
	}

	d := &models.DeliveryRecord{
		ID:              row.ID,
		OrderID:         row.OrderID,
		TransporterID:   row.TransporterID,
		PickupAddress:   row.PickupAddress,
		DeliveryAddress: row.DeliveryAddress,
		EstimatedAt:     timePtr(row.EstimatedAt),
		CompletedAt:     timePtr(row.CompletedAt),
		CreatedAt:       row.CreatedAt,
	}
	for _, u := range updates {
		d.TrackingUpdates = append(d.TrackingUpdates, models.TrackingUpdate{
			Location: u.Location,
			Status:   models.TrackingStatus(u.Status),
			At:       u.At,
			Note:     u.Note,
		})
	}
	return d, nil
}
