package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

type orderRow struct {
	ID              string         `db:"id"`
	Number          string         `db:"number"`
	BuyerID         string         `db:"buyer_id"`
	FarmerID        string         `db:"farmer_id"`
	Subtotal        int64          `db:"subtotal"`
	PlatformFee     int64          `db:"platform_fee"`
	Total           int64          `db:"total"`
	Currency        string         `db:"currency"`
	Status          string         `db:"status"`
	DeliveryAddress string         `db:"delivery_address"`
	PickupAddress   string         `db:"pickup_address"`
	PaymentMethod   string         `db:"payment_method"`
	CancelReason    string         `db:"cancel_reason"`
	RatingScore     sql.NullInt64  `db:"rating_score"`
	RatingComment   sql.NullString `db:"rating_comment"`
	RatedBy         sql.NullString `db:"rated_by"`
	RatedAt         sql.NullTime   `db:"rated_at"`
	BuyerScore      sql.NullInt64  `db:"buyer_rating_score"`
	BuyerComment    sql.NullString `db:"buyer_rating_comment"`
	BuyerRatedBy    sql.NullString `db:"buyer_rated_by"`
	BuyerRatedAt    sql.NullTime   `db:"buyer_rated_at"`
	Version         int64          `db:"version"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	ConfirmedAt     sql.NullTime   `db:"confirmed_at"`
	DeliveredAt     sql.NullTime   `db:"delivered_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	CancelledAt     sql.NullTime   `db:"cancelled_at"`
}

func (r orderRow) toModel() *models.Order {
	o := &models.Order{
		ID:              r.ID,
		Number:          r.Number,
		BuyerID:         r.BuyerID,
		FarmerID:        r.FarmerID,
		Subtotal:        models.NewMoney(r.Subtotal, r.Currency),
		PlatformFee:     models.NewMoney(r.PlatformFee, r.Currency),
		Total:           models.NewMoney(r.Total, r.Currency),
		Status:          models.OrderStatus(r.Status),
		DeliveryAddress: r.DeliveryAddress,
		PickupAddress:   r.PickupAddress,
		PaymentMethod:   models.PaymentMethod(r.PaymentMethod),
		CancelReason:    r.CancelReason,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ConfirmedAt:     timePtr(r.ConfirmedAt),
		DeliveredAt:     timePtr(r.DeliveredAt),
		CompletedAt:     timePtr(r.CompletedAt),
		CancelledAt:     timePtr(r.CancelledAt),
	}
	o.Rating = ratingFromColumns(r.RatingScore, r.RatingComment, r.RatedBy, r.RatedAt)
	o.BuyerRating = ratingFromColumns(r.BuyerScore, r.BuyerComment, r.BuyerRatedBy, r.BuyerRatedAt)
	return o
}

func ratingFromColumns(score sql.NullInt64, comment, by sql.NullString, at sql.NullTime) *models.Rating {
	if !score.Valid {
		return nil
	}
	return &models.Rating{
		Score:   int(score.Int64),
		Comment: comment.String,
		RatedBy: by.String,
		RatedAt: at.Time,
	}
}

type ratingColumns struct {
	score   sql.NullInt64
	comment sql.NullString
	by      sql.NullString
	at      sql.NullTime
}

func ratingToColumns(r *models.Rating) ratingColumns {
	var c ratingColumns
	if r != nil {
		c.score = sql.NullInt64{Int64: int64(r.Score), Valid: true}
		c.comment = sql.NullString{String: r.Comment, Valid: true}
		c.by = sql.NullString{String: r.RatedBy, Valid: true}
		c.at = sql.NullTime{Time: r.RatedAt, Valid: true}
	}
	return c
}

type orderItemRow struct {
	OrderID     string `db:"order_id"`
	LineNo      int    `db:"line_no"`
	ProductID   string `db:"product_id"`
	ProductName string `db:"product_name"`
	Quantity    int    `db:"quantity"`
	UnitPrice   int64  `db:"unit_price"`
	LineTotal   int64  `db:"line_total"`
}

type historyRow struct {
	OrderID string    `db:"order_id"`
	Status  string    `db:"status"`
	ActorID string    `db:"actor_id"`
	Note    string    `db:"note"`
	At      time.Time `db:"at"`
}

const orderColumns = `id, number, buyer_id, farmer_id, subtotal, platform_fee, total, currency, status,
	delivery_address, pickup_address, payment_method, cancel_reason,
	rating_score, rating_comment, rated_by, rated_at,
	buyer_rating_score, buyer_rating_comment, buyer_rated_by, buyer_rated_at, version,
	created_at, updated_at, confirmed_at, delivered_at, completed_at, cancelled_at`

// CreateOrder inserts the order with its items and initial history
func (t *pgTx) CreateOrder(ctx context.Context, order *models.Order) error {
	order.Version = 1
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, number, buyer_id, farmer_id, subtotal, platform_fee, total, currency, status,
			delivery_address, pickup_address, payment_method, cancel_reason, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		order.ID, order.Number, order.BuyerID, order.FarmerID,
		order.Subtotal.Amount, order.PlatformFee.Amount, order.Total.Amount, order.Total.Currency,
		string(order.Status), order.DeliveryAddress, order.PickupAddress, string(order.PaymentMethod),
		order.CancelReason, order.Version, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return dbError(err, "create order")
	}

	for i, item := range order.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, product_name, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice.Amount, item.LineTotal.Amount)
		if err != nil {
			return dbError(err, "create order item")
		}
	}

	return t.appendHistory(ctx, order.ID, order.StatusHistory)
}

// GetOrderByID retrieves an order and locks its row until the transaction ends
func (t *pgTx) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var row orderRow
	err := t.tx.GetContext(ctx, &row, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if isNoRows(err) {
		return nil, NotFound("order", orderID)
	}
	if err != nil {
		return nil, dbError(err, "get order")
	}

	order := row.toModel()
	if err := t.loadChildren(ctx, []*models.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateOrder writes mutable columns guarded by the version column and
// appends history entries that are not stored yet.
func (t *pgTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	rating := ratingToColumns(order.Rating)
	buyerRating := ratingToColumns(order.BuyerRating)

	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, cancel_reason = $2, pickup_address = $3,
			rating_score = $4, rating_comment = $5, rated_by = $6, rated_at = $7,
			buyer_rating_score = $8, buyer_rating_comment = $9, buyer_rated_by = $10, buyer_rated_at = $11,
			updated_at = $12, confirmed_at = $13, delivered_at = $14, completed_at = $15, cancelled_at = $16,
			version = version + 1
		WHERE id = $17 AND version = $18`,
		string(order.Status), order.CancelReason, order.PickupAddress,
		rating.score, rating.comment, rating.by, rating.at,
		buyerRating.score, buyerRating.comment, buyerRating.by, buyerRating.at,
		order.UpdatedAt, nullTime(order.ConfirmedAt), nullTime(order.DeliveredAt),
		nullTime(order.CompletedAt), nullTime(order.CancelledAt),
		order.ID, order.Version)
	if err != nil {
		return dbError(err, "update order")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return StaleOrder(order.ID, order.Version)
	}
	order.Version++

	var stored int
	if err := t.tx.GetContext(ctx, &stored,
		"SELECT COUNT(*) FROM order_status_history WHERE order_id = $1", order.ID); err != nil {
		return dbError(err, "count order history")
	}
	if stored < len(order.StatusHistory) {
		return t.appendHistory(ctx, order.ID, order.StatusHistory[stored:])
	}
	return nil
}

func (t *pgTx) appendHistory(ctx context.Context, orderID string, entries []models.StatusChange) error {
	for _, h := range entries {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, status, actor_id, note, at)
			VALUES ($1, $2, $3, $4, $5)`,
			orderID, string(h.Status), h.ActorID, h.Note, h.At)
		if err != nil {
			return dbError(err, "append order history")
		}
	}
	return nil
}

// ListOrders retrieves orders matching filter, newest first
func (t *pgTx) ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, strings.Replace(clause, "?", "$"+itoa(len(args)), 1))
	}
	if filter.BuyerID != "" {
		add("o.buyer_id = ?", filter.BuyerID)
	}
	if filter.FarmerID != "" {
		add("o.farmer_id = ?", filter.FarmerID)
	}
	if filter.Status != "" {
		add("o.status = ?", string(filter.Status))
	}
	if filter.TransporterID != "" {
		add("EXISTS (SELECT 1 FROM deliveries d WHERE d.order_id = o.id AND d.transporter_id = ?)", filter.TransporterID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := "SELECT " + prefixed("o.", orderColumns) + " FROM orders o"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, filter.Offset)
	query += " ORDER BY o.created_at DESC, o.id LIMIT $" + itoa(len(args)-1) + " OFFSET $" + itoa(len(args))

	var rows []orderRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, dbError(err, "list orders")
	}

	orders := make([]*models.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toModel())
	}
	if err := t.loadChildren(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (t *pgTx) loadChildren(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*models.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	query, args, err := sqlx.In(`
		SELECT order_id, line_no, product_id, product_name, quantity, unit_price, line_total
		FROM order_items WHERE order_id IN (?) ORDER BY order_id, line_no`, ids)
	if err != nil {
		return dbError(err, "build order items query")
	}
	var items []orderItemRow
	if err := t.tx.SelectContext(ctx, &items, t.tx.Rebind(query), args...); err != nil {
		return dbError(err, "load order items")
	}
	for _, item := range items {
		o := byID[item.OrderID]
		currency := o.Total.Currency
		o.Items = append(o.Items, models.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   models.NewMoney(item.UnitPrice, currency),
			LineTotal:   models.NewMoney(item.LineTotal, currency),
		})
	}

	query, args, err = sqlx.In(`
		SELECT order_id, status, actor_id, note, at
		FROM order_status_history WHERE order_id IN (?) ORDER BY order_id, id`, ids)
	if err != nil {
		return dbError(err, "build order history query")
	}
	var history []historyRow
	if err := t.tx.SelectContext(ctx, &history, t.tx.Rebind(query), args...); err != nil {
		return dbError(err, "load order history")
	}
	for _, h := range history {
		o := byID[h.OrderID]
		o.StatusHistory = append(o.StatusHistory, models.StatusChange{
			Status:  models.OrderStatus(h.Status),
			ActorID: h.ActorID,
			At:      h.At,
			Note:    h.Note,
		})
	}
	return nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
