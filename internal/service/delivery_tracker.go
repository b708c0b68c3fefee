package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"

	"github.com/google/uuid"
)

// DeliveryTracker manages transporter assignment and the tracking timeline.
type DeliveryTracker struct{}

func NewDeliveryTracker() *DeliveryTracker {
	return &DeliveryTracker{}
}

// Find returns the order's delivery record, or nil when none is assigned.
func (d *DeliveryTracker) Find(ctx context.Context, tx store.Tx, orderID string) (*models.DeliveryRecord, error) {
	record, err := tx.GetDeliveryByOrder(ctx, orderID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	return record, err
}

func (d *DeliveryTracker) Assign(ctx context.Context, tx store.Tx, order *models.Order, transporterID, pickupAddress string, estimatedAt *time.Time, now time.Time) (*models.DeliveryRecord, error) {
	existing, err := d.Find(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errs.New(errs.CodeInvalidTransition, "a transporter is already assigned").
			With("order_id", order.ID).
			With("transporter_id", existing.TransporterID)
	}

	pickup := strings.TrimSpace(pickupAddress)
	if pickup == "" {
		pickup = order.PickupAddress
	}
	record := &models.DeliveryRecord{
		ID:              uuid.New().String(),
		OrderID:         order.ID,
		TransporterID:   transporterID,
		PickupAddress:   pickup,
		DeliveryAddress: order.DeliveryAddress,
		EstimatedAt:     estimatedAt,
		CreatedAt:       now,
	}
	if err := tx.CreateDelivery(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// AddTrackingUpdate appends to the timeline. Timestamps never go backwards.
func (d *DeliveryTracker) AddTrackingUpdate(ctx context.Context, tx store.Tx, record *models.DeliveryRecord, location string, status models.TrackingStatus, note string, now time.Time) error {
	if !status.Valid() {
		return errs.Newf(errs.CodeValidation, "unknown tracking status %q", status)
	}
	if record.CompletedAt != nil {
		return errs.New(errs.CodeInvalidTransition, "delivery is already complete").
			With("order_id", record.OrderID)
	}
	if last, ok := record.LatestUpdate(); ok && now.Before(last.At) {
		now = last.At
	}
	record.TrackingUpdates = append(record.TrackingUpdates, models.TrackingUpdate{
		Location: strings.TrimSpace(location),
		Status:   status,
		At:       now,
		Note:     note,
	})
	return tx.UpdateDelivery(ctx, record)
}

// Complete sets completed_at once, after a delivered update.
func (d *DeliveryTracker) Complete(ctx context.Context, tx store.Tx, record *models.DeliveryRecord, now time.Time) error {
	latest, ok := record.LatestUpdate()
	if !ok || latest.Status != models.TrackingDelivered {
		return errs.New(errs.CodeInvalidTransition, "delivery has no delivered update").
			With("order_id", record.OrderID)
	}
	if record.CompletedAt != nil {
		return errs.New(errs.CodeInvalidTransition, "delivery is already complete").
			With("order_id", record.OrderID)
	}
	if now.Before(latest.At) {
		now = latest.At
	}
	record.CompletedAt = &now
	return tx.UpdateDelivery(ctx, record)
}

func (d *DeliveryTracker) Timeline(ctx context.Context, tx store.Tx, orderID string) ([]models.TrackingUpdate, error) {
	record, err := tx.GetDeliveryByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return record.TrackingUpdates, nil
}
