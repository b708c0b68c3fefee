package models

import (
	"strings"
	"time"
)

// TrackingStatus is the fixed taxonomy of delivery tracking updates.
type TrackingStatus string

const (
	TrackingPickedUp  TrackingStatus = "picked_up"
	TrackingInTransit TrackingStatus = "in_transit"
	TrackingDelayed   TrackingStatus = "delayed"
	TrackingDelivered TrackingStatus = "delivered"
)

func (s TrackingStatus) Valid() bool {
	switch s {
	case TrackingPickedUp, TrackingInTransit, TrackingDelayed, TrackingDelivered:
		return true
	}
	return false
}

// ParseTrackingStatus accepts "IN_TRANSIT", "in-transit" and "in_transit" alike.
func ParseTrackingStatus(raw string) (TrackingStatus, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	s := TrackingStatus(normalized)
	return s, s.Valid()
}

// TrackingUpdate is one chronological entry of a delivery timeline.
type TrackingUpdate struct {
	Location string         `json:"location"`
	Status   TrackingStatus `json:"status"`
	At       time.Time      `json:"at"`
	Note     string         `json:"note,omitempty"`
}

// DeliveryRecord exists once a transporter has been assigned to an order.
type DeliveryRecord struct {
	ID              string           `json:"id"`
	OrderID         string           `json:"order_id"`
	TransporterID   string           `json:"transporter_id"`
	PickupAddress   string           `json:"pickup_address"`
	DeliveryAddress string           `json:"delivery_address"`
	TrackingUpdates []TrackingUpdate `json:"tracking_updates"`
	EstimatedAt     *time.Time       `json:"estimated_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

func (d *DeliveryRecord) LatestUpdate() (TrackingUpdate, bool) {
	if len(d.TrackingUpdates) == 0 {
		return TrackingUpdate{}, false
	}
	return d.TrackingUpdates[len(d.TrackingUpdates)-1], true
}

func (d *DeliveryRecord) Clone() *DeliveryRecord {
	c := *d
	c.TrackingUpdates = append([]TrackingUpdate(nil), d.TrackingUpdates...)
	c.EstimatedAt = cloneTime(d.EstimatedAt)
	c.CompletedAt = cloneTime(d.CompletedAt)
	return &c
}
