package models

// Product is the catalog view the engine needs at checkout.
type Product struct {
	ID        string `json:"id"`
	FarmerID  string `json:"farmer_id"`
	Name      string `json:"name"`
	UnitPrice Money  `json:"unit_price"`
	Available int    `json:"available_quantity"`
	Location  string `json:"location"`
}

// ReservationState tracks an inventory reservation token.
type ReservationState string

const (
	ReservationReserved  ReservationState = "reserved"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// Reservation is a provisional decrement of a product's availability.
type Reservation struct {
	ID        string           `json:"id"`
	OrderID   string           `json:"order_id"`
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	State     ReservationState `json:"state"`
}
