package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ReservationState string

const (
	ReservationPending   ReservationState = "pending"
	ReservationConfirmed ReservationState = "confirmed"
	ReservationExpired   ReservationState = "expired"
	ReservationCancelled ReservationState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s ReservationState) Terminal() bool {
	return s == ReservationConfirmed || s == ReservationExpired || s == ReservationCancelled
}

func (s ReservationState) Valid() bool {
	switch s {
	case ReservationPending, ReservationConfirmed, ReservationExpired, ReservationCancelled:
		return true
	}
	return false
}

// Reservation is a ledger entry. Its ID doubles as the tracking id handed
// back to callers.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID          string           `bun:"id,pk" json:"id"`
	EventID     string           `bun:"event_id,notnull" json:"event_id"`
	ZoneID      string           `bun:"zone_id,notnull" json:"zone_id"`
	ZoneName    string           `bun:"zone_name,notnull" json:"zone"`
	Kind        LayoutKind       `bun:"kind,notnull" json:"kind"`
	Principal   string           `bun:"principal,notnull" json:"principal"`
	Quantity    int              `bun:"quantity,notnull" json:"quantity"`
	SeatLabels  []string         `bun:"seat_labels,type:text" json:"seat_ids,omitempty"`
	State       ReservationState `bun:"state,notnull" json:"state"`
	Version     int              `bun:"version,notnull" json:"version"`
	UnitPrice   int64            `bun:"unit_price,notnull" json:"unit_price"`
	TotalPrice  int64            `bun:"total_price,notnull" json:"total_price"`
	CreatedAt   time.Time        `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt   time.Time        `bun:"expires_at,notnull" json:"expires_at"`
	UpdatedAt   time.Time        `bun:"updated_at,notnull" json:"updated_at"`
	ConfirmedAt time.Time        `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
	ClosedAt    time.Time        `bun:"closed_at,nullzero" json:"closed_at,omitempty"`
}

// Units describes exactly what a reservation holds in inventory.
func (r Reservation) Units() Units {
	return Units{
		EventID:       r.EventID,
		ZoneID:        r.ZoneID,
		Kind:          r.Kind,
		Quantity:      r.Quantity,
		SeatLabels:    r.SeatLabels,
		ReservationID: r.ID,
	}
}

// ReservationAudit records every state change, including admin overrides.
type ReservationAudit struct {
	bun.BaseModel `bun:"table:reservation_audit"`

	ID            int64            `bun:"id,pk,autoincrement" json:"id"`
	ReservationID string           `bun:"reservation_id,notnull" json:"reservation_id"`
	FromState     ReservationState `bun:"from_state,notnull" json:"from"`
	ToState       ReservationState `bun:"to_state,notnull" json:"to"`
	Actor         string           `bun:"actor,notnull" json:"actor"`
	Reason        string           `bun:"reason" json:"reason,omitempty"`
	At            time.Time        `bun:"at,notnull" json:"at"`
}

// Units is the inventory held on behalf of one reservation.
type Units struct {
	EventID       string
	ZoneID        string
	Kind          LayoutKind
	Quantity      int
	SeatLabels    []string
	ReservationID string
}

type BookingRequest struct {
	EventID   string   `json:"event_id"`
	ZoneName  string   `json:"zone"`
	Quantity  int      `json:"quantity,omitempty"`
	SeatIDs   []string `json:"seat_ids,omitempty"`
	Principal string   `json:"-"`
}

type Page struct {
	Items []Reservation `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}
