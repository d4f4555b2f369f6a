package models

import (
	"time"

	"github.com/uptrace/bun"
)

type LayoutKind string

const (
	LayoutStanding LayoutKind = "standing"
	LayoutSeated   LayoutKind = "seated"
)

func (k LayoutKind) Valid() bool {
	return k == LayoutStanding || k == LayoutSeated
}

type SeatState string

const (
	SeatFree SeatState = "free"
	SeatHeld SeatState = "held"
	SeatSold SeatState = "sold"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID        string     `bun:"id,pk" json:"id"`
	Title     string     `bun:"title,notnull" json:"title"`
	StartsAt  time.Time  `bun:"starts_at,notnull" json:"starts_at"`
	Location  string     `bun:"location" json:"location"`
	Layout    LayoutKind `bun:"layout,notnull" json:"layout"`
	SeatRows  int        `bun:"seat_rows,notnull" json:"seat_rows,omitempty"`
	SeatCols  int        `bun:"seat_cols,notnull" json:"seat_cols,omitempty"`
	CreatedAt time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// Zone is a priced pool of tickets inside an event. For seated zones
// Available mirrors the number of seats in the free state.
type Zone struct {
	bun.BaseModel `bun:"table:zones"`

	ID        string     `bun:"id,pk" json:"id"`
	EventID   string     `bun:"event_id,notnull,unique:zones_event_name" json:"event_id"`
	Name      string     `bun:"name,notnull,unique:zones_event_name" json:"name"`
	Kind      LayoutKind `bun:"kind,notnull" json:"kind"`
	Price     int64      `bun:"price,notnull" json:"price"`
	Total     int        `bun:"total,notnull" json:"total"`
	Available int        `bun:"available,notnull" json:"available"`
	SeatRows  int        `bun:"seat_rows,notnull" json:"seat_rows,omitempty"`
	SeatCols  int        `bun:"seat_cols,notnull" json:"seat_cols,omitempty"`
	CreatedAt time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

type Seat struct {
	bun.BaseModel `bun:"table:seats"`

	ID            string    `bun:"id,pk" json:"id"`
	EventID       string    `bun:"event_id,notnull" json:"event_id"`
	ZoneID        string    `bun:"zone_id,notnull,unique:seats_zone_label" json:"zone_id"`
	Label         string    `bun:"label,notnull,unique:seats_zone_label" json:"label"`
	RowIndex      int       `bun:"row_index,notnull" json:"row"`
	ColIndex      int       `bun:"col_index,notnull" json:"col"`
	State         SeatState `bun:"state,notnull" json:"state"`
	ReservationID string    `bun:"reservation_id,nullzero" json:"-"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// ZoneAvailability is the read model served to clients browsing an event.
type ZoneAvailability struct {
	Zone  Zone   `json:"zone"`
	Seats []Seat `json:"seats,omitempty"`
}

type EventAvailability struct {
	Event Event              `json:"event"`
	Zones []ZoneAvailability `json:"zones"`
}
