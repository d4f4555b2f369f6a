package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type Type string

const (
	ReservationCreated   Type = "reservation.created"
	ReservationConfirmed Type = "reservation.confirmed"
	ReservationExpired   Type = "reservation.expired"
	ReservationCancelled Type = "reservation.cancelled"
)

// ForState maps a ledger state to the lifecycle event announcing it.
func ForState(s models.ReservationState) Type {
	switch s {
	case models.ReservationConfirmed:
		return ReservationConfirmed
	case models.ReservationExpired:
		return ReservationExpired
	case models.ReservationCancelled:
		return ReservationCancelled
	default:
		return ReservationCreated
	}
}

type ReservationEvent struct {
	Type          Type                    `json:"type"`
	ReservationID string                  `json:"reservation_id"`
	EventID       string                  `json:"event_id"`
	ZoneID        string                  `json:"zone_id"`
	Zone          string                  `json:"zone"`
	Principal     string                  `json:"principal"`
	Quantity      int                     `json:"quantity"`
	SeatIDs       []string                `json:"seat_ids,omitempty"`
	State         models.ReservationState `json:"state"`
	TotalPrice    int64                   `json:"total_price"`
	Reason        string                  `json:"reason,omitempty"`
	OccurredAt    time.Time               `json:"occurred_at"`
}

func FromReservation(t Type, r *models.Reservation, reason string) ReservationEvent {
	return ReservationEvent{
		Type:          t,
		ReservationID: r.ID,
		EventID:       r.EventID,
		ZoneID:        r.ZoneID,
		Zone:          r.ZoneName,
		Principal:     r.Principal,
		Quantity:      r.Quantity,
		SeatIDs:       r.SeatLabels,
		State:         r.State,
		TotalPrice:    r.TotalPrice,
		Reason:        reason,
		OccurredAt:    r.UpdatedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev ReservationEvent) error
}

type Nop struct{}

func (Nop) Publish(context.Context, ReservationEvent) error { return nil }

// FanOut publishes to every publisher and joins their errors.
type FanOut []Publisher

func (f FanOut) Publish(ctx context.Context, ev ReservationEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AvailabilityNotifier is told whenever an event's counts may have moved.
type AvailabilityNotifier interface {
	Notify(eventID string)
}

// Emitter announces committed changes. It never fails the caller: the
// ledger already holds the truth, publishing is best effort.
type Emitter struct {
	publisher Publisher
	notifier  AvailabilityNotifier
	log       *logger.Logger
	timeout   time.Duration
}

func NewEmitter(p Publisher, n AvailabilityNotifier, log *logger.Logger) *Emitter {
	if p == nil {
		p = Nop{}
	}
	return &Emitter{publisher: p, notifier: n, log: log, timeout: 3 * time.Second}
}

// Reservation publishes the lifecycle event for r and pokes availability
// listeners when inventory moved.
func (e *Emitter) Reservation(ctx context.Context, t Type, r *models.Reservation, reason string) {
	if e == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	if err := e.publisher.Publish(ctx, FromReservation(t, r, reason)); err != nil {
		e.log.Warn("EVENTS", fmt.Sprintf("Failed to publish %s for %s: %v", t, r.ID, err))
	}
	if t != ReservationConfirmed || r.Kind == models.LayoutSeated {
		e.Availability(r.EventID)
	}
}

func (e *Emitter) Availability(eventID string) {
	if e == nil || e.notifier == nil {
		return
	}
	e.notifier.Notify(eventID)
}
