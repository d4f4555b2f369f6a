package booking

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/events"
	"ms-booking/internal/inventory"
	"ms-booking/internal/models"
)

const reconfigureReason = "layout reconfigured"

func (s *Service) CreateEvent(ctx context.Context, spec inventory.EventSpec) (*models.Event, error) {
	return s.inventory.CreateEvent(ctx, spec)
}

func (s *Service) CreateZone(ctx context.Context, eventID string, spec inventory.ZoneSpec) (*models.Zone, error) {
	zone, err := s.inventory.CreateZone(ctx, eventID, spec)
	if err != nil {
		return nil, err
	}
	s.emitter.Availability(eventID)
	return zone, nil
}

// UpdateZone edits a zone's capacity or price. Prices already snapshotted
// on reservations are left alone.
func (s *Service) UpdateZone(ctx context.Context, eventID, zoneName string, upd inventory.ZoneUpdate) (*models.Zone, error) {
	zone, err := s.inventory.UpdateZone(ctx, eventID, zoneName, upd)
	if err != nil {
		return nil, err
	}
	if upd.Capacity != nil {
		s.emitter.Availability(eventID)
	}
	return zone, nil
}

func (s *Service) Availability(ctx context.Context, eventID string) (*models.EventAvailability, error) {
	return s.inventory.Availability(ctx, eventID)
}

// ReconfigureLayout replaces the seat grid of every seated zone of an event.
// Without confirm it only reports the impact and returns
// ErrReconfigureUnconfirmed. With confirm, seats are regenerated free and
// every pending seated hold is cancelled, all in one transaction.
func (s *Service) ReconfigureLayout(ctx context.Context, eventID string, rows, cols int, confirm bool, actor string) (models.ReconfigureImpact, error) {
	impact := models.ReconfigureImpact{EventID: eventID, Rows: rows, Cols: cols}
	if rows <= 0 || cols <= 0 {
		return impact, fmt.Errorf("%w: rows and cols must be positive", models.ErrInvalidRequest)
	}

	event, err := s.inventory.GetEvent(ctx, eventID)
	if err != nil {
		return impact, err
	}
	if event.Layout != models.LayoutSeated {
		return impact, fmt.Errorf("%w: event %s is not seated", models.ErrInvalidRequest, eventID)
	}

	if err := s.measure(ctx, &impact); err != nil {
		return impact, err
	}
	if !confirm {
		return impact, models.ErrReconfigureUnconfirmed
	}

	var cancelled []models.Reservation
	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.tx.Do(ctx, func(ctx context.Context) error {
			cancelled = nil
			if err := s.measure(ctx, &impact); err != nil {
				return err
			}
			if err := s.inventory.ResetSeats(ctx, eventID, rows, cols); err != nil {
				return err
			}

			// Seats are regenerated free, so cancelled holds release nothing.
			pending, err := s.ledger.ListPending(ctx, eventID, models.LayoutSeated)
			if err != nil {
				return err
			}
			for i := range pending {
				if err := s.ledger.Transition(ctx, &pending[i], models.ReservationCancelled, actor, reconfigureReason); err != nil {
					return err
				}
				cancelled = append(cancelled, pending[i])
			}
			return nil
		})
	})
	if err != nil {
		return impact, err
	}

	impact.CancelledHolds = len(cancelled)
	impact.Applied = true
	s.log.LogSecurity("RECONFIGURE", fmt.Sprintf("%s reset event %s to %dx%d, cancelled %d hold(s), discarded %d sold seat(s)",
		actor, eventID, rows, cols, impact.CancelledHolds, impact.SoldSeats))

	for i := range cancelled {
		s.emitter.Reservation(ctx, events.ReservationCancelled, &cancelled[i], reconfigureReason)
	}
	s.emitter.Availability(eventID)
	return impact, nil
}

func (s *Service) measure(ctx context.Context, impact *models.ReconfigureImpact) error {
	counts, err := s.inventory.SeatedCounts(ctx, impact.EventID)
	if err != nil {
		return err
	}
	pending, err := s.ledger.ListPending(ctx, impact.EventID, models.LayoutSeated)
	if err != nil {
		return err
	}
	impact.SeatedZones = counts.Zones
	impact.HeldSeats = counts.Held
	impact.SoldSeats = counts.Sold
	impact.PendingHolds = len(pending)
	return nil
}

// Get returns a reservation its owner (or a privileged actor) may see.
func (s *Service) Get(ctx context.Context, trackingID string, by Actor) (*models.Reservation, error) {
	r, err := s.ledger.GetByID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if !by.owns(r) {
		return nil, fmt.Errorf("reservation %s: %w", trackingID, models.ErrNotFound)
	}
	return r, nil
}

// Ticket returns the confirmed reservation behind a ticket.
func (s *Service) Ticket(ctx context.Context, trackingID string, by Actor) (*models.Reservation, error) {
	r, err := s.Get(ctx, trackingID, by)
	if err != nil {
		return nil, err
	}
	if r.State != models.ReservationConfirmed {
		return nil, fmt.Errorf("reservation %s is %s: %w", trackingID, r.State, models.ErrConflict)
	}
	return r, nil
}

func (s *Service) ListMine(ctx context.Context, principal string, page, limit int) (*models.Page, error) {
	return s.ledger.ListByPrincipal(ctx, principal, page, limit)
}

func (s *Service) ListByEvent(ctx context.Context, eventID string, state models.ReservationState, page, limit int) (*models.Page, error) {
	if state != "" && !state.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", models.ErrInvalidRequest, state)
	}
	return s.ledger.ListByEvent(ctx, eventID, state, page, limit)
}

func (s *Service) History(ctx context.Context, trackingID string) ([]models.ReservationAudit, error) {
	if _, err := s.ledger.GetByID(ctx, trackingID); err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, trackingID)
}

// IsRejection reports whether err is a client-visible business rejection
// rather than an infrastructure failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		models.ErrCapacityExhausted, models.ErrSeatUnavailable, models.ErrConflict,
		models.ErrHoldExpired, models.ErrNotFound, models.ErrInvalidRequest,
		models.ErrReconfigureUnconfirmed, models.ErrSeatedCapacityEdit,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
