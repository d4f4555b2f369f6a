// Package booking settles holds: confirmation, owner cancellation, admin
// overrides and destructive layout changes. It also fronts the catalog and
// listing reads used by the HTTP layer.
package booking

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/clock"
	"ms-booking/internal/database"
	"ms-booking/internal/events"
	"ms-booking/internal/inventory"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// settleAttempts bounds how often a settlement re-reads an entry after
// losing a version race.
const settleAttempts = 3

type Inventory interface {
	Release(ctx context.Context, units models.Units) error
	Commit(ctx context.Context, units models.Units) error

	CreateEvent(ctx context.Context, spec inventory.EventSpec) (*models.Event, error)
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	CreateZone(ctx context.Context, eventID string, spec inventory.ZoneSpec) (*models.Zone, error)
	UpdateZone(ctx context.Context, eventID, zoneName string, upd inventory.ZoneUpdate) (*models.Zone, error)
	Availability(ctx context.Context, eventID string) (*models.EventAvailability, error)
	SeatedCounts(ctx context.Context, eventID string) (inventory.SeatCounts, error)
	ResetSeats(ctx context.Context, eventID string, rows, cols int) error
}

type Ledger interface {
	GetByID(ctx context.Context, id string) (*models.Reservation, error)
	Transition(ctx context.Context, r *models.Reservation, to models.ReservationState, actor, reason string) error
	ListByPrincipal(ctx context.Context, principal string, page, limit int) (*models.Page, error)
	ListByEvent(ctx context.Context, eventID string, state models.ReservationState, page, limit int) (*models.Page, error)
	ListPending(ctx context.Context, eventID string, kind models.LayoutKind) ([]models.Reservation, error)
	History(ctx context.Context, id string) ([]models.ReservationAudit, error)
}

// Actor is whoever asks for a settlement. Privileged actors (admins and
// service tokens) may act on any reservation and are the only ones allowed
// to confirm, since confirmation stands for a successful payment.
type Actor struct {
	ID         string
	Privileged bool
}

func (a Actor) owns(r *models.Reservation) bool {
	return a.Privileged || (a.ID != "" && a.ID == r.Principal)
}

type Service struct {
	tx        database.TxRunner
	inventory Inventory
	ledger    Ledger
	emitter   *events.Emitter
	clock     clock.Clock
	retrier   database.Retrier
	log       *logger.Logger
}

func NewService(tx database.TxRunner, inv Inventory, l Ledger, emitter *events.Emitter, clk clock.Clock, retrier database.Retrier, log *logger.Logger) *Service {
	return &Service{tx: tx, inventory: inv, ledger: l, emitter: emitter, clock: clk, retrier: retrier, log: log}
}

type settled struct {
	event  events.Type
	r      *models.Reservation
	reason string
}

func (s *Service) announce(ctx context.Context, out []settled) {
	for _, e := range out {
		s.emitter.Reservation(ctx, e.event, e.r, e.reason)
	}
}

// settle runs fn in a transaction, re-running it from a fresh read when a
// guarded transition loses a race.
func (s *Service) settle(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < settleAttempts; i++ {
		err = s.retrier.Do(ctx, func(ctx context.Context) error {
			return s.tx.Do(ctx, fn)
		})
		if !errors.Is(err, models.ErrConflict) {
			return err
		}
		s.log.Debug("BOOKING", fmt.Sprintf("Settlement lost a race, re-reading (attempt %d)", i+1))
	}
	return err
}

// Confirm marks a pending hold as sold. It is idempotent: confirming an
// already confirmed reservation succeeds again without side effects. A
// pending hold past its deadline is expired on the spot instead.
func (s *Service) Confirm(ctx context.Context, trackingID string, by Actor) (models.ConfirmResult, error) {
	if !by.Privileged {
		s.log.LogSecurity("CONFIRM_DENIED", fmt.Sprintf("%q may not confirm %s", by.ID, trackingID))
		return models.ConfirmResult{}, fmt.Errorf("confirm %s: %w", trackingID, models.ErrForbidden)
	}

	var (
		result models.ConfirmResult
		done   []settled
	)
	err := s.settle(ctx, func(ctx context.Context) error {
		result, done = models.ConfirmResult{}, nil

		r, err := s.ledger.GetByID(ctx, trackingID)
		if errors.Is(err, models.ErrNotFound) {
			result.State = models.ConfirmNotFound
			return nil
		}
		if err != nil {
			return err
		}

		switch r.State {
		case models.ReservationConfirmed:
			result = models.ConfirmResult{State: models.ConfirmConfirmed, Final: r.State, Reservation: r}
			return nil
		case models.ReservationExpired, models.ReservationCancelled:
			result = models.ConfirmResult{State: models.ConfirmAlreadyFinal, Final: r.State, Reservation: r}
			return nil
		}

		if !s.clock.Now().Before(r.ExpiresAt) {
			if err := s.ledger.Transition(ctx, r, models.ReservationExpired, by.ID, models.ErrHoldExpired.Error()); err != nil {
				return err
			}
			if err := s.inventory.Release(ctx, r.Units()); err != nil {
				return err
			}
			result = models.ConfirmResult{State: models.ConfirmAlreadyFinal, Final: r.State, Reason: models.ErrHoldExpired.Error(), Reservation: r}
			done = []settled{{events.ReservationExpired, r, models.ErrHoldExpired.Error()}}
			return nil
		}

		if err := s.ledger.Transition(ctx, r, models.ReservationConfirmed, by.ID, "payment confirmed"); err != nil {
			return err
		}
		if err := s.inventory.Commit(ctx, r.Units()); err != nil {
			return err
		}
		result = models.ConfirmResult{State: models.ConfirmConfirmed, Final: r.State, Reservation: r}
		done = []settled{{events.ReservationConfirmed, r, ""}}
		return nil
	})
	if err != nil {
		return models.ConfirmResult{}, err
	}

	if len(done) > 0 {
		s.log.LogReservation("CONFIRM", trackingID, fmt.Sprintf("%s by %s", result.Final, by.ID))
	}
	s.announce(ctx, done)
	return result, nil
}

// Cancel lets the owner give a pending hold back. Reservations owned by
// someone else are reported as not found.
func (s *Service) Cancel(ctx context.Context, trackingID, principal string) (models.CancelResult, error) {
	var result models.CancelResult
	err := s.settle(ctx, func(ctx context.Context) error {
		result = models.CancelResult{}

		r, err := s.ledger.GetByID(ctx, trackingID)
		if errors.Is(err, models.ErrNotFound) {
			result.State = models.CancelNotFound
			return nil
		}
		if err != nil {
			return err
		}
		if r.Principal != principal {
			result.State = models.CancelNotFound
			return nil
		}
		if r.State != models.ReservationPending {
			result = models.CancelResult{State: models.CancelConflict, Current: r.State, Reservation: r}
			return nil
		}

		if err := s.ledger.Transition(ctx, r, models.ReservationCancelled, principal, "cancelled by owner"); err != nil {
			return err
		}
		if err := s.inventory.Release(ctx, r.Units()); err != nil {
			return err
		}
		result = models.CancelResult{State: models.CancelCancelled, Current: r.State, Reservation: r}
		return nil
	})
	if err != nil {
		return models.CancelResult{}, err
	}

	if result.State == models.CancelCancelled {
		s.log.LogReservation("CANCEL", trackingID, "cancelled by owner")
		s.emitter.Reservation(ctx, events.ReservationCancelled, result.Reservation, "cancelled by owner")
	}
	return result, nil
}

// Override forces a pending reservation into a terminal state with the same
// inventory effect as the regular path. The actor and reason are audited.
func (s *Service) Override(ctx context.Context, trackingID string, to models.ReservationState, reason, actor string) (*models.Reservation, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("%w: target state must be confirmed, cancelled or expired", models.ErrInvalidRequest)
	}
	if reason == "" {
		reason = "admin override"
	}

	var out *models.Reservation
	err := s.settle(ctx, func(ctx context.Context) error {
		r, err := s.ledger.GetByID(ctx, trackingID)
		if err != nil {
			return err
		}
		if r.State != models.ReservationPending {
			return fmt.Errorf("reservation %s is %s: %w", r.ID, r.State, models.ErrConflict)
		}
		if err := s.ledger.Transition(ctx, r, to, actor, reason); err != nil {
			return err
		}
		if to == models.ReservationConfirmed {
			err = s.inventory.Commit(ctx, r.Units())
		} else {
			err = s.inventory.Release(ctx, r.Units())
		}
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.LogSecurity("OVERRIDE", fmt.Sprintf("%s set reservation %s to %s: %s", actor, trackingID, to, reason))
	s.emitter.Reservation(ctx, events.ForState(to), out, reason)
	return out, nil
}
