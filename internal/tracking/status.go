package tracking

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/models"
)

type ReservationReader interface {
	GetByID(ctx context.Context, id string) (*models.Reservation, error)
}

// Service answers status polls. The ledger is authoritative once an entry
// exists; the tracker covers queued and rejected requests that never
// reached it.
type Service struct {
	tracker Store
	ledger  ReservationReader
}

func NewService(tracker Store, ledger ReservationReader) *Service {
	return &Service{tracker: tracker, ledger: ledger}
}

func (s *Service) Status(ctx context.Context, trackingID string) (models.Status, error) {
	rec, found, err := s.tracker.Get(ctx, trackingID)
	if err != nil {
		return models.Status{}, err
	}
	if found && rec.State != models.AdmissionPending {
		return models.Status{TrackingID: trackingID, State: string(rec.State), Reason: rec.Reason}, nil
	}

	r, err := s.ledger.GetByID(ctx, trackingID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Status{}, fmt.Errorf("tracking id %s: %w", trackingID, models.ErrNotFound)
	}
	if err != nil {
		return models.Status{}, err
	}
	return models.Status{TrackingID: trackingID, State: string(r.State), BookingID: r.ID}, nil
}
