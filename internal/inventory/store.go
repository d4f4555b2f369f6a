package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-booking/internal/clock"
	"ms-booking/internal/database"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

const seatInsertBatch = 500

// Store owns zone counts and seat states. Every mutation is a single
// conditional statement, so callers never read-then-write availability.
type Store struct {
	db    *bun.DB
	clock clock.Clock
	log   *logger.Logger
}

func NewStore(db *bun.DB, clk clock.Clock, log *logger.Logger) *Store {
	return &Store{db: db, clock: clk, log: log}
}

// Reserve asks for quantity units of a standing zone, or exactly SeatLabels
// of a seated one, on behalf of ReservationID.
type Reserve struct {
	EventID       string
	ZoneName      string
	Quantity      int
	SeatLabels    []string
	ReservationID string
}

func (s *Store) conn(ctx context.Context) bun.IDB {
	return database.Conn(ctx, s.db)
}

// GetZone loads a zone by its event and name.
func (s *Store) GetZone(ctx context.Context, eventID, zoneName string) (*models.Zone, error) {
	zone := new(models.Zone)
	err := s.conn(ctx).NewSelect().Model(zone).
		Where("event_id = ?", eventID).
		Where("name = ?", zoneName).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("zone %q of event %s: %w", zoneName, eventID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return zone, nil
}

func (s *Store) getZoneByID(ctx context.Context, zoneID string) (*models.Zone, error) {
	zone := new(models.Zone)
	err := s.conn(ctx).NewSelect().Model(zone).Where("id = ?", zoneID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("zone %s: %w", zoneID, models.ErrNotFound)
	}
	return zone, err
}

// TryReserve holds the requested units or changes nothing. It returns the
// units held and the zone as it was priced at that moment.
func (s *Store) TryReserve(ctx context.Context, req Reserve) (models.Units, *models.Zone, error) {
	var (
		units models.Units
		zone  *models.Zone
	)
	err := database.RunInTx(ctx, s.db, func(ctx context.Context) error {
		var err error
		zone, err = s.GetZone(ctx, req.EventID, req.ZoneName)
		if err != nil {
			return err
		}
		switch zone.Kind {
		case models.LayoutSeated:
			units, err = s.holdSeats(ctx, zone, req)
		default:
			units, err = s.holdQuantity(ctx, zone, req)
		}
		return err
	})
	if err != nil {
		return models.Units{}, nil, err
	}
	return units, zone, nil
}

func (s *Store) holdQuantity(ctx context.Context, zone *models.Zone, req Reserve) (models.Units, error) {
	if len(req.SeatLabels) > 0 {
		return models.Units{}, fmt.Errorf("%w: zone %q is standing, seat ids not accepted", models.ErrInvalidRequest, zone.Name)
	}
	if req.Quantity <= 0 {
		return models.Units{}, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidRequest)
	}

	res, err := s.conn(ctx).NewUpdate().Model((*models.Zone)(nil)).
		Set("available = available - ?", req.Quantity).
		Set("updated_at = ?", s.clock.Now()).
		Where("id = ?", zone.ID).
		Where("available >= ?", req.Quantity).
		Exec(ctx)
	if err != nil {
		return models.Units{}, fmt.Errorf("decrement zone %s: %w", zone.ID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return models.Units{}, fmt.Errorf("zone %q: %w", zone.Name, models.ErrCapacityExhausted)
	}

	return models.Units{
		EventID:       zone.EventID,
		ZoneID:        zone.ID,
		Kind:          models.LayoutStanding,
		Quantity:      req.Quantity,
		ReservationID: req.ReservationID,
	}, nil
}

func (s *Store) holdSeats(ctx context.Context, zone *models.Zone, req Reserve) (models.Units, error) {
	labels, err := NormalizeLabels(req.SeatLabels)
	if err != nil {
		return models.Units{}, err
	}
	if req.Quantity != 0 && req.Quantity != len(labels) {
		return models.Units{}, fmt.Errorf("%w: quantity %d does not match %d seat ids", models.ErrInvalidRequest, req.Quantity, len(labels))
	}

	known, err := s.conn(ctx).NewSelect().Model((*models.Seat)(nil)).
		Where("zone_id = ?", zone.ID).
		Where("label IN (?)", bun.In(labels)).
		Count(ctx)
	if err != nil {
		return models.Units{}, err
	}
	if known != len(labels) {
		return models.Units{}, fmt.Errorf("%w: unknown seat in zone %q", models.ErrInvalidRequest, zone.Name)
	}

	now := s.clock.Now()
	res, err := s.conn(ctx).NewUpdate().Model((*models.Seat)(nil)).
		Set("state = ?", models.SeatHeld).
		Set("reservation_id = ?", req.ReservationID).
		Set("updated_at = ?", now).
		Where("zone_id = ?", zone.ID).
		Where("label IN (?)", bun.In(labels)).
		Where("state = ?", models.SeatFree).
		Exec(ctx)
	if err != nil {
		return models.Units{}, fmt.Errorf("hold seats: %w", err)
	}
	// Fewer rows than labels means some seat was not free; the caller's
	// transaction rolls the partial hold back.
	if n, _ := res.RowsAffected(); int(n) != len(labels) {
		return models.Units{}, fmt.Errorf("zone %q: %w", zone.Name, models.ErrSeatUnavailable)
	}

	res, err = s.conn(ctx).NewUpdate().Model((*models.Zone)(nil)).
		Set("available = available - ?", len(labels)).
		Set("updated_at = ?", now).
		Where("id = ?", zone.ID).
		Where("available >= ?", len(labels)).
		Exec(ctx)
	if err != nil {
		return models.Units{}, fmt.Errorf("decrement zone %s: %w", zone.ID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return models.Units{}, fmt.Errorf("zone %q: %w", zone.Name, models.ErrSeatUnavailable)
	}

	return models.Units{
		EventID:       zone.EventID,
		ZoneID:        zone.ID,
		Kind:          models.LayoutSeated,
		Quantity:      len(labels),
		SeatLabels:    labels,
		ReservationID: req.ReservationID,
	}, nil
}

// Release returns held units to the pool. Seats are matched by the owning
// reservation, so seats regenerated since the hold are left alone.
func (s *Store) Release(ctx context.Context, units models.Units) error {
	return database.RunInTx(ctx, s.db, func(ctx context.Context) error {
		count := units.Quantity
		now := s.clock.Now()

		if units.Kind == models.LayoutSeated {
			res, err := s.conn(ctx).NewUpdate().Model((*models.Seat)(nil)).
				Set("state = ?", models.SeatFree).
				Set("reservation_id = NULL").
				Set("updated_at = ?", now).
				Where("zone_id = ?", units.ZoneID).
				Where("reservation_id = ?", units.ReservationID).
				Where("state = ?", models.SeatHeld).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("free seats: %w", err)
			}
			n, _ := res.RowsAffected()
			if int(n) != len(units.SeatLabels) {
				s.log.Warn("INVENTORY", fmt.Sprintf("Reservation %s released %d of %d seats", units.ReservationID, n, len(units.SeatLabels)))
			}
			count = int(n)
		}
		if count == 0 {
			return nil
		}

		_, err := s.conn(ctx).NewUpdate().Model((*models.Zone)(nil)).
			Set("available = CASE WHEN available + ? > total THEN total ELSE available + ? END", count, count).
			Set("updated_at = ?", now).
			Where("id = ?", units.ZoneID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("increment zone %s: %w", units.ZoneID, err)
		}
		return nil
	})
}

// Commit turns held seats into sold ones. Standing units were already
// taken from the count at reservation time, so there is nothing to do.
func (s *Store) Commit(ctx context.Context, units models.Units) error {
	if units.Kind != models.LayoutSeated {
		return nil
	}
	res, err := s.conn(ctx).NewUpdate().Model((*models.Seat)(nil)).
		Set("state = ?", models.SeatSold).
		Set("updated_at = ?", s.clock.Now()).
		Where("zone_id = ?", units.ZoneID).
		Where("reservation_id = ?", units.ReservationID).
		Where("state = ?", models.SeatHeld).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sell seats: %w", err)
	}
	if n, _ := res.RowsAffected(); int(n) != len(units.SeatLabels) {
		s.log.Error("INVENTORY", fmt.Sprintf("Reservation %s holds %d of %d seats at commit", units.ReservationID, n, len(units.SeatLabels)))
		return fmt.Errorf("reservation %s holds %d of %d seats: %w", units.ReservationID, n, len(units.SeatLabels), models.ErrInventoryMismatch)
	}
	return nil
}
