package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-booking/internal/database"
	"ms-booking/internal/models"
)

type EventSpec struct {
	Title    string            `json:"title"`
	StartsAt time.Time         `json:"starts_at"`
	Location string            `json:"location"`
	Layout   models.LayoutKind `json:"layout"`
	Rows     int               `json:"rows"`
	Cols     int               `json:"cols"`
}

// ZoneSpec describes a new zone. Capacity applies to standing events; seated
// zones take Rows x Cols, falling back to the event grid.
type ZoneSpec struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Capacity int    `json:"capacity"`
	Rows     int    `json:"rows"`
	Cols     int    `json:"cols"`
}

type ZoneUpdate struct {
	Capacity *int   `json:"capacity,omitempty"`
	Price    *int64 `json:"price,omitempty"`
}

func (s *Store) CreateEvent(ctx context.Context, spec EventSpec) (*models.Event, error) {
	spec.Title = strings.TrimSpace(spec.Title)
	if spec.Title == "" {
		return nil, fmt.Errorf("%w: title is required", models.ErrInvalidRequest)
	}
	if !spec.Layout.Valid() {
		return nil, fmt.Errorf("%w: layout must be standing or seated", models.ErrInvalidRequest)
	}
	if spec.Rows < 0 || spec.Cols < 0 {
		return nil, fmt.Errorf("%w: negative grid", models.ErrInvalidRequest)
	}
	if spec.Layout == models.LayoutStanding {
		spec.Rows, spec.Cols = 0, 0
	}

	event := &models.Event{
		ID:        uuid.NewString(),
		Title:     spec.Title,
		StartsAt:  spec.StartsAt.UTC(),
		Location:  spec.Location,
		Layout:    spec.Layout,
		SeatRows:  spec.Rows,
		SeatCols:  spec.Cols,
		CreatedAt: s.clock.Now(),
	}
	if _, err := s.conn(ctx).NewInsert().Model(event).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	s.log.Info("INVENTORY", fmt.Sprintf("Created %s event %s (%s)", event.Layout, event.ID, event.Title))
	return event, nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	event := new(models.Event)
	err := s.conn(ctx).NewSelect().Model(event).Where("id = ?", eventID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", eventID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Store) ListZones(ctx context.Context, eventID string) ([]models.Zone, error) {
	var zones []models.Zone
	err := s.conn(ctx).NewSelect().Model(&zones).
		Where("event_id = ?", eventID).
		OrderExpr("name ASC").
		Scan(ctx)
	return zones, err
}

func (s *Store) CreateZone(ctx context.Context, eventID string, spec ZoneSpec) (*models.Zone, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: zone name is required", models.ErrInvalidRequest)
	}
	if spec.Price < 0 {
		return nil, fmt.Errorf("%w: negative price", models.ErrInvalidRequest)
	}

	var zone *models.Zone
	err := database.RunInTx(ctx, s.db, func(ctx context.Context) error {
		event, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		zone = &models.Zone{
			ID:        uuid.NewString(),
			EventID:   event.ID,
			Name:      spec.Name,
			Kind:      event.Layout,
			Price:     spec.Price,
			CreatedAt: now,
			UpdatedAt: now,
		}

		var seats []models.Seat
		if event.Layout == models.LayoutSeated {
			rows, cols := spec.Rows, spec.Cols
			if rows == 0 && cols == 0 {
				rows, cols = event.SeatRows, event.SeatCols
			}
			if rows <= 0 || cols <= 0 {
				return fmt.Errorf("%w: seated zone needs a rows x cols grid", models.ErrInvalidRequest)
			}
			zone.SeatRows, zone.SeatCols = rows, cols
			zone.Total = rows * cols
			seats = generateSeats(event.ID, zone.ID, rows, cols, now)
		} else {
			if spec.Capacity <= 0 {
				return fmt.Errorf("%w: standing zone needs a positive capacity", models.ErrInvalidRequest)
			}
			zone.Total = spec.Capacity
		}
		zone.Available = zone.Total

		if _, err := s.conn(ctx).NewInsert().Model(zone).Exec(ctx); err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("zone %q already exists: %w", spec.Name, models.ErrConflict)
			}
			return fmt.Errorf("insert zone: %w", err)
		}
		return s.insertSeats(ctx, seats)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("INVENTORY", fmt.Sprintf("Created %s zone %q with %d units for event %s", zone.Kind, zone.Name, zone.Total, eventID))
	return zone, nil
}

func (s *Store) insertSeats(ctx context.Context, seats []models.Seat) error {
	for start := 0; start < len(seats); start += seatInsertBatch {
		end := start + seatInsertBatch
		if end > len(seats) {
			end = len(seats)
		}
		batch := seats[start:end]
		if _, err := s.conn(ctx).NewInsert().Model(&batch).Exec(ctx); err != nil {
			return fmt.Errorf("insert seats: %w", err)
		}
	}
	return nil
}

// UpdateZone edits price and, for standing zones, capacity. A capacity change
// moves available by the same delta as total, never below zero. Existing
// reservations keep the price they were admitted at.
func (s *Store) UpdateZone(ctx context.Context, eventID, zoneName string, upd ZoneUpdate) (*models.Zone, error) {
	var zone *models.Zone
	err := database.RunInTx(ctx, s.db, func(ctx context.Context) error {
		var err error
		zone, err = s.GetZone(ctx, eventID, zoneName)
		if err != nil {
			return err
		}

		q := s.conn(ctx).NewUpdate().Model((*models.Zone)(nil)).
			Set("updated_at = ?", s.clock.Now()).
			Where("id = ?", zone.ID)

		if upd.Price != nil {
			if *upd.Price < 0 {
				return fmt.Errorf("%w: negative price", models.ErrInvalidRequest)
			}
			q = q.Set("price = ?", *upd.Price)
		}
		if upd.Capacity != nil {
			if zone.Kind == models.LayoutSeated {
				return models.ErrSeatedCapacityEdit
			}
			if *upd.Capacity < 0 {
				return fmt.Errorf("%w: negative capacity", models.ErrInvalidRequest)
			}
			delta := *upd.Capacity - zone.Total
			q = q.Set("total = ?", *upd.Capacity).
				Set("available = CASE WHEN available + ? < 0 THEN 0 ELSE available + ? END", delta, delta)
		}

		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("update zone %s: %w", zone.ID, err)
		}
		zone, err = s.getZoneByID(ctx, zone.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return zone, nil
}

// Availability returns every zone of an event and, for seated zones, the
// state of each seat ordered by row and column.
func (s *Store) Availability(ctx context.Context, eventID string) (*models.EventAvailability, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	zones, err := s.ListZones(ctx, eventID)
	if err != nil {
		return nil, err
	}

	out := &models.EventAvailability{Event: *event, Zones: make([]models.ZoneAvailability, 0, len(zones))}
	for _, z := range zones {
		za := models.ZoneAvailability{Zone: z}
		if z.Kind == models.LayoutSeated {
			if err := s.conn(ctx).NewSelect().Model(&za.Seats).
				Where("zone_id = ?", z.ID).
				OrderExpr("row_index ASC, col_index ASC").
				Scan(ctx); err != nil {
				return nil, err
			}
		}
		out.Zones = append(out.Zones, za)
	}
	return out, nil
}

type SeatCounts struct {
	Zones int
	Held  int
	Sold  int
}

// SeatedCounts tallies held and sold seats across an event's seated zones.
func (s *Store) SeatedCounts(ctx context.Context, eventID string) (SeatCounts, error) {
	var out SeatCounts
	zones, err := s.ListZones(ctx, eventID)
	if err != nil {
		return out, err
	}
	for _, z := range zones {
		if z.Kind == models.LayoutSeated {
			out.Zones++
		}
	}

	var rows []struct {
		State models.SeatState `bun:"state"`
		N     int              `bun:"n"`
	}
	err = s.conn(ctx).NewSelect().Model((*models.Seat)(nil)).
		ColumnExpr("state").
		ColumnExpr("COUNT(*) AS n").
		Where("event_id = ?", eventID).
		Where("state <> ?", models.SeatFree).
		GroupExpr("state").
		Scan(ctx, &rows)
	if err != nil {
		return out, err
	}
	for _, r := range rows {
		switch r.State {
		case models.SeatHeld:
			out.Held = r.N
		case models.SeatSold:
			out.Sold = r.N
		}
	}
	return out, nil
}

// ResetSeats discards every seat of the event's seated zones and lays out a
// fresh, entirely free rows x cols grid, resetting total and available.
func (s *Store) ResetSeats(ctx context.Context, eventID string, rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("%w: grid must be at least 1x1", models.ErrInvalidRequest)
	}
	return database.RunInTx(ctx, s.db, func(ctx context.Context) error {
		event, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Layout != models.LayoutSeated {
			return fmt.Errorf("%w: event %s has no seat grid", models.ErrInvalidRequest, eventID)
		}

		zones, err := s.ListZones(ctx, eventID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		for _, z := range zones {
			if z.Kind != models.LayoutSeated {
				continue
			}
			if _, err := s.conn(ctx).NewDelete().Model((*models.Seat)(nil)).Where("zone_id = ?", z.ID).Exec(ctx); err != nil {
				return fmt.Errorf("drop seats of zone %s: %w", z.ID, err)
			}
			if err := s.insertSeats(ctx, generateSeats(eventID, z.ID, rows, cols, now)); err != nil {
				return err
			}
			if _, err := s.conn(ctx).NewUpdate().Model((*models.Zone)(nil)).
				Set("seat_rows = ?", rows).
				Set("seat_cols = ?", cols).
				Set("total = ?", rows*cols).
				Set("available = ?", rows*cols).
				Set("updated_at = ?", now).
				Where("id = ?", z.ID).
				Exec(ctx); err != nil {
				return fmt.Errorf("reset zone %s: %w", z.ID, err)
			}
		}

		_, err = s.conn(ctx).NewUpdate().Model((*models.Event)(nil)).
			Set("seat_rows = ?", rows).
			Set("seat_cols = ?", cols).
			Where("id = ?", eventID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update event grid: %w", err)
		}
		s.log.Warn("INVENTORY", fmt.Sprintf("Event %s seat layout reset to %dx%d, all seats free", eventID, rows, cols))
		return nil
	})
}
