package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/clock"
	"ms-booking/internal/inventory"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/testutil"
)

func setupStore(t *testing.T) *inventory.Store {
	t.Helper()
	db := testutil.NewTestDB(t)
	return inventory.NewStore(db, clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), logger.NewNop())
}

func standingZone(t *testing.T, s *inventory.Store, capacity int) (*models.Event, *models.Zone) {
	t.Helper()
	ctx := context.Background()
	event, err := s.CreateEvent(ctx, inventory.EventSpec{Title: "Festival", StartsAt: time.Now(), Layout: models.LayoutStanding})
	require.NoError(t, err)
	zone, err := s.CreateZone(ctx, event.ID, inventory.ZoneSpec{Name: "GA", Price: 2500, Capacity: capacity})
	require.NoError(t, err)
	return event, zone
}

func seatedZone(t *testing.T, s *inventory.Store, rows, cols int) (*models.Event, *models.Zone) {
	t.Helper()
	ctx := context.Background()
	event, err := s.CreateEvent(ctx, inventory.EventSpec{Title: "Opera", StartsAt: time.Now(), Layout: models.LayoutSeated, Rows: rows, Cols: cols})
	require.NoError(t, err)
	zone, err := s.CreateZone(ctx, event.ID, inventory.ZoneSpec{Name: "Stalls", Price: 8000})
	require.NoError(t, err)
	return event, zone
}

func TestRowLabel(t *testing.T) {
	assert.Equal(t, "A", inventory.RowLabel(0))
	assert.Equal(t, "Z", inventory.RowLabel(25))
	assert.Equal(t, "AA", inventory.RowLabel(26))
	assert.Equal(t, "AB", inventory.RowLabel(27))
	assert.Equal(t, "BA", inventory.RowLabel(52))
	assert.Equal(t, "C7", inventory.SeatLabel(2, 6))
}

func TestNormalizeLabels(t *testing.T) {
	labels, err := inventory.NormalizeLabels([]string{" b2", "a1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B2"}, labels)

	_, err = inventory.NormalizeLabels([]string{"A1", "a1"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = inventory.NormalizeLabels(nil)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestTryReserveStanding(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	event, zone := standingZone(t, s, 10)

	units, priced, err := s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "GA", Quantity: 6, ReservationID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 6, units.Quantity)
	assert.Equal(t, int64(2500), priced.Price)

	_, _, err = s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "GA", Quantity: 6, ReservationID: "r2"})
	assert.ErrorIs(t, err, models.ErrCapacityExhausted)

	got, err := s.GetZone(ctx, event.ID, "GA")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Available, "rejected request must not mutate")
	assert.Equal(t, zone.Total, got.Total)
}

func TestTryReserveRejectsBadInput(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	event, _ := standingZone(t, s, 10)

	_, _, err := s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "GA", Quantity: 0})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, _, err = s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "GA", SeatLabels: []string{"A1"}})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, _, err = s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "VIP", Quantity: 1})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTryReserveSeatedIsAllOrNothing(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	event, _ := seatedZone(t, s, 2, 3)

	_, _, err := s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "Stalls", SeatLabels: []string{"A1"}, ReservationID: "r1"})
	require.NoError(t, err)

	_, _, err = s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "Stalls", SeatLabels: []string{"A2", "A1"}, ReservationID: "r2"})
	assert.ErrorIs(t, err, models.ErrSeatUnavailable)

	avail, err := s.Availability(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, avail.Zones, 1)
	zone := avail.Zones[0]
	assert.Equal(t, 5, zone.Zone.Available)
	for _, seat := range zone.Seats {
		switch seat.Label {
		case "A1":
			assert.Equal(t, models.SeatHeld, seat.State)
		default:
			assert.Equal(t, models.SeatFree, seat.State, seat.Label)
		}
	}

	_, _, err = s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "Stalls", SeatLabels: []string{"Z9"}, ReservationID: "r3"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestReleaseAndCommitSeats(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	event, _ := seatedZone(t, s, 1, 4)

	held, _, err := s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "Stalls", SeatLabels: []string{"A1", "A2"}, ReservationID: "hold-1"})
	require.NoError(t, err)
	sold, _, err := s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "Stalls", SeatLabels: []string{"A3"}, ReservationID: "hold-2"})
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, held))
	require.NoError(t, s.Commit(ctx, sold))

	avail, err := s.Availability(ctx, event.ID)
	require.NoError(t, err)
	states := map[string]models.SeatState{}
	for _, seat := range avail.Zones[0].Seats {
		states[seat.Label] = seat.State
	}
	assert.Equal(t, map[string]models.SeatState{"A1": models.SeatFree, "A2": models.SeatFree, "A3": models.SeatSold, "A4": models.SeatFree}, states)
	assert.Equal(t, 3, avail.Zones[0].Zone.Available)

	// Sold seats are never released.
	require.NoError(t, s.Release(ctx, sold))
	zone, err := s.GetZone(ctx, event.ID, "Stalls")
	require.NoError(t, err)
	assert.Equal(t, 3, zone.Available)

	err = s.Commit(ctx, held)
	assert.ErrorIs(t, err, models.ErrInventoryMismatch)
	assert.NotErrorIs(t, err, models.ErrConflict, "a mismatch is not a lost race")
}

func TestReleaseStandingIsClampedToTotal(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	event, _ := standingZone(t, s, 5)

	units, _, err := s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "GA", Quantity: 2, ReservationID: "r1"})
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, units))

	require.NoError(t, s.Release(ctx, units))
	require.NoError(t, s.Release(ctx, units))

	zone, err := s.GetZone(ctx, event.ID, "GA")
	require.NoError(t, err)
	assert.Equal(t, 5, zone.Available)
}

func TestUpdateZoneCapacity(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	event, _ := standingZone(t, s, 10)

	_, _, err := s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "GA", Quantity: 7, ReservationID: uuid.NewString()})
	require.NoError(t, err)

	grow := 15
	zone, err := s.UpdateZone(ctx, event.ID, "GA", inventory.ZoneUpdate{Capacity: &grow})
	require.NoError(t, err)
	assert.Equal(t, 15, zone.Total)
	assert.Equal(t, 8, zone.Available)

	shrink := 2
	zone, err = s.UpdateZone(ctx, event.ID, "GA", inventory.ZoneUpdate{Capacity: &shrink})
	require.NoError(t, err)
	assert.Equal(t, 2, zone.Total)
	assert.Equal(t, 0, zone.Available, "available is clamped at zero")

	price := int64(3100)
	zone, err = s.UpdateZone(ctx, event.ID, "GA", inventory.ZoneUpdate{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(3100), zone.Price)
}

func TestUpdateZoneRejectsSeatedCapacity(t *testing.T) {
	s := setupStore(t)
	event, _ := seatedZone(t, s, 2, 2)
	capacity := 10
	_, err := s.UpdateZone(context.Background(), event.ID, "Stalls", inventory.ZoneUpdate{Capacity: &capacity})
	assert.ErrorIs(t, err, models.ErrSeatedCapacityEdit)
}

func TestCreateZoneDuplicateName(t *testing.T) {
	s := setupStore(t)
	event, _ := standingZone(t, s, 10)
	_, err := s.CreateZone(context.Background(), event.ID, inventory.ZoneSpec{Name: "GA", Capacity: 3})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestResetSeatsFreesEverything(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	event, _ := seatedZone(t, s, 2, 2)

	units, _, err := s.TryReserve(ctx, inventory.Reserve{EventID: event.ID, ZoneName: "Stalls", SeatLabels: []string{"A1", "B2"}, ReservationID: "r1"})
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, units))

	counts, err := s.SeatedCounts(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.SeatCounts{Zones: 1, Sold: 2}, counts)

	require.NoError(t, s.ResetSeats(ctx, event.ID, 3, 4))

	avail, err := s.Availability(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, avail.Event.SeatRows)
	assert.Equal(t, 4, avail.Event.SeatCols)
	zone := avail.Zones[0]
	assert.Equal(t, 12, zone.Zone.Total)
	assert.Equal(t, 12, zone.Zone.Available)
	require.Len(t, zone.Seats, 12)
	for _, seat := range zone.Seats {
		assert.Equal(t, models.SeatFree, seat.State)
	}
	assert.Equal(t, "C4", zone.Seats[11].Label)
}
