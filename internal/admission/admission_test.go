package admission_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/admission"
	"ms-booking/internal/clock"
	"ms-booking/internal/database"
	"ms-booking/internal/inventory"
	"ms-booking/internal/ledger"
	"ms-booking/internal/lock"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/tracking"
	"ms-booking/internal/testutil"
)

type harness struct {
	ctrl    *admission.Controller
	store   *inventory.Store
	ledger  *ledger.Ledger
	tracker *tracking.MemoryStore
	status  *tracking.Service
	clock   *clock.Manual
}

func newHarness(t *testing.T, opts admission.Options) *harness {
	t.Helper()
	return newHarnessWithLedger(t, opts, nil)
}

// newHarnessWithLedger lets a test stand something in front of the ledger
// the controller writes to.
func newHarnessWithLedger(t *testing.T, opts admission.Options, wrap func(admission.Ledger) admission.Ledger) *harness {
	t.Helper()
	db := testutil.NewTestDB(t)
	clk := clock.NewManual(time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC))
	log := logger.NewNop()

	h := &harness{
		store:   inventory.NewStore(db, clk, log),
		ledger:  ledger.New(db, clk, log),
		tracker: tracking.NewMemoryStore(time.Hour),
		clock:   clk,
	}
	h.status = tracking.NewService(h.tracker, h.ledger)
	var writer admission.Ledger = h.ledger
	if wrap != nil {
		writer = wrap(writer)
	}
	h.ctrl = admission.NewController(admission.Deps{
		Tx:        database.NewTransactor(db),
		Inventory: h.store,
		Ledger:    writer,
		Locker:    lock.NewLocal(5 * time.Second),
		Tracker:   h.tracker,
		Clock:     clk,
		Retrier:   database.Retrier{Attempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Logger:    log,
	}, opts)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) standing(t *testing.T, capacity int) string {
	t.Helper()
	ctx := context.Background()
	event, err := h.store.CreateEvent(ctx, inventory.EventSpec{Title: "Gig", StartsAt: time.Now(), Layout: models.LayoutStanding})
	require.NoError(t, err)
	_, err = h.store.CreateZone(ctx, event.ID, inventory.ZoneSpec{Name: "GA", Price: 1000, Capacity: capacity})
	require.NoError(t, err)
	return event.ID
}

func (h *harness) seated(t *testing.T, rows, cols int) string {
	t.Helper()
	ctx := context.Background()
	event, err := h.store.CreateEvent(ctx, inventory.EventSpec{Title: "Play", StartsAt: time.Now(), Layout: models.LayoutSeated, Rows: rows, Cols: cols})
	require.NoError(t, err)
	_, err = h.store.CreateZone(ctx, event.ID, inventory.ZoneSpec{Name: "Circle", Price: 4200})
	require.NoError(t, err)
	return event.ID
}

func (h *harness) available(t *testing.T, eventID, zone string) int {
	t.Helper()
	z, err := h.store.GetZone(context.Background(), eventID, zone)
	require.NoError(t, err)
	return z.Available
}

func TestSyncAdmissionCreatesPendingHold(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeSync, HoldTTL: 5 * time.Minute})
	eventID := h.standing(t, 5)

	out, err := h.ctrl.RequestBooking(context.Background(), models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 2, Principal: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.AdmissionPending, out.State)
	require.NotNil(t, out.Reservation)
	assert.Equal(t, int64(2000), out.Reservation.TotalPrice)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), out.ExpiresAt)
	assert.Equal(t, 3, h.available(t, eventID, "GA"))

	r, err := h.ledger.GetByID(context.Background(), out.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationPending, r.State)
	assert.Equal(t, "alice", r.Principal)
}

func TestTwoConcurrentSixesAgainstTen(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeSync})
	eventID := h.standing(t, 10)

	outcomes := make([]models.AdmissionOutcome, 2)
	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.ctrl.RequestBooking(context.Background(), models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 6, Principal: fmt.Sprintf("user-%d", i)})
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	var admitted, rejected int
	for _, out := range outcomes {
		switch out.State {
		case models.AdmissionPending:
			admitted++
		case models.AdmissionRejected:
			rejected++
			assert.ErrorIs(t, out.Err, models.ErrCapacityExhausted)
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 4, h.available(t, eventID, "GA"))

	page, err := h.ledger.ListByEvent(context.Background(), eventID, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total, "rejections leave no ledger entry")
}

func TestNeverOversellsUnderBurst(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeSync})
	eventID := h.standing(t, 7)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		held int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			qty := i%3 + 1
			out, err := h.ctrl.RequestBooking(context.Background(), models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: qty, Principal: "p"})
			assert.NoError(t, err)
			if out.State == models.AdmissionPending {
				mu.Lock()
				held += qty
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, held, 7)
	assert.Equal(t, 7-held, h.available(t, eventID, "GA"))
}

func TestSameSeatRaceOnlyOneWins(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeSync})
	eventID := h.seated(t, 2, 4)

	requests := [][]string{{"A1"}, {"A1", "A2"}}
	outcomes := make([]models.AdmissionOutcome, len(requests))
	var wg sync.WaitGroup
	for i, seats := range requests {
		wg.Add(1)
		go func(i int, seats []string) {
			defer wg.Done()
			out, err := h.ctrl.RequestBooking(context.Background(), models.BookingRequest{EventID: eventID, ZoneName: "Circle", SeatIDs: seats, Principal: "p"})
			assert.NoError(t, err)
			outcomes[i] = out
		}(i, seats)
	}
	wg.Wait()

	winners := 0
	for _, out := range outcomes {
		if out.State == models.AdmissionPending {
			winners++
		} else {
			assert.ErrorIs(t, out.Err, models.ErrSeatUnavailable)
		}
	}
	assert.Equal(t, 1, winners)

	avail, err := h.store.Availability(context.Background(), eventID)
	require.NoError(t, err)
	var heldSeats []string
	for _, seat := range avail.Zones[0].Seats {
		if seat.State == models.SeatHeld {
			heldSeats = append(heldSeats, seat.Label)
		}
	}
	if outcomes[0].State == models.AdmissionPending {
		assert.Equal(t, []string{"A1"}, heldSeats)
	} else {
		assert.Equal(t, []string{"A1", "A2"}, heldSeats, "multi-seat request is all or nothing")
	}
	assert.Equal(t, 8-len(heldSeats), avail.Zones[0].Zone.Available)
}

func TestDisjointSeatsBothSucceed(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeSync})
	eventID := h.seated(t, 1, 4)
	ctx := context.Background()

	a, err := h.ctrl.RequestBooking(ctx, models.BookingRequest{EventID: eventID, ZoneName: "Circle", SeatIDs: []string{"a1", "A2"}, Principal: "p"})
	require.NoError(t, err)
	b, err := h.ctrl.RequestBooking(ctx, models.BookingRequest{EventID: eventID, ZoneName: "Circle", SeatIDs: []string{"A3"}, Principal: "q"})
	require.NoError(t, err)

	assert.Equal(t, models.AdmissionPending, a.State)
	assert.Equal(t, models.AdmissionPending, b.State)
	assert.Equal(t, []string{"A1", "A2"}, a.Reservation.SeatLabels)
	assert.Equal(t, int64(8400), a.Reservation.TotalPrice)
}

func TestValidationErrors(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeSync, MaxPerRequest: 4})
	eventID := h.standing(t, 10)
	ctx := context.Background()

	_, err := h.ctrl.RequestBooking(ctx, models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 5, Principal: "p"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = h.ctrl.RequestBooking(ctx, models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 0, Principal: "p"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = h.ctrl.RequestBooking(ctx, models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 1})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = h.ctrl.RequestBooking(ctx, models.BookingRequest{EventID: eventID, ZoneName: "Balcony", Quantity: 1, Principal: "p"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func waitSettled(t *testing.T, h *harness, ids []string) map[string]models.Status {
	t.Helper()
	out := map[string]models.Status{}
	require.Eventually(t, func() bool {
		for _, id := range ids {
			st, err := h.status.Status(context.Background(), id)
			if err != nil || st.State == string(models.AdmissionProcessing) {
				return false
			}
			out[id] = st
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return out
}

func TestQueuedModeIsFirstComeFirstServed(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeQueued})
	eventID := h.standing(t, 3)

	var ids []string
	for i := 0; i < 5; i++ {
		out, err := h.ctrl.RequestBooking(context.Background(), models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 1, Principal: fmt.Sprintf("u%d", i)})
		require.NoError(t, err)
		assert.Equal(t, models.AdmissionProcessing, out.State)
		require.NotEmpty(t, out.TrackingID)
		ids = append(ids, out.TrackingID)
	}

	statuses := waitSettled(t, h, ids)
	for i, id := range ids {
		if i < 3 {
			assert.Equal(t, "pending", statuses[id].State, "request %d arrived early enough", i)
			assert.Equal(t, id, statuses[id].BookingID, "the booking reuses the tracking id")
		} else {
			assert.Equal(t, "rejected", statuses[id].State, "request %d arrived too late", i)
			assert.Equal(t, models.ErrCapacityExhausted.Error(), statuses[id].Reason)
		}
	}
	assert.Equal(t, 0, h.available(t, eventID, "GA"))
}

func TestQueueFullIsRetryableRejection(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeQueued, QueueCapacity: 1})
	eventID := h.standing(t, 100)

	full := false
	for i := 0; i < 50 && !full; i++ {
		out, err := h.ctrl.RequestBooking(context.Background(), models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 1, Principal: "p"})
		require.NoError(t, err)
		if out.State == models.AdmissionRejected {
			assert.ErrorIs(t, out.Err, models.ErrQueueFull)
			st, err := h.status.Status(context.Background(), out.TrackingID)
			require.NoError(t, err)
			assert.Equal(t, "rejected", st.State)
			full = true
		}
	}
	assert.True(t, full, "a one-slot queue overflows under a tight loop")
}

func TestAutoModeQueuesBehindExistingQueue(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeAuto, QueueThreshold: 1000})
	eventID := h.standing(t, 5)

	out, err := h.ctrl.RequestBooking(context.Background(), models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 1, Principal: "p"})
	require.NoError(t, err)
	assert.Equal(t, models.AdmissionPending, out.State, "no contention admits synchronously")
	assert.Equal(t, 0, h.ctrl.QueueDepth(lockKey(eventID)))
}

func lockKey(eventID string) string {
	return lock.ZoneKey(eventID, "GA")
}

type failingLedger struct {
	admission.Ledger
	err error
}

func (f failingLedger) Create(context.Context, *models.Reservation, string) error {
	return f.err
}

func TestLedgerFailureRollsBackHold(t *testing.T) {
	h := newHarnessWithLedger(t, admission.Options{Mode: admission.ModeSync}, func(l admission.Ledger) admission.Ledger {
		return failingLedger{Ledger: l, err: errors.New("database is locked")}
	})
	eventID := h.standing(t, 5)

	_, err := h.ctrl.RequestBooking(context.Background(), models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 2, Principal: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Equal(t, 5, h.available(t, eventID, "GA"), "the inventory hold is rolled back with the ledger write")

	page, err := h.ledger.ListByEvent(context.Background(), eventID, "", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestSyncRejectionIsTracked(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeSync})
	eventID := h.standing(t, 1)

	out, err := h.ctrl.RequestBooking(context.Background(), models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 2, Principal: "alice"})
	require.NoError(t, err)
	require.Equal(t, models.AdmissionRejected, out.State)
	require.NotEmpty(t, out.TrackingID)

	st, err := h.status.Status(context.Background(), out.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, "rejected", st.State)
	assert.Equal(t, models.ErrCapacityExhausted.Error(), st.Reason)
}

func TestCloseDuringEnqueueLeavesNothingProcessing(t *testing.T) {
	h := newHarness(t, admission.Options{Mode: admission.ModeQueued})
	events := make([]string, 20)
	for i := range events {
		events[i] = h.standing(t, 5)
	}

	type result struct {
		out models.AdmissionOutcome
		err error
	}
	results := make([]result, len(events))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, eventID := range events {
		wg.Add(1)
		go func(i int, eventID string) {
			defer wg.Done()
			<-start
			out, err := h.ctrl.RequestBooking(context.Background(), models.BookingRequest{EventID: eventID, ZoneName: "GA", Quantity: 1, Principal: "p"})
			results[i] = result{out, err}
		}(i, eventID)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		h.ctrl.Close()
	}()
	close(start)
	wg.Wait()
	h.ctrl.Close()

	for _, r := range results {
		if r.err != nil {
			assert.ErrorIs(t, r.err, models.ErrStoreUnavailable)
			continue
		}
		st, err := h.status.Status(context.Background(), r.out.TrackingID)
		require.NoError(t, err)
		assert.NotEqual(t, string(models.AdmissionProcessing), st.State, "request %s was stranded", r.out.TrackingID)
	}
}
