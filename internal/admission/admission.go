// Package admission turns booking requests into holds. Requests for the same
// zone, or overlapping seats, are serialised through a lock scope; under
// contention they are queued and drained in arrival order by one worker per
// zone.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"ms-booking/internal/clock"
	"ms-booking/internal/database"
	"ms-booking/internal/events"
	"ms-booking/internal/inventory"
	"ms-booking/internal/lock"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/tracking"
)

type Mode string

const (
	ModeSync   Mode = "sync"
	ModeQueued Mode = "queued"
	ModeAuto   Mode = "auto"
)

type Inventory interface {
	GetZone(ctx context.Context, eventID, zoneName string) (*models.Zone, error)
	TryReserve(ctx context.Context, req inventory.Reserve) (models.Units, *models.Zone, error)
}

type Ledger interface {
	Create(ctx context.Context, r *models.Reservation, actor string) error
}

type Options struct {
	Mode           Mode
	HoldTTL        time.Duration
	QueueThreshold int
	QueueCapacity  int
	MaxPerRequest  int
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.HoldTTL <= 0 {
		o.HoldTTL = 10 * time.Minute
	}
	if o.QueueThreshold <= 0 {
		o.QueueThreshold = 8
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 1024
	}
	return o
}

type Deps struct {
	Tx        database.TxRunner
	Inventory Inventory
	Ledger    Ledger
	Locker    lock.Locker
	Tracker   tracking.Store
	Emitter   *events.Emitter
	Clock     clock.Clock
	Retrier   database.Retrier
	Logger    *logger.Logger
}

type job struct {
	id       string
	req      models.BookingRequest
	zone     *models.Zone
	labels   []string
	enqueued time.Time
}

type zoneQueue struct {
	key  string
	jobs chan job
}

type Controller struct {
	Deps
	opts Options

	inflight *xsync.MapOf[string, *xsync.Counter]
	queues   *xsync.MapOf[string, *zoneQueue]

	// mu orders enqueues against Close so no worker starts or job lands
	// once shutdown has begun.
	mu       sync.RWMutex
	closed   bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	newID    func() string
}

func NewController(deps Deps, opts Options) *Controller {
	return &Controller{
		Deps:     deps,
		opts:     opts.withDefaults(),
		inflight: xsync.NewMapOf[string, *xsync.Counter](),
		queues:   xsync.NewMapOf[string, *zoneQueue](),
		stop:     make(chan struct{}),
		newID:    uuid.NewString,
	}
}

// RequestBooking admits, queues or rejects a request. Rejections for lack of
// capacity come back as an outcome; the error is reserved for bad input,
// unknown zones and an unavailable store.
func (c *Controller) RequestBooking(ctx context.Context, req models.BookingRequest) (models.AdmissionOutcome, error) {
	zone, labels, err := c.validate(ctx, req)
	if err != nil {
		return models.AdmissionOutcome{}, err
	}

	key := lock.ZoneKey(req.EventID, zone.Name)
	if c.shouldQueue(key) {
		return c.enqueue(ctx, key, job{id: c.newID(), req: req, zone: zone, labels: labels, enqueued: c.Clock.Now()})
	}

	counter, _ := c.inflight.LoadOrCompute(key, xsync.NewCounter)
	counter.Inc()
	defer counter.Dec()

	return c.admit(ctx, c.newID(), req, zone, labels)
}

func (c *Controller) validate(ctx context.Context, req models.BookingRequest) (*models.Zone, []string, error) {
	if strings.TrimSpace(req.EventID) == "" || strings.TrimSpace(req.ZoneName) == "" {
		return nil, nil, fmt.Errorf("%w: event_id and zone are required", models.ErrInvalidRequest)
	}
	if req.Principal == "" {
		return nil, nil, fmt.Errorf("%w: principal is required", models.ErrInvalidRequest)
	}

	zone, err := c.Inventory.GetZone(ctx, req.EventID, req.ZoneName)
	if err != nil {
		return nil, nil, err
	}

	count := req.Quantity
	var labels []string
	if zone.Kind == models.LayoutSeated {
		if labels, err = inventory.NormalizeLabels(req.SeatIDs); err != nil {
			return nil, nil, err
		}
		count = len(labels)
	} else if len(req.SeatIDs) > 0 {
		return nil, nil, fmt.Errorf("%w: zone %q is standing, seat ids not accepted", models.ErrInvalidRequest, zone.Name)
	}
	if count <= 0 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidRequest)
	}
	if c.opts.MaxPerRequest > 0 && count > c.opts.MaxPerRequest {
		return nil, nil, fmt.Errorf("%w: at most %d tickets per request", models.ErrInvalidRequest, c.opts.MaxPerRequest)
	}
	return zone, labels, nil
}

func (c *Controller) shouldQueue(key string) bool {
	switch c.opts.Mode {
	case ModeSync:
		return false
	case ModeQueued:
		return true
	}
	if q, ok := c.queues.Load(key); ok && len(q.jobs) > 0 {
		return true
	}
	counter, ok := c.inflight.Load(key)
	return ok && counter.Value() >= int64(c.opts.QueueThreshold)
}

func scopeKeys(req models.BookingRequest, zone *models.Zone, labels []string) []string {
	if zone.Kind == models.LayoutSeated {
		return lock.SeatKeys(req.EventID, zone.Name, labels)
	}
	return []string{lock.ZoneKey(req.EventID, zone.Name)}
}

// admit runs the critical section: check-and-hold inventory and append the
// ledger entry in one transaction, under the request's lock scope.
func (c *Controller) admit(ctx context.Context, id string, req models.BookingRequest, zone *models.Zone, labels []string) (models.AdmissionOutcome, error) {
	release, err := c.Locker.Acquire(ctx, scopeKeys(req, zone, labels))
	if err != nil {
		if errors.Is(err, models.ErrLockTimeout) {
			return models.AdmissionOutcome{}, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		return models.AdmissionOutcome{}, err
	}
	defer release()

	var reservation *models.Reservation
	err = c.Retrier.Do(ctx, func(ctx context.Context) error {
		return c.Tx.Do(ctx, func(ctx context.Context) error {
			units, priced, err := c.Inventory.TryReserve(ctx, inventory.Reserve{
				EventID:       req.EventID,
				ZoneName:      zone.Name,
				Quantity:      req.Quantity,
				SeatLabels:    labels,
				ReservationID: id,
			})
			if err != nil {
				return err
			}

			now := c.Clock.Now()
			reservation = &models.Reservation{
				ID:         id,
				EventID:    units.EventID,
				ZoneID:     units.ZoneID,
				ZoneName:   priced.Name,
				Kind:       units.Kind,
				Principal:  req.Principal,
				Quantity:   units.Quantity,
				SeatLabels: units.SeatLabels,
				UnitPrice:  priced.Price,
				TotalPrice: priced.Price * int64(units.Quantity),
				CreatedAt:  now,
				ExpiresAt:  now.Add(c.opts.HoldTTL),
			}
			return c.Ledger.Create(ctx, reservation, req.Principal)
		})
	})

	switch {
	case errors.Is(err, models.ErrCapacityExhausted), errors.Is(err, models.ErrSeatUnavailable):
		c.Logger.Info("ADMISSION", fmt.Sprintf("Rejected %s for %s/%s: %v", id, req.EventID, zone.Name, err))
		outcome := models.Rejected(id, rejectionCause(err))
		c.track(ctx, id, models.AdmissionRejected, outcome.Reason)
		return outcome, nil
	case err != nil:
		return models.AdmissionOutcome{}, err
	}

	c.Logger.LogReservation("HOLD", id, fmt.Sprintf("%d unit(s) of %s until %s", reservation.Quantity, zone.Name, reservation.ExpiresAt.Format(time.RFC3339)))
	c.Emitter.Reservation(ctx, events.ReservationCreated, reservation, "")
	return models.Admitted(reservation), nil
}

func rejectionCause(err error) error {
	if errors.Is(err, models.ErrSeatUnavailable) {
		return models.ErrSeatUnavailable
	}
	return models.ErrCapacityExhausted
}

func (c *Controller) track(ctx context.Context, id string, state models.AdmissionState, reason string) {
	err := c.Tracker.Put(ctx, tracking.Record{TrackingID: id, State: state, Reason: reason, UpdatedAt: c.Clock.Now()})
	if err != nil {
		c.Logger.Error("ADMISSION", fmt.Sprintf("Failed to record %s as %s: %v", id, state, err))
	}
}

// Close stops the queue workers. Requests still waiting are marked rejected.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Unlock()
	c.wg.Wait()
}
