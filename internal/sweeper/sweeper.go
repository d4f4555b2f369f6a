package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/clock"
	"ms-booking/internal/database"
	"ms-booking/internal/events"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

const actor = "sweeper"

type Ledger interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)
	Transition(ctx context.Context, r *models.Reservation, to models.ReservationState, actor, reason string) error
}

type Inventory interface {
	Release(ctx context.Context, units models.Units) error
}

type Config struct {
	Interval time.Duration
	Batch    int
}

// Sweeper reclaims inventory from holds that passed their deadline.
type Sweeper struct {
	tx      database.TxRunner
	ledger  Ledger
	inv     Inventory
	emitter *events.Emitter
	clock   clock.Clock
	retrier database.Retrier
	log     *logger.Logger
	cfg     Config
}

func New(tx database.TxRunner, l Ledger, inv Inventory, emitter *events.Emitter, clk clock.Clock, retrier database.Retrier, log *logger.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &Sweeper{tx: tx, ledger: l, inv: inv, emitter: emitter, clock: clk, retrier: retrier, log: log, cfg: cfg}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("SWEEPER", fmt.Sprintf("🧹 Expiry sweeper started (every %s, batch %d)", s.cfg.Interval, s.cfg.Batch))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("SWEEPER", "Expiry sweeper stopped")
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.log.Error("SWEEPER", fmt.Sprintf("Sweep failed after %d expiries: %v", n, err))
			} else if n > 0 {
				s.log.Info("SWEEPER", fmt.Sprintf("Expired %d reservation(s)", n))
			}
		}
	}
}

// SweepOnce expires every overdue hold it can see, batch by batch, and
// returns how many it expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired := 0
	for {
		now := s.clock.Now()
		batch, err := s.ledger.ListExpired(ctx, now, s.cfg.Batch)
		if err != nil {
			return expired, fmt.Errorf("list expired: %w", err)
		}

		progress := 0
		for i := range batch {
			ok, err := s.expire(ctx, &batch[i])
			if err != nil {
				s.log.Error("SWEEPER", fmt.Sprintf("Failed to expire %s: %v", batch[i].ID, err))
				continue
			}
			progress++
			if ok {
				expired++
			}
		}

		if len(batch) < s.cfg.Batch || progress == 0 || ctx.Err() != nil {
			return expired, ctx.Err()
		}
	}
}

// expire moves one entry to EXPIRED and, only if that transition won,
// releases its inventory. Both happen in one transaction. A lost race with
// a confirm or cancel is not an error.
func (s *Sweeper) expire(ctx context.Context, r *models.Reservation) (bool, error) {
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		entry := *r
		return s.tx.Do(ctx, func(ctx context.Context) error {
			if err := s.ledger.Transition(ctx, &entry, models.ReservationExpired, actor, "hold deadline passed"); err != nil {
				return err
			}
			if err := s.inv.Release(ctx, entry.Units()); err != nil {
				return err
			}
			*r = entry
			return nil
		})
	})
	if errors.Is(err, models.ErrConflict) {
		s.log.Debug("SWEEPER", fmt.Sprintf("Reservation %s settled before expiry", r.ID))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.log.LogReservation("EXPIRE", r.ID, fmt.Sprintf("released %d unit(s) of %s", r.Quantity, r.ZoneName))
	s.emitter.Reservation(ctx, events.ReservationExpired, r, "hold deadline passed")
	return true, nil
}
