package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-booking/internal/clock"
	"ms-booking/internal/database"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Ledger is the durable, append-only record of reservations. Entries are
// never deleted; state changes go through Transition only.
type Ledger struct {
	db    *bun.DB
	clock clock.Clock
	log   *logger.Logger
}

func New(db *bun.DB, clk clock.Clock, log *logger.Logger) *Ledger {
	return &Ledger{db: db, clock: clk, log: log}
}

func (l *Ledger) conn(ctx context.Context) bun.IDB {
	return database.Conn(ctx, l.db)
}

// Create appends a PENDING entry together with its first audit row.
func (l *Ledger) Create(ctx context.Context, r *models.Reservation, actor string) error {
	if r.ID == "" {
		return fmt.Errorf("%w: reservation id is required", models.ErrInvalidRequest)
	}
	now := l.clock.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt
	r.State = models.ReservationPending
	r.Version = 0

	return database.RunInTx(ctx, l.db, func(ctx context.Context) error {
		if _, err := l.conn(ctx).NewInsert().Model(r).Exec(ctx); err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("reservation %s exists: %w", r.ID, models.ErrConflict)
			}
			return fmt.Errorf("insert reservation: %w", err)
		}
		return l.audit(ctx, r.ID, "", models.ReservationPending, actor, "admitted", r.CreatedAt)
	})
}

func allowed(from, to models.ReservationState) bool {
	if from != models.ReservationPending {
		return false
	}
	switch to {
	case models.ReservationConfirmed, models.ReservationExpired, models.ReservationCancelled:
		return true
	}
	return false
}

// Transition moves r from its current state to `to`, guarded by the state
// and version r was read with. A lost race or an illegal move returns
// ErrConflict and leaves r untouched.
func (l *Ledger) Transition(ctx context.Context, r *models.Reservation, to models.ReservationState, actor, reason string) error {
	if !allowed(r.State, to) {
		return fmt.Errorf("reservation %s: %s -> %s: %w", r.ID, r.State, to, models.ErrConflict)
	}

	now := l.clock.Now()
	return database.RunInTx(ctx, l.db, func(ctx context.Context) error {
		q := l.conn(ctx).NewUpdate().Model((*models.Reservation)(nil)).
			Set("state = ?", to).
			Set("version = version + 1").
			Set("updated_at = ?", now).
			Where("id = ?", r.ID).
			Where("state = ?", r.State).
			Where("version = ?", r.Version)
		if to == models.ReservationConfirmed {
			q = q.Set("confirmed_at = ?", now)
		} else {
			q = q.Set("closed_at = ?", now)
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return fmt.Errorf("transition reservation %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("reservation %s changed concurrently: %w", r.ID, models.ErrConflict)
		}
		if err := l.audit(ctx, r.ID, r.State, to, actor, reason, now); err != nil {
			return err
		}

		l.log.Debug("LEDGER", fmt.Sprintf("Reservation %s %s -> %s by %s", r.ID, r.State, to, actor))
		r.State = to
		r.Version++
		r.UpdatedAt = now
		if to == models.ReservationConfirmed {
			r.ConfirmedAt = now
		} else {
			r.ClosedAt = now
		}
		return nil
	})
}

func (l *Ledger) audit(ctx context.Context, id string, from, to models.ReservationState, actor, reason string, at time.Time) error {
	entry := &models.ReservationAudit{
		ReservationID: id,
		FromState:     from,
		ToState:       to,
		Actor:         actor,
		Reason:        reason,
		At:            at,
	}
	if _, err := l.conn(ctx).NewInsert().Model(entry).Exec(ctx); err != nil {
		return fmt.Errorf("append audit for %s: %w", id, err)
	}
	return nil
}

func (l *Ledger) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	r := new(models.Reservation)
	err := l.conn(ctx).NewSelect().Model(r).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

func (l *Ledger) list(ctx context.Context, page, limit int, filter func(*bun.SelectQuery) *bun.SelectQuery) (*models.Page, error) {
	page, limit = normalizePage(page, limit)
	items := make([]models.Reservation, 0, limit)

	total, err := filter(l.conn(ctx).NewSelect().Model(&items)).
		OrderExpr("created_at DESC, id ASC").
		Limit(limit).
		Offset((page - 1) * limit).
		ScanAndCount(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Page{Items: items, Page: page, Limit: limit, Total: total}, nil
}

// ListByPrincipal returns a principal's reservations, newest first.
func (l *Ledger) ListByPrincipal(ctx context.Context, principal string, page, limit int) (*models.Page, error) {
	return l.list(ctx, page, limit, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("principal = ?", principal)
	})
}

// ListByEvent is the admin listing. An empty state means all states.
func (l *Ledger) ListByEvent(ctx context.Context, eventID string, state models.ReservationState, page, limit int) (*models.Page, error) {
	return l.list(ctx, page, limit, func(q *bun.SelectQuery) *bun.SelectQuery {
		if eventID != "" {
			q = q.Where("event_id = ?", eventID)
		}
		if state != "" {
			q = q.Where("state = ?", state)
		}
		return q
	})
}

// ListExpired returns PENDING entries whose deadline is at or before now,
// oldest deadline first.
func (l *Ledger) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var items []models.Reservation
	err := l.conn(ctx).NewSelect().Model(&items).
		Where("state = ?", models.ReservationPending).
		Where("expires_at <= ?", now.UTC()).
		OrderExpr("expires_at ASC").
		Limit(limit).
		Scan(ctx)
	return items, err
}

// ListPending returns all PENDING entries of an event, optionally limited to
// one layout kind.
func (l *Ledger) ListPending(ctx context.Context, eventID string, kind models.LayoutKind) ([]models.Reservation, error) {
	var items []models.Reservation
	q := l.conn(ctx).NewSelect().Model(&items).
		Where("event_id = ?", eventID).
		Where("state = ?", models.ReservationPending)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	err := q.OrderExpr("created_at ASC").Scan(ctx)
	return items, err
}

func (l *Ledger) History(ctx context.Context, id string) ([]models.ReservationAudit, error) {
	var entries []models.ReservationAudit
	err := l.conn(ctx).NewSelect().Model(&entries).
		Where("reservation_id = ?", id).
		OrderExpr("id ASC").
		Scan(ctx)
	return entries, err
}
