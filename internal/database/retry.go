package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-booking/internal/models"
)

// IsTransient reports whether err is worth retrying: lost connections,
// serialization failures, deadlocks and lock timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientPGCode(string(pqErr.Code))
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return transientPGCode(pgErr.Field('C'))
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1205 || myErr.Number == 1213
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// transientPGCode matches connection (08) and rollback (40) classes, lock
// timeouts and admin shutdowns.
func transientPGCode(code string) bool {
	if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "40") {
		return true
	}
	return code == "55P03" || code == "57P01"
}

// IsUniqueViolation reports a duplicate key on any supported driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.IntegrityViolation() && pgErr.Field('C') == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type Retrier struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func NewRetrier(attempts int) Retrier {
	return Retrier{Attempts: attempts, InitialInterval: 20 * time.Millisecond, MaxInterval: 500 * time.Millisecond}
}

// Do runs fn until it succeeds, fails permanently or the attempts run out.
// Exhausted transient failures come back wrapped in ErrStoreUnavailable.
func (r Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialInterval
	b.MaxInterval = r.MaxInterval
	b.MaxElapsedTime = 0

	attempts := r.Attempts
	if attempts < 0 {
		attempts = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts)), ctx)

	err := backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if err != nil && IsTransient(err) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return err
}

// Retry is Do with the default intervals.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	return NewRetrier(attempts).Do(ctx, fn)
}
