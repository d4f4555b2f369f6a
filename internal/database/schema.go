package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-booking/internal/models"
)

type index struct {
	name    string
	model   interface{}
	columns []string
}

var schemaIndexes = []index{
	{"idx_reservations_state_expires", (*models.Reservation)(nil), []string{"state", "expires_at"}},
	{"idx_reservations_principal", (*models.Reservation)(nil), []string{"principal", "created_at"}},
	{"idx_reservations_event_state", (*models.Reservation)(nil), []string{"event_id", "state"}},
	{"idx_seats_zone_state", (*models.Seat)(nil), []string{"zone_id", "state"}},
	{"idx_seats_reservation", (*models.Seat)(nil), []string{"reservation_id"}},
	{"idx_audit_reservation", (*models.ReservationAudit)(nil), []string{"reservation_id"}},
}

// CreateSchema creates tables and indexes from the bun models. Postgres
// deployments use the SQL migrations instead.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.Event)(nil),
		(*models.Zone)(nil),
		(*models.Seat)(nil),
		(*models.Reservation)(nil),
		(*models.ReservationAudit)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table %T: %w", model, err)
		}
	}
	for _, idx := range schemaIndexes {
		q := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...)
		if db.Dialect().Name() != dialect.MySQL {
			q = q.IfNotExists()
		}
		if _, err := q.Exec(ctx); err != nil && !isDuplicateIndex(err) {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

func isDuplicateIndex(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "Duplicate key name") || strings.Contains(err.Error(), "already exists"))
}
