package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-booking/internal/config"
	"ms-booking/internal/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPG       = "pg" // bun's native Postgres driver
	DriverMySQL    = "mysql"
)

// Open connects to the configured database and waits for it to answer a
// ping, retrying with exponential backoff.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		err   error
	)

	switch cfg.Driver {
	case DriverSQLite, "":
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.DSN)
	case DriverPostgres:
		sqldb, err = sql.Open("postgres", cfg.DSN)
	case DriverPG:
		sqldb = sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	case DriverMySQL:
		sqldb, err = sql.Open("mysql", cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite || cfg.Driver == "" {
		// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
		sqldb.SetMaxOpenConns(1)
	} else {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	attempt := 0
	ping := func() error {
		attempt++
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to %s (attempt %d)", cfg.Driver, attempt))
		if err := sqldb.PingContext(ctx); err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to connect to %s: %v", cfg.Driver, err))
			return err
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	log.Info("DATABASE", fmt.Sprintf("✅ %s connection successful", cfg.Driver))
	return New(sqldb, cfg.Driver), nil
}

// IsPostgres reports whether driver talks to Postgres.
func IsPostgres(driver string) bool {
	return driver == DriverPostgres || driver == DriverPG
}

// New wraps an existing connection pool with the bun dialect for driver.
func New(sqldb *sql.DB, driver string) *bun.DB {
	switch driver {
	case DriverPostgres, DriverPG:
		return bun.NewDB(sqldb, pgdialect.New())
	case DriverMySQL:
		return bun.NewDB(sqldb, mysqldialect.New())
	default:
		return bun.NewDB(sqldb, sqlitedialect.New())
	}
}
