// Command migrate applies or rolls back the Postgres schema.
//
//	migrate up
//	migrate down
//	migrate to 2
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"ms-booking/internal/config"
	"ms-booking/internal/database"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/logger"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate up | down | to <version>")
	os.Exit(2)
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	if len(os.Args) < 2 {
		usage()
	}
	_ = godotenv.Load()

	cfg := config.Load()
	if !database.IsPostgres(cfg.Database.Driver) {
		log.Fatal("MIGRATE", fmt.Sprintf("migrations target postgres, DB_DRIVER is %q", cfg.Database.Driver))
	}

	db, err := database.Open(context.Background(), cfg.Database, log)
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}

	runner := migrations.NewRunner(db, migrations.DefaultOptions(), log)
	defer func() {
		// Closes the database as well.
		if err := runner.Close(); err != nil {
			log.Warn("MIGRATE", err.Error())
		}
	}()

	switch os.Args[1] {
	case "up":
		err = runner.RunMigrations()
	case "down":
		err = runner.MigrateDown()
	case "to":
		if len(os.Args) < 3 {
			usage()
		}
		var version uint64
		version, err = strconv.ParseUint(os.Args[2], 10, 32)
		if err == nil {
			err = runner.MigrateTo(uint(version))
		}
	default:
		usage()
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", fmt.Sprintf("✅ migrate %s complete", os.Args[1]))
}
