package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"ubi/pkg/config"
	"ubi/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()
	log := logger.New("ubi-migrate")

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL environment variable is required", nil)
	}
	if len(os.Args) < 2 {
		log.Fatal("Usage: migrate [up|down|steps N|version|force VERSION]", nil)
	}

	source := os.Getenv("MIGRATIONS_SOURCE")
	if source == "" {
		source = "file://migrations"
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to open database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("Failed to create migration driver", map[string]interface{}{"error": err.Error()})
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		log.Fatal("Failed to create migrate instance", map[string]interface{}{
			"source": source,
			"error":  err.Error(),
		})
	}

	command := os.Args[1]
	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal("Migration failed", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Migrations applied", nil)

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal("Migration rollback failed", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Migrations rolled back", nil)

	case "steps":
		n := intArg(log, "steps")
		if err := m.Steps(n); err != nil {
			log.Fatal("Migration steps failed", map[string]interface{}{"steps": n, "error": err.Error()})
		}
		log.Info("Migration steps applied", map[string]interface{}{"steps": n})

	case "version":
		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			log.Fatal("Failed to get version", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Current schema version", map[string]interface{}{"version": version, "dirty": dirty})

	case "force":
		version := intArg(log, "force")
		if err := m.Force(version); err != nil {
			log.Fatal("Force migration failed", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Forced schema version", map[string]interface{}{"version": version})

	default:
		log.Fatal("Unknown command", map[string]interface{}{"command": command})
	}
}

func intArg(log logger.Logger, command string) int {
	if len(os.Args) < 3 {
		log.Fatal("Missing argument", map[string]interface{}{"usage": "migrate " + command + " N"})
	}
	n, err := strconv.Atoi(os.Args[2])
	if err != nil {
		log.Fatal("Argument must be an integer", map[string]interface{}{"value": os.Args[2]})
	}
	return n
}
