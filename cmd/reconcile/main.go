package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"ubi/internal/cycle"
	"ubi/internal/repository/postgres"
	"ubi/internal/treasury"
	"ubi/pkg/config"
	"ubi/pkg/logger"
)

// reconcile checks one cycle's pools against their claims and treasury
// returns, prints the report as JSON and exits 1 when it is not balanced.
func main() {
	cfg := config.Load()
	log := logger.NewWithLevel("ubi-reconcile", logger.ParseLevel(cfg.Log.Level), os.Stderr)

	clock := cycle.NewClock(cfg.Distribution.Epoch, cfg.Distribution.CycleLength, cfg.Distribution.WindowFraction)
	previous := clock.Current(time.Now()) - 1
	cyc := flag.Int("cycle", previous, "cycle to reconcile (default: the previous cycle)")
	flag.Parse()

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL environment variable is required", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	report, err := treasury.NewReconciler(postgres.NewDistributionRepository(db), log).Reconcile(ctx, *cyc)
	if err != nil {
		log.Fatal("Reconciliation failed", map[string]interface{}{"cycle": *cyc, "error": err.Error()})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatal("Failed to write report", map[string]interface{}{"error": err.Error()})
	}
	if !report.Balanced() {
		cancel()
		db.Close()
		os.Exit(1)
	}
}
