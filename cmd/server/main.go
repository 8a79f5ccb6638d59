package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ubi/internal/cycle"
	"ubi/internal/distribution"
	"ubi/internal/domain"
	"ubi/internal/engagement"
	"ubi/internal/handler"
	"ubi/internal/repository/memory"
	"ubi/internal/repository/postgres"
	"ubi/internal/scheduler"
	"ubi/internal/treasury"
	"ubi/pkg/cache"
	"ubi/pkg/config"
	"ubi/pkg/logger"
	"ubi/pkg/validator"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(cfg.Log.Service, logger.ParseLevel(cfg.Log.Level), os.Stdout)

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting distribution service", map[string]interface{}{
		"port":   cfg.Server.Port,
		"store":  cfg.Database.Driver,
		"epoch":  cfg.Distribution.Epoch.Format(time.RFC3339),
		"length": cfg.Distribution.CycleLength.String(),
	})

	ctx := context.Background()
	checks := make(map[string]handler.HealthCheck)

	var (
		store     distribution.Store
		directory distribution.ParticipantDirectory
		stats     distribution.StatsStore
		ledger    treasury.Ledger
	)

	switch cfg.Database.Driver {
	case config.StoreDriverPostgres:
		db, err := postgres.Connect(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal("Failed to connect to database", map[string]interface{}{
				"error": err.Error(),
			})
		}
		defer db.Close()

		participants := postgres.NewParticipantRepository(db)
		repo := postgres.NewDistributionRepository(db)
		store, ledger = repo, repo
		directory = participants
		stats = participants
		checks["database"] = db.PingContext

	case config.StoreDriverMemory:
		mem := memory.NewStore()
		if cfg.Database.SeedFile != "" {
			n, err := mem.LoadSeedFile(cfg.Database.SeedFile)
			if err != nil {
				log.Fatal("Failed to load seed file", map[string]interface{}{
					"file":  cfg.Database.SeedFile,
					"error": err.Error(),
				})
			}
			log.Info("Memory store seeded", map[string]interface{}{"participants": n})
		}
		log.Warn("Using in-memory store; state is lost on restart", nil)
		store, directory, stats, ledger = mem, mem, mem, mem
	}

	var locker distribution.Locker = distribution.NewLocalLocker()
	routerCfg := handler.RouterConfig{
		ServiceName:    cfg.Log.Service,
		Validator:      validator.New(),
		Logger:         log,
		JWTSecret:      cfg.JWT.Secret,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		RateLimit:      cfg.Server.RateLimit,
		RateWindow:     cfg.Server.RateWindow,
		Checks:         checks,
	}

	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("Failed to connect to Redis", map[string]interface{}{
				"error": err.Error(),
			})
		}
		defer redisCache.Close()

		locker = redisCache
		routerCfg.Redis = redisCache.Client()
		checks["redis"] = redisCache.Ping
		log.Info("Redis connected", nil)
	} else {
		log.Warn("REDIS_URL not set; idempotency replay and rate limiting disabled", nil)
	}

	clock := cycle.NewClock(cfg.Distribution.Epoch, cfg.Distribution.CycleLength, cfg.Distribution.WindowFraction)
	service := distribution.NewService(
		store,
		directory,
		stats,
		engagement.NewDefaultScorer(),
		clock,
		cycle.SystemTime,
		locker,
		distribution.Params{
			SurvivalFloor: cfg.Distribution.SurvivalFloor,
			MaxPerPerson:  cfg.Distribution.MaxPerPerson,
			MinPerPerson:  cfg.Distribution.MinPerPerson,
			Currency:      domain.Currency(cfg.Distribution.Currency),
			FundWorkers:   cfg.Distribution.FundWorkers,
			LockTTL:       cfg.Redis.LockTTL,
		},
		log,
	)
	routerCfg.Service = service
	routerCfg.Reconciler = treasury.NewReconciler(ledger, log)

	if cfg.Scheduler.Enabled {
		closer := scheduler.NewAutoCloser(service, cycle.SystemTime, cfg.Scheduler.CloseInterval, cfg.Scheduler.Lookback, log)
		closer.Start()
		defer closer.Stop()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.NewRouter(routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Distribution service started", map[string]interface{}{
			"address": srv.Addr,
			"cycle":   clock.Current(time.Now()),
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down distribution service...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Distribution service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	log.Info("Distribution service stopped gracefully", nil)
}
