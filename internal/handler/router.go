package handler

import (
	"net/http"
	"time"

	"ubi/internal/distribution"
	"ubi/internal/middleware"
	"ubi/internal/treasury"
	"ubi/pkg/logger"
	"ubi/pkg/validator"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// RouterConfig carries everything the HTTP surface depends on. Redis is
// optional; without it idempotency replay and rate limiting are disabled.
// Without a Reconciler the reconciliation route is not mounted.
type RouterConfig struct {
	ServiceName    string
	Service        *distribution.Service
	Reconciler     *treasury.Reconciler
	Validator      *validator.Validator
	Logger         logger.Logger
	JWTSecret      string
	Redis          *redis.Client
	IdempotencyTTL time.Duration
	RateLimit      int
	RateWindow     time.Duration
	Checks         map[string]HealthCheck
}

func NewRouter(cfg RouterConfig) *mux.Router {
	h := NewDistributionHandler(cfg.Service, cfg.Validator, cfg.Logger)
	sys := NewSystemHandler(cfg.ServiceName, cfg.Checks)

	r := mux.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Log)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS)

	// Health and metrics (no auth)
	r.HandleFunc("/health", sys.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", sys.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(cfg.JWTSecret).Authenticate)
	if cfg.Redis != nil && cfg.RateLimit > 0 {
		api.Use(middleware.NewRateLimiter(cfg.Redis, cfg.RateLimit, cfg.RateWindow).Limit)
	}

	adminOnly := middleware.RequireRole(middleware.RoleAdmin)
	claim := http.Handler(http.HandlerFunc(h.Claim))
	if cfg.Redis != nil {
		claim = middleware.NewIdempotencyMiddleware(cfg.Redis, cfg.IdempotencyTTL, cfg.Logger).Require(claim)
	}

	api.HandleFunc("/cycles/current", h.CurrentCycle).Methods(http.MethodGet)
	api.HandleFunc("/cycles/{cycle:[0-9]+}/pools", h.ListPools).Methods(http.MethodGet)
	api.HandleFunc("/cycles/{cycle:[0-9]+}/quote", h.Quote).Methods(http.MethodGet)
	api.Handle("/cycles/{cycle:[0-9]+}/claims", claim).Methods(http.MethodPost)
	api.Handle("/cycles/{cycle:[0-9]+}/close", adminOnly(http.HandlerFunc(h.CloseCycle))).Methods(http.MethodPost)
	api.Handle("/pools", adminOnly(http.HandlerFunc(h.FundPool))).Methods(http.MethodPost)

	if cfg.Reconciler != nil {
		th := NewTreasuryHandler(cfg.Reconciler, cfg.Logger)
		api.Handle("/cycles/{cycle:[0-9]+}/reconciliation", adminOnly(http.HandlerFunc(th.Reconcile))).Methods(http.MethodGet)
	}

	return r
}
