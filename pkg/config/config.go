package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Distribution DistributionConfig
	Scheduler    SchedulerConfig
	Log          LogConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimit    int
	RateWindow   time.Duration
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectRetries  int
	// SeedFile optionally preloads the memory store with participants and stats.
	SeedFile string
}

type RedisConfig struct {
	URL            string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
	LockTTL        time.Duration
}

type JWTConfig struct {
	Secret string
}

// DistributionConfig holds the protocol constants of the distribution engine.
type DistributionConfig struct {
	Epoch          time.Time
	CycleLength    time.Duration
	WindowFraction float64
	SurvivalFloor  decimal.Decimal
	MaxPerPerson   decimal.Decimal
	MinPerPerson   decimal.Decimal
	Currency       string
	FundWorkers    int
}

type SchedulerConfig struct {
	Enabled       bool
	CloseInterval time.Duration
	Lookback      int
}

type LogConfig struct {
	Level   string
	Service string
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// DefaultEpoch is the protocol epoch: the instant cycle 1 begins.
var DefaultEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultDistribution returns the reference protocol constants.
func DefaultDistribution() DistributionConfig {
	return DistributionConfig{
		Epoch:          DefaultEpoch,
		CycleLength:    37 * 24 * time.Hour,
		WindowFraction: 0.10,
		SurvivalFloor:  decimal.NewFromInt(20),
		MaxPerPerson:   decimal.NewFromInt(500),
		MinPerPerson:   decimal.NewFromInt(10),
		Currency:       "UBI",
		FundWorkers:    8,
	}
}

func Load() *Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	def := DefaultDistribution()
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			RateLimit:    getIntEnv("RATE_LIMIT", 120),
			RateWindow:   getDurationEnv("RATE_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectRetries:  getIntEnv("DB_CONNECT_RETRIES", 10),
			SeedFile:        getEnv("MEMORY_SEED_FILE", ""),
		},
		Redis: RedisConfig{
			URL:            normalizeRedisURL(getEnv("REDIS_URL", "")),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getIntEnv("REDIS_DB", 0),
			IdempotencyTTL: getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
			LockTTL:        getDurationEnv("ADMIN_LOCK_TTL", 2*time.Minute),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-secret"),
		},
		Distribution: DistributionConfig{
			Epoch:          getTimeEnv("EPOCH", def.Epoch),
			CycleLength:    getDurationEnv("CYCLE_LENGTH", def.CycleLength),
			WindowFraction: getFloatEnv("WINDOW_FRACTION", def.WindowFraction),
			SurvivalFloor:  getDecimalEnv("SURVIVAL_FLOOR", def.SurvivalFloor),
			MaxPerPerson:   getDecimalEnv("MAX_PER_PERSON", def.MaxPerPerson),
			MinPerPerson:   getDecimalEnv("MIN_PER_PERSON", def.MinPerPerson),
			Currency:       getEnv("CURRENCY", def.Currency),
			FundWorkers:    getIntEnv("FUND_WORKERS", def.FundWorkers),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getBoolEnv("AUTO_CLOSE_ENABLED", true),
			CloseInterval: getDurationEnv("AUTO_CLOSE_INTERVAL", 10*time.Minute),
			Lookback:      getIntEnv("AUTO_CLOSE_LOOKBACK", 3),
		},
		Log: LogConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Service: getEnv("SERVICE_NAME", "ubi-distribution"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations plus a "d" suffix for whole days.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}

func getTimeEnv(key string, defaultValue time.Time) time.Time {
	if value := os.Getenv(key); value != "" {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(value)); err == nil {
			return t.UTC()
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
