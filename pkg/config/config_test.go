package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	cfg := Load()

	assert.Equal(t, StoreDriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 37*24*time.Hour, cfg.Distribution.CycleLength)
	assert.Equal(t, 0.10, cfg.Distribution.WindowFraction)
	assert.True(t, cfg.Distribution.SurvivalFloor.Equal(decimal.NewFromInt(20)))
	assert.True(t, cfg.Distribution.MaxPerPerson.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, DefaultEpoch, cfg.Distribution.Epoch)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("CYCLE_LENGTH", "30d")
	t.Setenv("WINDOW_FRACTION", "0.25")
	t.Setenv("SURVIVAL_FLOOR", "12.50")
	t.Setenv("EPOCH", "2025-03-01T00:00:00Z")
	t.Setenv("REDIS_URL", "redis://cache:6379")

	cfg := Load()
	assert.Equal(t, StoreDriverMemory, cfg.Database.Driver)
	assert.Equal(t, 30*24*time.Hour, cfg.Distribution.CycleLength)
	assert.Equal(t, 0.25, cfg.Distribution.WindowFraction)
	assert.Equal(t, "12.5", cfg.Distribution.SurvivalFloor.String())
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), cfg.Distribution.Epoch)
	assert.Equal(t, "cache:6379", cfg.Redis.URL)
}

func TestValidateCore(t *testing.T) {
	cfg := Load()
	cfg.Database.Driver = StoreDriverPostgres
	cfg.Database.URL = ""
	cfg.JWT.Secret = "change-this-secret"

	err := cfg.ValidateCore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.Database.Driver = StoreDriverMemory
	cfg.JWT.Secret = "s3cret"
	assert.NoError(t, cfg.ValidateCore())
}

func TestDistributionValidate(t *testing.T) {
	d := DefaultDistribution()
	require.NoError(t, d.Validate())

	bad := d
	bad.WindowFraction = 1.5
	assert.Error(t, bad.Validate())

	bad = d
	bad.SurvivalFloor = decimal.NewFromInt(600)
	assert.Error(t, bad.Validate())

	bad = d
	bad.MinPerPerson = decimal.NewFromInt(25)
	assert.Error(t, bad.Validate())

	bad = d
	bad.CycleLength = 0
	assert.Error(t, bad.Validate())
}
