// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present and the protocol
// constants are consistent with each other.
func (c *Config) ValidateCore() error {
	var missing []string

	switch c.Database.Driver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.Database.URL) == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return c.Distribution.Validate()
}

// Validate checks the distribution constants.
func (d DistributionConfig) Validate() error {
	if d.CycleLength <= 0 {
		return fmt.Errorf("CYCLE_LENGTH must be positive, got %s", d.CycleLength)
	}
	if d.WindowFraction <= 0 || d.WindowFraction > 1 {
		return fmt.Errorf("WINDOW_FRACTION must be in (0, 1], got %v", d.WindowFraction)
	}
	if !d.SurvivalFloor.IsPositive() {
		return fmt.Errorf("SURVIVAL_FLOOR must be positive, got %s", d.SurvivalFloor)
	}
	if d.SurvivalFloor.GreaterThan(d.MaxPerPerson) {
		return fmt.Errorf("SURVIVAL_FLOOR %s exceeds MAX_PER_PERSON %s", d.SurvivalFloor, d.MaxPerPerson)
	}
	if d.MinPerPerson.IsNegative() || d.MinPerPerson.GreaterThan(d.SurvivalFloor) {
		return fmt.Errorf("MIN_PER_PERSON %s must be between 0 and SURVIVAL_FLOOR %s", d.MinPerPerson, d.SurvivalFloor)
	}
	if strings.TrimSpace(d.Currency) == "" {
		return fmt.Errorf("CURRENCY is required")
	}
	return nil
}
