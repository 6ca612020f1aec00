package protocol

import (
	"errors"
	"fmt"
)

// Config holds the risk-messaging parameters shared by the codecs and
// engines. Zero values are not usable; start from DefaultConfig.
type Config struct {
	// Model selects the risk fusion algorithm.
	Model RiskModel `yaml:"model" json:"model"`

	// Transmission is the base per-message transmission probability used
	// as the fusion update weight and as the initial cluster carry-over.
	Transmission float64 `yaml:"transmission" json:"transmission"`

	// ClipRisk caps fused risk at 1.0 after every fusion. Required for the
	// additive and clustered models to stay meaningful probabilities.
	ClipRisk bool `yaml:"clip_risk" json:"clip_risk"`

	// SlotsPerDay is the number of broadcast slots per simulated day.
	SlotsPerDay int `yaml:"slots_per_day" json:"slots_per_day"`

	// RetentionDays bounds how long messages and contact records survive:
	// anything referencing an encounter older than this is dropped at the
	// next day boundary.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// DefaultConfig returns the standard parameterization: monotonic model,
// 4 slots per day, 14-day retention.
func DefaultConfig() Config {
	return Config{
		Model:         ModelMonotonic,
		Transmission:  0.03,
		ClipRisk:      true,
		SlotsPerDay:   4,
		RetentionDays: 14,
	}
}

// Validate reports every problem at once. Config errors are fatal at
// startup, never mid-run.
func (c *Config) Validate() error {
	var errs []error
	if !c.Model.Valid() {
		errs = append(errs, fmt.Errorf("unknown risk model %q", c.Model))
	}
	if c.Transmission <= 0 || c.Transmission > 1 {
		errs = append(errs, fmt.Errorf("transmission must be in (0,1], got %v", c.Transmission))
	}
	if c.SlotsPerDay < 1 || c.SlotsPerDay > 24 {
		errs = append(errs, fmt.Errorf("slots_per_day must be in [1,24], got %d", c.SlotsPerDay))
	}
	if c.RetentionDays < 1 {
		errs = append(errs, fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays))
	}
	return errors.Join(errs...)
}
