package simulation

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mptcloud/covid-p2p-simulation/budget"
	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

// Config describes one simulation run. Zero values are not usable; start
// from DefaultConfig or a YAML file.
type Config struct {
	// Population is the number of simulated people.
	Population int `yaml:"population" json:"population"`

	// Days is the number of simulated days to run.
	Days int `yaml:"days" json:"days"`

	// Seed is the run seed. Every random stream in the run (per-person,
	// contacts, health, budget) is derived from it, so two runs with equal
	// config and seed are identical.
	Seed uint64 `yaml:"seed" json:"seed"`

	// Epoch is the wall-clock time of day 0, slot 0.
	Epoch time.Time `yaml:"epoch" json:"epoch"`

	// AppUptake is the fraction of the population carrying the messaging
	// app. Non-adopters still meet people and get sick; they never send or
	// receive risk updates.
	AppUptake float64 `yaml:"app_uptake" json:"app_uptake"`

	// MeanDailyContacts is the average number of encounters per person per
	// day generated by the default contact source.
	MeanDailyContacts float64 `yaml:"mean_daily_contacts" json:"mean_daily_contacts"`

	// ResendOnBigChange widens the candidate set: a fusion pass that moves
	// someone's risk by more than 0.1 makes them a broadcast candidate even
	// with a zero change score.
	ResendOnBigChange bool `yaml:"resend_on_big_change" json:"resend_on_big_change"`

	// Protocol holds the messaging parameters (model, transmission, slots,
	// retention).
	Protocol protocol.Config `yaml:"protocol" json:"protocol"`

	// Budget holds the broadcast rationing parameters. Population and
	// SlotsPerDay are overwritten from this config before the run starts.
	Budget budget.Config `yaml:"budget" json:"budget"`

	// Health parameterizes the default disease progression model.
	Health HealthConfig `yaml:"health" json:"health"`
}

// DefaultConfig returns a small, coherent run: 100 people for 30 days,
// monotonic model, four broadcast slots per day.
func DefaultConfig() Config {
	return Config{
		Population:        100,
		Days:              30,
		Seed:              0,
		Epoch:             time.Date(2020, 2, 28, 0, 0, 0, 0, time.UTC),
		AppUptake:         1.0,
		MeanDailyContacts: 5,
		Protocol:          protocol.DefaultConfig(),
		Budget:            budget.DefaultConfig(),
		Health:            DefaultHealthConfig(),
	}
}

// LoadConfig reads a YAML config file over the defaults, so partial files
// are fine.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// normalize copies the run-level fields the budget config depends on. The
// engine calls it before validation, so a config file never has to repeat
// population or slot counts.
func (c *Config) normalize() {
	c.Budget.Population = c.Population
	c.Budget.SlotsPerDay = c.Protocol.SlotsPerDay
}

// Validate reports every problem at once. Fatal at startup, never mid-run.
func (c *Config) Validate() error {
	var errs []error
	if c.Population < 1 {
		errs = append(errs, fmt.Errorf("population must be positive, got %d", c.Population))
	}
	if c.Days < 1 {
		errs = append(errs, fmt.Errorf("days must be positive, got %d", c.Days))
	}
	if c.Epoch.IsZero() {
		errs = append(errs, errors.New("epoch must be set"))
	}
	if c.AppUptake < 0 || c.AppUptake > 1 {
		errs = append(errs, fmt.Errorf("app_uptake must be in [0,1], got %v", c.AppUptake))
	}
	if c.MeanDailyContacts < 0 {
		errs = append(errs, fmt.Errorf("mean_daily_contacts must not be negative, got %v", c.MeanDailyContacts))
	}
	if err := c.Protocol.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Budget.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Health.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Clock returns the run's day/slot clock.
func (c *Config) Clock() protocol.Clock {
	return protocol.Clock{Epoch: c.Epoch, SlotsPerDay: c.Protocol.SlotsPerDay}
}
