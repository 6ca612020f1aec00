package simulation

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

// Stage is a person's ground-truth disease stage.
type Stage int

const (
	StageSusceptible Stage = iota
	StageExposed
	StageInfectious
	StageRecovered
)

func (s Stage) String() string {
	switch s {
	case StageSusceptible:
		return "susceptible"
	case StageExposed:
		return "exposed"
	case StageInfectious:
		return "infectious"
	case StageRecovered:
		return "recovered"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// HealthState is the per-person view the risk subsystem and the observation
// sink read. Ground truth only: nothing in here is derived from risk state.
type HealthState struct {
	Stage       Stage
	Symptoms    protocol.Severity
	Quarantined bool
	Infectious  bool
	Exposed     bool
}

// HealthModel is the disease-progression collaborator. RecordContact and
// Advance are called from the engine's serial phases only; StateOf must be
// safe for concurrent reads between them.
type HealthModel interface {
	// RecordContact observes one encounter for possible transmission.
	RecordContact(a, b protocol.PersonID, at time.Time)

	// Advance moves the model to the given day, applying stage transitions.
	Advance(day protocol.Day)

	// StateOf returns a person's current ground truth.
	StateOf(p protocol.PersonID) HealthState
}

// HealthConfig parameterizes SEIRModel.
type HealthConfig struct {
	// InitialInfected is the fraction of the population seeded infectious
	// on day 0.
	InitialInfected float64 `yaml:"initial_infected" json:"initial_infected"`

	// Transmission is the per-encounter infection probability when an
	// infectious person meets a susceptible one.
	Transmission float64 `yaml:"transmission" json:"transmission"`

	// IncubationDays is the time from exposure to infectiousness.
	IncubationDays int `yaml:"incubation_days" json:"incubation_days"`

	// InfectiousDays is the time from symptom onset to recovery.
	InfectiousDays int `yaml:"infectious_days" json:"infectious_days"`

	// QuarantineSevere confines severe cases for their infectious window.
	QuarantineSevere bool `yaml:"quarantine_severe" json:"quarantine_severe"`
}

// DefaultHealthConfig returns an uncalibrated but plausible parameterization.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		InitialInfected:  0.01,
		Transmission:     0.05,
		IncubationDays:   3,
		InfectiousDays:   7,
		QuarantineSevere: true,
	}
}

func (c *HealthConfig) Validate() error {
	var errs []error
	if c.InitialInfected < 0 || c.InitialInfected > 1 {
		errs = append(errs, fmt.Errorf("initial_infected must be in [0,1], got %v", c.InitialInfected))
	}
	if c.Transmission < 0 || c.Transmission > 1 {
		errs = append(errs, fmt.Errorf("health transmission must be in [0,1], got %v", c.Transmission))
	}
	if c.IncubationDays < 1 {
		errs = append(errs, fmt.Errorf("incubation_days must be positive, got %d", c.IncubationDays))
	}
	if c.InfectiousDays < 1 {
		errs = append(errs, fmt.Errorf("infectious_days must be positive, got %d", c.InfectiousDays))
	}
	return errors.Join(errs...)
}

type personHealth struct {
	stage       Stage
	sinceDay    protocol.Day
	severity    protocol.Severity
	quarantined bool
}

// SEIRModel is the default health model: susceptible, exposed, infectious,
// recovered, with symptom severity drawn at onset. It never reads risk
// state, so interventions in the messaging layer cannot leak back into the
// ground truth they are measured against.
type SEIRModel struct {
	cfg    HealthConfig
	rng    *rand.Rand
	day    protocol.Day
	states []personHealth
}

// NewSEIRModel seeds the initial infectious fraction from the rng.
func NewSEIRModel(cfg HealthConfig, population int, rng *rand.Rand) *SEIRModel {
	m := &SEIRModel{
		cfg:    cfg,
		rng:    rng,
		states: make([]personHealth, population),
	}
	for i := range m.states {
		if rng.Float64() < cfg.InitialInfected {
			m.states[i].stage = StageInfectious
			m.states[i].severity = m.drawSeverity()
			m.states[i].quarantined = cfg.QuarantineSevere && m.states[i].severity == protocol.SeveritySevere
		}
	}
	return m
}

func (m *SEIRModel) drawSeverity() protocol.Severity {
	switch v := m.rng.Float64(); {
	case v < 0.3:
		return protocol.SeverityNone
	case v < 0.7:
		return protocol.SeverityMild
	case v < 0.9:
		return protocol.SeverityModerate
	default:
		return protocol.SeveritySevere
	}
}

// RecordContact rolls transmission when exactly one side is infectious and
// the other susceptible. Quarantined people meet nobody.
func (m *SEIRModel) RecordContact(a, b protocol.PersonID, _ time.Time) {
	sa, sb := &m.states[a], &m.states[b]
	if sa.quarantined || sb.quarantined {
		return
	}

	var dst *personHealth
	switch {
	case sa.stage == StageInfectious && sb.stage == StageSusceptible:
		dst = sb
	case sb.stage == StageInfectious && sa.stage == StageSusceptible:
		dst = sa
	default:
		return
	}

	if m.rng.Float64() < m.cfg.Transmission {
		dst.stage = StageExposed
		dst.sinceDay = m.day
	}
}

// Advance applies stage transitions up to the given day.
func (m *SEIRModel) Advance(day protocol.Day) {
	if day <= m.day {
		return
	}
	m.day = day

	for i := range m.states {
		s := &m.states[i]
		switch s.stage {
		case StageExposed:
			if int(day-s.sinceDay) >= m.cfg.IncubationDays {
				s.stage = StageInfectious
				s.sinceDay = day
				s.severity = m.drawSeverity()
				s.quarantined = m.cfg.QuarantineSevere && s.severity == protocol.SeveritySevere
			}
		case StageInfectious:
			if int(day-s.sinceDay) >= m.cfg.InfectiousDays {
				s.stage = StageRecovered
				s.severity = protocol.SeverityNone
				s.quarantined = false
			}
		}
	}
}

func (m *SEIRModel) StateOf(p protocol.PersonID) HealthState {
	s := m.states[p]
	return HealthState{
		Stage:       s.stage,
		Symptoms:    s.severity,
		Quarantined: s.quarantined,
		Infectious:  s.stage == StageInfectious,
		Exposed:     s.stage == StageExposed,
	}
}
