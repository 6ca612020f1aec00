package simulation

import (
	"context"
	"sync"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

// RiskObservation is one person-day of output: the fused risk estimate next
// to the ground truth it should have tracked. Downstream analytics rank
// people by risk and score the ranking against Infectious/Exposed.
type RiskObservation struct {
	Person     protocol.PersonID  `json:"person"`
	Day        protocol.Day       `json:"day"`
	Risk       float64            `json:"risk"`
	Level      protocol.RiskLevel `json:"level"`
	Infectious bool               `json:"infectious"`
	Exposed    bool               `json:"exposed"`
}

// ObservationSink receives each day's observations after rollover. RecordDay
// is called once per day from the engine's serial rollover, population-many
// observations per call, ascending person id.
type ObservationSink interface {
	RecordDay(ctx context.Context, day protocol.Day, obs []RiskObservation) error
	Close() error
}

// MemorySink keeps observations in memory. The zero value is ready to use.
type MemorySink struct {
	mu   sync.Mutex
	days map[protocol.Day][]RiskObservation
}

func NewMemorySink() *MemorySink {
	return &MemorySink{days: make(map[protocol.Day][]RiskObservation)}
}

func (s *MemorySink) RecordDay(_ context.Context, day protocol.Day, obs []RiskObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.days == nil {
		s.days = make(map[protocol.Day][]RiskObservation)
	}
	s.days[day] = append([]RiskObservation(nil), obs...)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Day returns the observations recorded for one day, or nil.
func (s *MemorySink) Day(day protocol.Day) []RiskObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.days[day]
}

// Days returns how many days have been recorded.
func (s *MemorySink) Days() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.days)
}

// Summary is the run's closing report.
type Summary struct {
	Population int `json:"population"`
	Days       int `json:"days"`

	// Sent counts admitted broadcasts (one per admitted sender per slot);
	// Deposited counts the individual messages those broadcasts delivered.
	Sent      int `json:"sent"`
	Deposited int `json:"deposited"`

	// Suppressed counts rejected broadcast attempts by the budget
	// controller's verdict.
	Suppressed map[string]int `json:"suppressed"`

	// MeanRiskInfected averages the final-day risk over people who were
	// infectious or exposed on the final day; MeanRiskHealthy over the
	// rest. A working protocol separates the two.
	MeanRiskInfected float64 `json:"mean_risk_infected"`
	MeanRiskHealthy  float64 `json:"mean_risk_healthy"`
}
