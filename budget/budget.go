package budget

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

// Config holds the broadcast budget parameters. The quota is expressed as a
// fraction of the population admitted per slot-day; together with the
// cooldown it yields the effective per-decision budget Q*W/S.
type Config struct {
	// QuotaFraction is the fraction of the population allowed to broadcast
	// per slot-day.
	QuotaFraction float64 `yaml:"quota_fraction" json:"quota_fraction"`

	// DaysBetween is the minimum number of days between two broadcasts by
	// the same person.
	DaysBetween int `yaml:"days_between" json:"days_between"`

	// BurnInDays delays all broadcasts for this many days after the
	// intervention day, letting risk histories accumulate first.
	BurnInDays int `yaml:"burn_in_days" json:"burn_in_days"`

	// InterventionDay is the simulated day the messaging intervention
	// switches on. Nobody broadcasts before it.
	InterventionDay protocol.Day `yaml:"intervention_day" json:"intervention_day"`

	// SlotsPerDay must match the simulation clock.
	SlotsPerDay int `yaml:"slots_per_day" json:"slots_per_day"`

	// Population is the number of people sharing the budget.
	Population int `yaml:"population" json:"population"`
}

// Validate reports every problem at once, in the manner of protocol.Config.
func (c *Config) Validate() error {
	var errs []error
	if c.QuotaFraction <= 0 || c.QuotaFraction > 1 {
		errs = append(errs, fmt.Errorf("quota_fraction must be in (0,1], got %v", c.QuotaFraction))
	}
	if c.DaysBetween < 1 {
		errs = append(errs, fmt.Errorf("days_between must be positive, got %d", c.DaysBetween))
	}
	if c.BurnInDays < 0 {
		errs = append(errs, fmt.Errorf("burn_in_days must not be negative, got %d", c.BurnInDays))
	}
	if c.SlotsPerDay < 1 || c.SlotsPerDay > 24 {
		errs = append(errs, fmt.Errorf("slots_per_day must be in [1,24], got %d", c.SlotsPerDay))
	}
	if c.Population < 1 {
		errs = append(errs, fmt.Errorf("population must be positive, got %d", c.Population))
	}
	return errors.Join(errs...)
}

// DefaultConfig returns the standard parameterization: 1% of the population
// per slot-day, 3-day cooldown, 2-day burn-in.
func DefaultConfig() Config {
	return Config{
		QuotaFraction:   0.01,
		DaysBetween:     3,
		BurnInDays:      2,
		InterventionDay: 5,
		SlotsPerDay:     4,
		Population:      100,
	}
}

// Engine admits or rejects broadcast attempts against a global budget.
//
// It keeps a histogram of the risk-change scores of every admitted
// broadcast. A candidate is admitted when its score lands inside the top
// Q*W/S fraction of that historical distribution; candidates sitting exactly
// on the budget boundary are admitted by a coin flip. The histogram grows
// only on successful sends, so early in a run (empty histogram) everyone
// whose burn-in and cooldown checks pass gets through and the distribution
// bootstraps itself.
//
// Not safe for concurrent use. All calls happen from the serial commit
// phase of the simulation loop.
type Engine struct {
	cfg Config
	rng *rand.Rand

	histogram map[int]int
	total     int

	today    protocol.Day
	admitted int
}

// NewEngine validates the config and returns a fresh engine. The rng drives
// only the boundary coin flips; a fixed seed and call order make every
// decision reproducible.
func NewEngine(cfg Config, rng *rand.Rand) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget config: %w", err)
	}
	if rng == nil {
		return nil, errors.New("budget engine needs an rng")
	}
	return &Engine{
		cfg:       cfg,
		rng:       rng,
		histogram: make(map[int]int),
	}, nil
}

// AdvanceToDay resets the per-day admission counter. The score histogram is
// never reset for the life of the run.
func (e *Engine) AdvanceToDay(day protocol.Day) {
	if day > e.today {
		e.today = day
		e.admitted = 0
	}
}

// Verdict names the outcome of an admission decision, for metrics and the
// run summary.
type Verdict string

const (
	VerdictAdmitted   Verdict = "admitted"
	VerdictBurnIn     Verdict = "burn_in"
	VerdictCooldown   Verdict = "cooldown"
	VerdictDailyCap   Verdict = "daily_cap"
	VerdictOverBudget Verdict = "over_budget"
)

// ShouldSend decides whether a person may broadcast today. A negative
// lastBroadcast means the person has never broadcast.
func (e *Engine) ShouldSend(day, lastBroadcast protocol.Day, score int) bool {
	ok, _ := e.Decide(day, lastBroadcast, score)
	return ok
}

// Decide is ShouldSend with the rejection reason. The checks run in order:
// burn-in, per-person cooldown, hard daily cap, then the histogram walk
// against the effective budget fraction.
func (e *Engine) Decide(day, lastBroadcast protocol.Day, score int) (bool, Verdict) {
	e.AdvanceToDay(day)

	if int(day-e.cfg.InterventionDay) < e.cfg.BurnInDays {
		return false, VerdictBurnIn
	}
	if lastBroadcast >= 0 && int(day-lastBroadcast) < e.cfg.DaysBetween {
		return false, VerdictCooldown
	}
	if float64(e.admitted) >= e.cfg.QuotaFraction*float64(e.cfg.Population) {
		return false, VerdictDailyCap
	}

	if !e.admitByScore(score) {
		return false, VerdictOverBudget
	}
	return true, VerdictAdmitted
}

// admitByScore walks the histogram buckets from the highest score down,
// accumulating the fraction of past sends that scored strictly higher than
// the candidate. The candidate's own bucket (count zero if the score was
// never recorded) either fits entirely inside the remaining budget, falls
// entirely outside it, or straddles the boundary and is coin-flipped in
// with the leftover probability mass.
func (e *Engine) admitByScore(score int) bool {
	budget := e.cfg.QuotaFraction * float64(e.cfg.DaysBetween) / float64(e.cfg.SlotsPerDay)
	if e.total == 0 {
		return true
	}

	scores := make([]int, 0, len(e.histogram))
	for s := range e.histogram {
		scores = append(scores, s)
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i] > scores[j] })

	accumulated := 0.0
	for _, s := range scores {
		if s <= score {
			break
		}
		accumulated += float64(e.histogram[s]) / float64(e.total)
	}
	own := float64(e.histogram[score]) / float64(e.total)

	switch {
	case accumulated >= budget:
		return false
	case accumulated+own <= budget:
		return true
	default:
		return e.rng.Float64() < budget-accumulated
	}
}

// RecordSend accounts for a successful broadcast. Callers invoke it only
// after the message batch actually went out; rejected and skipped attempts
// leave the histogram untouched.
func (e *Engine) RecordSend(day protocol.Day, score int) {
	e.AdvanceToDay(day)
	e.histogram[score]++
	e.total++
	e.admitted++
}

// Total returns the number of broadcasts recorded over the life of the run.
func (e *Engine) Total() int { return e.total }

// AdmittedToday returns the number of broadcasts recorded since the last
// day boundary.
func (e *Engine) AdmittedToday() int { return e.admitted }

// Histogram returns a copy of the score histogram.
func (e *Engine) Histogram() map[int]int {
	out := make(map[int]int, len(e.histogram))
	for s, n := range e.histogram {
		out[s] = n
	}
	return out
}
