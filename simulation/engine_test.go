package simulation

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
	"github.com/mptcloud/covid-p2p-simulation/testutil"
)

// scriptedHealth serves fixed ground truth and never progresses. Keeps
// engine tests independent of the disease model's randomness.
type scriptedHealth struct {
	states []HealthState
}

func (h scriptedHealth) RecordContact(protocol.PersonID, protocol.PersonID, time.Time) {}
func (h scriptedHealth) Advance(protocol.Day)                                          {}
func (h scriptedHealth) StateOf(p protocol.PersonID) HealthState                       { return h.states[p] }

// pairSource produces exactly one encounter between persons 0 and 1 at the
// start of every slot.
type pairSource struct {
	clock protocol.Clock
}

func (s pairSource) Contacts(day protocol.Day, slot int) []Encounter {
	return []Encounter{{
		A:        0,
		B:        1,
		Time:     s.clock.TimeForTick(protocol.Tick{Day: day, Slot: slot}),
		Duration: 10 * time.Minute,
		Distance: 1,
	}}
}

type noContacts struct{}

func (noContacts) Contacts(protocol.Day, int) []Encounter { return nil }

func quietLog() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func runOnce(t *testing.T, cfg Config, opts Options) (*Summary, *MemorySink) {
	t.Helper()
	sink := NewMemorySink()
	opts.Sink = sink
	if opts.Log == nil {
		opts.Log = quietLog()
	}
	e, err := New(cfg, opts)
	require.NoError(t, err)
	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	return sum, sink
}

// denseRunConfig is a run with enough disease and message traffic to
// exercise every code path: additive fusion, budget admission from day 3 on,
// partial app uptake.
func denseRunConfig() Config {
	cfg := DefaultConfig()
	cfg.Population = 40
	cfg.Days = 10
	cfg.Seed = 42
	cfg.AppUptake = 0.9
	cfg.MeanDailyContacts = 6
	cfg.Protocol = testutil.NewTestConfig(
		testutil.WithRiskModel(protocol.ModelAdditive),
		testutil.WithTransmission(0.1),
	)
	cfg.Budget.QuotaFraction = 0.2
	cfg.Budget.DaysBetween = 2
	cfg.Budget.BurnInDays = 1
	cfg.Budget.InterventionDay = 2
	cfg.Health.InitialInfected = 0.3
	return cfg
}

func TestRunIsDeterministicForFixedSeed(t *testing.T) {
	cfg := denseRunConfig()

	sumA, sinkA := runOnce(t, cfg, Options{})
	sumB, sinkB := runOnce(t, cfg, Options{})

	require.Equal(t, sumA, sumB)
	require.Equal(t, cfg.Days, sinkA.Days())
	for day := protocol.Day(0); int(day) < cfg.Days; day++ {
		require.Equal(t, sinkA.Day(day), sinkB.Day(day), "day %d observations diverged", day)
	}
}

func TestRunSeedChangesOutcome(t *testing.T) {
	cfg := denseRunConfig()
	_, sinkA := runOnce(t, cfg, Options{})

	cfg.Seed = 43
	_, sinkB := runOnce(t, cfg, Options{})

	last := protocol.Day(cfg.Days - 1)
	require.NotEqual(t, sinkA.Day(last), sinkB.Day(last))
}

func TestRunRecordsEveryPersonEveryDay(t *testing.T) {
	cfg := denseRunConfig()
	cfg.Days = 3

	_, sink := runOnce(t, cfg, Options{})

	for day := protocol.Day(0); int(day) < cfg.Days; day++ {
		obs := sink.Day(day)
		require.Len(t, obs, cfg.Population)
		for i, o := range obs {
			require.Equal(t, protocol.PersonID(i), o.Person)
			require.Equal(t, day, o.Day)
			require.Equal(t, protocol.EncodeRisk(o.Risk), o.Level)
		}
	}
}

// Risk reaches an uninfected receiver through the mailbox: person 0 is
// symptomatic ground truth, person 1 is healthy, and they meet every slot.
// Person 1's estimate must stay zero through the burn-in day and turn
// positive once person 0's broadcast lands.
func TestRiskPropagatesAfterBurnIn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Population = 2
	cfg.Days = 4
	cfg.Seed = 7
	cfg.Protocol = testutil.NewTestConfig(
		testutil.WithRiskModel(protocol.ModelAdditive),
		testutil.WithTransmission(0.1),
	)
	cfg.Budget.QuotaFraction = 1.0
	cfg.Budget.DaysBetween = 4
	cfg.Budget.BurnInDays = 1
	cfg.Budget.InterventionDay = 0

	opts := Options{
		Contacts: pairSource{clock: cfg.Clock()},
		Health: scriptedHealth{states: []HealthState{
			{Stage: StageInfectious, Symptoms: protocol.SeveritySevere, Infectious: true},
			{Stage: StageSusceptible},
		}},
	}
	sum, sink := runOnce(t, cfg, opts)

	day0 := sink.Day(0)
	require.Len(t, day0, 2)
	require.Equal(t, 0.75, day0[0].Risk, "severe symptoms floor the sender's risk")
	require.Zero(t, day0[1].Risk, "nothing may arrive during burn-in")

	last := sink.Day(protocol.Day(cfg.Days - 1))
	require.Positive(t, last[1].Risk, "receiver never learned about the exposure")

	require.GreaterOrEqual(t, sum.Sent, 1)
	require.GreaterOrEqual(t, sum.Deposited, 5)
	require.Equal(t, 2, sum.Suppressed["burn_in"], "both candidates must wait out the burn-in day")
}

// The daily cap bounds admitted broadcasts even when the whole population
// wants to send at once.
func TestDailyCapBoundsBroadcasts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Population = 30
	cfg.Days = 5
	cfg.Seed = 3
	cfg.Budget.QuotaFraction = 0.1
	cfg.Budget.BurnInDays = 0
	cfg.Budget.InterventionDay = 0
	// A cooldown this long pushes the percentile-walk budget to 1.0, so the
	// hard cap is the only check that can reject and the counts below are
	// exact.
	cfg.Budget.DaysBetween = 40

	states := make([]HealthState, cfg.Population)
	for i := range states {
		states[i] = HealthState{Stage: StageInfectious, Symptoms: protocol.SeveritySevere, Infectious: true}
	}
	sum, _ := runOnce(t, cfg, Options{
		Contacts: noContacts{},
		Health:   scriptedHealth{states: states},
	})

	// 0.1*30=3 admissions per day; day d has 30-3d candidates left outside
	// cooldown, of which 3 get through and the rest hit the cap.
	require.Equal(t, 3*cfg.Days, sum.Sent)
	require.Equal(t, 27+24+21+18+15, sum.Suppressed["daily_cap"])
	require.Equal(t, 3+6+9+12, sum.Suppressed["cooldown"])
}

func TestNonAdoptersNeverMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Population = 10
	cfg.Days = 3
	cfg.AppUptake = 0
	cfg.Budget.InterventionDay = 0
	cfg.Budget.BurnInDays = 0

	states := make([]HealthState, cfg.Population)
	for i := range states {
		states[i] = HealthState{Stage: StageInfectious, Symptoms: protocol.SeveritySevere, Infectious: true}
	}
	sum, sink := runOnce(t, cfg, Options{
		Contacts: pairSource{clock: cfg.Clock()},
		Health:   scriptedHealth{states: states},
	})

	require.Zero(t, sum.Sent)
	require.Zero(t, sum.Deposited)
	require.Empty(t, sum.Suppressed)

	// The symptom floor still applies without the app.
	for _, o := range sink.Day(0) {
		require.Equal(t, 0.75, o.Risk)
		require.Equal(t, protocol.RiskLevel(12), o.Level)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	cfg := denseRunConfig()
	e, err := New(cfg, Options{Log: quietLog()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, sum)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Population = 0

	_, err := New(cfg, Options{Log: quietLog()})
	require.ErrorContains(t, err, "population")
}

func TestSummarySeparatesInfectedFromHealthy(t *testing.T) {
	cfg := denseRunConfig()
	cfg.Days = 12

	sum, sink := runOnce(t, cfg, Options{})

	// Cross-check the summary means against the final day's observations.
	last := sink.Day(protocol.Day(cfg.Days - 1))
	var sickSum, healthySum float64
	var sickN, healthyN int
	for _, o := range last {
		if o.Infectious || o.Exposed {
			sickSum += o.Risk
			sickN++
		} else {
			healthySum += o.Risk
			healthyN++
		}
	}
	if sickN > 0 {
		require.InDelta(t, sickSum/float64(sickN), sum.MeanRiskInfected, 1e-9)
	}
	if healthyN > 0 {
		require.InDelta(t, healthySum/float64(healthyN), sum.MeanRiskHealthy, 1e-9)
	}
}
