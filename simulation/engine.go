package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mptcloud/covid-p2p-simulation/budget"
	"github.com/mptcloud/covid-p2p-simulation/mailbox"
	"github.com/mptcloud/covid-p2p-simulation/metrics"
	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

// Options are the engine's pluggable collaborators. Nil fields get the
// defaults: slog.Default, RandomMixer, SEIRModel, MemorySink, and
// standalone metrics.
type Options struct {
	Log      *slog.Logger
	Contacts ContactSource
	Health   HealthModel
	Sink     ObservationSink
	Metrics  *metrics.Simulation
}

// Engine runs one simulation. It owns the clock, the population, the
// mailbox router, the budget controller, and the fusion engine, and drives
// the per-slot loop: physical encounters, a parallel per-person compute
// phase, a serial commit phase in ascending person id, and a day rollover.
//
// Determinism: a fixed config and seed produce identical risk trajectories
// and message counts regardless of GOMAXPROCS. The compute phase only
// touches person-local state (plus each person's own mailbox drain); all
// shared mutation happens in the serial phases, and every random stream is
// derived from the run seed rather than shared.
type Engine struct {
	cfg   Config
	clock protocol.Clock
	log   *slog.Logger

	people []*Person
	router *mailbox.Router
	budget *budget.Engine
	fusion *protocol.FusionEngine

	contacts ContactSource
	health   HealthModel
	sink     ObservationSink
	metrics  *metrics.Simulation

	sent       int
	deposited  int
	suppressed map[string]int

	// Final-day risk means, split by observation-time ground truth. Written
	// at every rollover, so after the run they hold the last day's values.
	meanRiskInfected float64
	meanRiskHealthy  float64
}

// New validates the config, derives every random stream, and builds the
// population.
func New(cfg Config, opts Options) (*Engine, error) {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}

	clock := cfg.Clock()
	seeds := newSeeder(cfg.Seed)

	fusion, err := protocol.NewFusionEngine(cfg.Protocol.Model, cfg.Protocol.Transmission, cfg.Protocol.ClipRisk)
	if err != nil {
		return nil, err
	}

	budgetRNG, err := seeds.rng("budget")
	if err != nil {
		return nil, err
	}
	budgetEngine, err := budget.NewEngine(cfg.Budget, budgetRNG)
	if err != nil {
		return nil, err
	}

	popRNG, err := seeds.rng("population")
	if err != nil {
		return nil, err
	}
	people := make([]*Person, cfg.Population)
	for i := range people {
		personRNG, err := seeds.personRNG(protocol.PersonID(i))
		if err != nil {
			return nil, err
		}
		hasApp := popRNG.Float64() < cfg.AppUptake
		slot := popRNG.IntN(cfg.Protocol.SlotsPerDay)

		var clusters *protocol.ClusterEngine
		if fusion.NeedsClustering() {
			clusters = protocol.NewClusterEngine(clock, cfg.Protocol.Transmission)
		}
		people[i] = newPerson(protocol.PersonID(i), hasApp, slot, clusters, personRNG)
	}

	e := &Engine{
		cfg:        cfg,
		clock:      clock,
		log:        opts.Log,
		people:     people,
		router:     mailbox.NewRouter(cfg.Population, cfg.Protocol.RetentionDays),
		budget:     budgetEngine,
		fusion:     fusion,
		contacts:   opts.Contacts,
		health:     opts.Health,
		sink:       opts.Sink,
		metrics:    opts.Metrics,
		suppressed: make(map[string]int),
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.contacts == nil {
		contactRNG, err := seeds.rng("contacts")
		if err != nil {
			return nil, err
		}
		e.contacts = NewRandomMixer(clock, cfg.Population, cfg.MeanDailyContacts, contactRNG)
	}
	if e.health == nil {
		healthRNG, err := seeds.rng("health")
		if err != nil {
			return nil, err
		}
		e.health = NewSEIRModel(cfg.Health, cfg.Population, healthRNG)
	}
	if e.sink == nil {
		e.sink = NewMemorySink()
	}
	if e.metrics == nil {
		e.metrics = metrics.NewStandaloneSimulation()
	}
	return e, nil
}

// Run executes the configured number of days and returns the run summary.
// Cancellation is honored between slots.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	e.log.Info("starting run",
		"population", e.cfg.Population,
		"days", e.cfg.Days,
		"model", string(e.cfg.Protocol.Model),
		"seed", e.cfg.Seed,
	)
	start := time.Now()

	for day := protocol.Day(0); int(day) < e.cfg.Days; day++ {
		e.budget.AdvanceToDay(day)
		e.metrics.CurrentDay.Set(float64(day))

		for slot := 0; slot < e.cfg.Protocol.SlotsPerDay; slot++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			if err := e.runSlot(day, slot); err != nil {
				return nil, err
			}
		}

		if err := e.rollover(ctx, day); err != nil {
			return nil, err
		}
		e.log.Debug("day complete",
			"day", int(day),
			"sent", e.sent,
			"stored", e.router.Stored(),
		)
	}

	summary := e.summarize()
	e.log.Info("run complete",
		"elapsed", time.Since(start),
		"sent", summary.Sent,
		"deposited", summary.Deposited,
		"meanRiskInfected", summary.MeanRiskInfected,
		"meanRiskHealthy", summary.MeanRiskHealthy,
	)
	return summary, nil
}

// slotResult is one person's compute-phase output, applied in the serial
// commit phase.
type slotResult struct {
	candidate bool
	score     int
	clamped   bool
	outgoing  []protocol.UpdateMessage
	fused     int
}

func (e *Engine) runSlot(day protocol.Day, slot int) error {
	// Physical encounters first: health model transmission plus contact
	// book entries for app-carrying pairs.
	for _, enc := range e.contacts.Contacts(day, slot) {
		if enc.A == enc.B || enc.A < 0 || int(enc.A) >= len(e.people) || enc.B < 0 || int(enc.B) >= len(e.people) {
			return fmt.Errorf("contact source produced invalid encounter %d-%d at %s", enc.A, enc.B, enc.Time)
		}
		e.health.RecordContact(enc.A, enc.B, enc.Time)

		a, b := e.people[enc.A], e.people[enc.B]
		if a.HasApp && b.HasApp {
			a.RecordEncounter(b.ID, b.UID, enc.Time)
			b.RecordEncounter(a.ID, a.UID, enc.Time)
		}
	}

	// Compute phase: everyone whose daily slot this is, in parallel.
	// Workers touch only their own person's state and mailbox.
	results := make([]*slotResult, len(e.people))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, p := range e.people {
		if p.Slot != slot {
			continue
		}
		g.Go(func() error {
			res, err := e.computePerson(p, day)
			if err != nil {
				return err
			}
			results[p.ID] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("day %d slot %d compute: %w", day, slot, err)
	}

	// Commit phase: budget decisions and deposits, ascending person id.
	for id := range results {
		res := results[id]
		if res == nil {
			continue
		}
		e.metrics.MessagesFused.Add(float64(res.fused))
		if !res.candidate {
			continue
		}
		if res.clamped {
			e.log.Warn("risk clamped at codec boundary", "person", id, "risk", e.people[id].Risk)
		}

		ok, verdict := e.budget.Decide(day, e.people[id].LastBroadcastDay, res.score)
		if !ok {
			e.suppressed[string(verdict)]++
			e.metrics.BroadcastsSuppressed.WithLabelValues(string(verdict)).Inc()
			continue
		}

		for _, msg := range res.outgoing {
			if err := e.router.Deposit(msg); err != nil {
				return fmt.Errorf("depositing for person %d: %w", id, err)
			}
		}
		e.budget.RecordSend(day, res.score)
		e.people[id].LastBroadcastDay = day
		e.sent++
		e.deposited += len(res.outgoing)
		e.metrics.BroadcastsSent.Inc()
		e.metrics.MessagesDeposited.Add(float64(len(res.outgoing)))
	}
	return nil
}

// computePerson is one person's daily processing: pseudonym rotation,
// symptom floor, mailbox drain and fusion, history write, candidate
// composition. Reads shared state, mutates only its own person.
func (e *Engine) computePerson(p *Person, day protocol.Day) (*slotResult, error) {
	res := &slotResult{}
	st := e.health.StateOf(p.ID)

	if p.HasApp {
		p.UID = p.UID.Rotate(p.rng)
	}

	// Symptom ladder is a floor on the day's starting risk.
	if floor := protocol.RiskForSymptoms(st.Symptoms, st.Quarantined); p.Risk < floor {
		p.Risk = floor
	}

	bigChange := false
	if p.HasApp {
		msgs, err := e.router.Drain(p.ID)
		if err != nil {
			return nil, err
		}
		before := p.Risk
		for _, m := range msgs {
			next, err := e.fusion.Fuse(p.Risk, m, p.Clusters)
			if err != nil {
				return nil, fmt.Errorf("fusing for person %d: %w", p.ID, err)
			}
			p.Risk = next
		}
		res.fused = len(msgs)
		bigChange = math.Abs(p.Risk-before) > 0.1
	}

	// Confirmed quarantine pins the estimate regardless of fusion.
	if st.Quarantined {
		p.Risk = 1.0
	}
	p.History[day] = p.Risk

	if !p.HasApp {
		return res, nil
	}

	score := RiskChangeScore(p.PrevHistory, p.History)
	fresh := len(p.ContactsSince(p.LastBroadcastDay, e.clock)) > 0
	if score > 0 || fresh || (e.cfg.ResendOnBigChange && bigChange) {
		res.candidate = true
		res.score = score
		_, res.clamped = protocol.ClampRisk(p.Risk)

		level := protocol.EncodeRisk(p.Risk)
		for _, c := range p.ContactBook() {
			res.outgoing = append(res.outgoing, protocol.UpdateMessage{
				Sender:   c.MyUID,
				Risk:     level,
				Time:     c.Time,
				Receiver: c.Peer,
			})
		}
	}
	return res, nil
}

// rollover runs once per day after the last slot: retention cleanup,
// history snapshots, health advance, observations out.
func (e *Engine) rollover(ctx context.Context, day protocol.Day) error {
	now := e.clock.TimeForTick(protocol.Tick{Day: day + 1, Slot: 0})
	retention := time.Duration(e.cfg.Protocol.RetentionDays) * 24 * time.Hour

	expired := e.router.Cleanup(now)
	e.metrics.MessagesExpired.Add(float64(expired))

	var sickSum, healthySum float64
	var sickN, healthyN int
	obs := make([]RiskObservation, 0, len(e.people))
	for _, p := range e.people {
		p.PruneContacts(now, retention)
		p.SnapshotHistory()

		st := e.health.StateOf(p.ID)
		level := protocol.EncodeRisk(p.Risk)
		e.metrics.RiskLevels.Observe(float64(level))
		obs = append(obs, RiskObservation{
			Person:     p.ID,
			Day:        day,
			Risk:       p.Risk,
			Level:      level,
			Infectious: st.Infectious,
			Exposed:    st.Exposed,
		})

		if st.Infectious || st.Exposed {
			sickSum += p.Risk
			sickN++
		} else {
			healthySum += p.Risk
			healthyN++
		}
	}
	e.meanRiskInfected, e.meanRiskHealthy = 0, 0
	if sickN > 0 {
		e.meanRiskInfected = sickSum / float64(sickN)
	}
	if healthyN > 0 {
		e.meanRiskHealthy = healthySum / float64(healthyN)
	}

	e.health.Advance(day + 1)

	if err := e.sink.RecordDay(ctx, day, obs); err != nil {
		return fmt.Errorf("recording day %d: %w", day, err)
	}
	return nil
}

func (e *Engine) summarize() *Summary {
	s := &Summary{
		Population:       e.cfg.Population,
		Days:             e.cfg.Days,
		Sent:             e.sent,
		Deposited:        e.deposited,
		Suppressed:       make(map[string]int, len(e.suppressed)),
		MeanRiskInfected: e.meanRiskInfected,
		MeanRiskHealthy:  e.meanRiskHealthy,
	}
	for k, v := range e.suppressed {
		s.Suppressed[k] = v
	}
	return s
}
