package simulation

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

// Encounter is one physical meeting reported by the contact layer. The risk
// subsystem reads only the time and the parties' pseudonym snapshots;
// duration and distance feed the health model.
type Encounter struct {
	A        protocol.PersonID `json:"a"`
	B        protocol.PersonID `json:"b"`
	Time     time.Time         `json:"time"`
	Duration time.Duration     `json:"duration"`
	Distance float64           `json:"distance"`
}

// ContactSource supplies the encounters for one broadcast slot. Sources
// must be deterministic for a fixed construction (seeded rng or a fixed
// trace): the engine's reproducibility guarantee extends only as far as the
// source's.
type ContactSource interface {
	Contacts(day protocol.Day, slot int) []Encounter
}

// RandomMixer is the default contact source: a homogeneous mixing crowd
// with no structure. Pair counts per slot are Poisson around the configured
// mean, partners drawn uniformly.
type RandomMixer struct {
	clock        protocol.Clock
	population   int
	pairsPerSlot float64
	rng          *rand.Rand
}

// NewRandomMixer targets meanDailyContacts encounters per person per day,
// spread evenly over the day's slots.
func NewRandomMixer(clock protocol.Clock, population int, meanDailyContacts float64, rng *rand.Rand) *RandomMixer {
	return &RandomMixer{
		clock:        clock,
		population:   population,
		pairsPerSlot: float64(population) * meanDailyContacts / 2 / float64(clock.SlotsPerDay),
		rng:          rng,
	}
}

func (m *RandomMixer) Contacts(day protocol.Day, slot int) []Encounter {
	if m.population < 2 {
		return nil
	}

	n := m.poisson(m.pairsPerSlot)
	if n == 0 {
		return nil
	}

	slotStart := m.clock.TimeForTick(protocol.Tick{Day: day, Slot: slot})
	slotLen := m.clock.SlotLength()

	out := make([]Encounter, 0, n)
	for range n {
		a := protocol.PersonID(m.rng.IntN(m.population))
		b := protocol.PersonID(m.rng.IntN(m.population - 1))
		if b >= a {
			b++
		}
		out = append(out, Encounter{
			A:        a,
			B:        b,
			Time:     slotStart.Add(time.Duration(m.rng.Int64N(int64(slotLen)))),
			Duration: time.Duration(5+m.rng.IntN(26)) * time.Minute,
			Distance: 0.5 + m.rng.Float64()*4.5,
		})
	}
	return out
}

// poisson samples by Knuth's product method, falling back to a normal
// approximation for large means where the product underflows.
func (m *RandomMixer) poisson(lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	if lambda > 500 {
		n := int(math.Round(lambda + math.Sqrt(lambda)*m.rng.NormFloat64()))
		if n < 0 {
			return 0
		}
		return n
	}

	limit := math.Exp(-lambda)
	k, prod := 0, m.rng.Float64()
	for prod > limit {
		k++
		prod *= m.rng.Float64()
	}
	return k
}

// ReplaySource serves encounters from a recorded trace: one JSON Encounter
// per line, grouped by slot on load. Runs on a trace are exactly
// reproducible, which makes it the fixture source for tests.
type ReplaySource struct {
	byTick map[protocol.Tick][]Encounter
}

// NewReplaySource reads a JSON-lines trace.
func NewReplaySource(clock protocol.Clock, r io.Reader) (*ReplaySource, error) {
	s := &ReplaySource{byTick: make(map[protocol.Tick][]Encounter)}

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		enc, err := protocol.UnmarshalMessage[Encounter](raw)
		if err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		tick := clock.TickForTime(enc.Time)
		s.byTick[tick] = append(s.byTick[tick], *enc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	return s, nil
}

// OpenReplaySource reads a trace file.
func OpenReplaySource(clock protocol.Clock, path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}
	defer f.Close()
	return NewReplaySource(clock, f)
}

func (s *ReplaySource) Contacts(day protocol.Day, slot int) []Encounter {
	return s.byTick[protocol.Tick{Day: day, Slot: slot}]
}
