package simulation

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
	"github.com/mptcloud/covid-p2p-simulation/testutil"
)

func testClock() protocol.Clock {
	return testutil.NewTestClock()
}

func TestRandomMixerIsDeterministic(t *testing.T) {
	clock := testClock()
	a := NewRandomMixer(clock, 50, 5, rand.New(rand.NewPCG(1, 2)))
	b := NewRandomMixer(clock, 50, 5, rand.New(rand.NewPCG(1, 2)))

	for slot := 0; slot < 8; slot++ {
		require.Equal(t, a.Contacts(3, slot%4), b.Contacts(3, slot%4))
	}
}

func TestRandomMixerEncountersAreWellFormed(t *testing.T) {
	clock := testClock()
	m := NewRandomMixer(clock, 20, 8, rand.New(rand.NewPCG(5, 6)))

	for day := protocol.Day(0); day < 5; day++ {
		for slot := 0; slot < clock.SlotsPerDay; slot++ {
			start := clock.TimeForTick(protocol.Tick{Day: day, Slot: slot})
			end := start.Add(clock.SlotLength())
			for _, enc := range m.Contacts(day, slot) {
				require.NotEqual(t, enc.A, enc.B, "nobody meets themselves")
				require.GreaterOrEqual(t, int(enc.A), 0)
				require.Less(t, int(enc.A), 20)
				require.GreaterOrEqual(t, int(enc.B), 0)
				require.Less(t, int(enc.B), 20)
				require.False(t, enc.Time.Before(start))
				require.True(t, enc.Time.Before(end))
			}
		}
	}
}

func TestRandomMixerTargetsConfiguredRate(t *testing.T) {
	clock := testClock()
	m := NewRandomMixer(clock, 100, 5, rand.New(rand.NewPCG(9, 10)))

	// 100 people at 5 contacts/day is 62.5 pairs per slot. Over 40 slots
	// the Poisson total concentrates tightly around 2500.
	total := 0
	for day := protocol.Day(0); day < 10; day++ {
		for slot := 0; slot < clock.SlotsPerDay; slot++ {
			total += len(m.Contacts(day, slot))
		}
	}
	require.Greater(t, total, 2200)
	require.Less(t, total, 2800)
}

func TestRandomMixerTinyPopulation(t *testing.T) {
	clock := testClock()
	require.Nil(t, NewRandomMixer(clock, 1, 5, rand.New(rand.NewPCG(1, 1))).Contacts(0, 0))
	require.Nil(t, NewRandomMixer(clock, 0, 5, rand.New(rand.NewPCG(1, 1))).Contacts(0, 0))
}

func traceLine(t *testing.T, enc Encounter) string {
	t.Helper()
	raw, err := protocol.SerializeMessage(&enc)
	require.NoError(t, err)
	return string(raw)
}

func TestReplaySourceGroupsBySlot(t *testing.T) {
	clock := testClock()
	first := Encounter{A: 0, B: 1, Time: clock.TimeForTick(protocol.Tick{Day: 1, Slot: 0}).Add(time.Hour)}
	second := Encounter{A: 1, B: 2, Time: clock.TimeForTick(protocol.Tick{Day: 1, Slot: 2})}
	third := Encounter{A: 0, B: 2, Time: clock.TimeForTick(protocol.Tick{Day: 2, Slot: 0})}

	trace := strings.Join([]string{
		traceLine(t, first),
		"",
		traceLine(t, second),
		traceLine(t, third),
	}, "\n")

	src, err := NewReplaySource(clock, strings.NewReader(trace))
	require.NoError(t, err)

	require.Equal(t, []Encounter{first}, src.Contacts(1, 0))
	require.Equal(t, []Encounter{second}, src.Contacts(1, 2))
	require.Equal(t, []Encounter{third}, src.Contacts(2, 0))
	require.Empty(t, src.Contacts(1, 1))
	require.Empty(t, src.Contacts(0, 0))
}

func TestReplaySourceRejectsMalformedLines(t *testing.T) {
	clock := testClock()
	trace := traceLine(t, Encounter{A: 0, B: 1, Time: clock.Epoch}) + "\nnot json\n"

	_, err := NewReplaySource(clock, strings.NewReader(trace))
	require.ErrorContains(t, err, "line 2")
}

func TestOpenReplaySourceMissingFile(t *testing.T) {
	_, err := OpenReplaySource(testClock(), "/does/not/exist.jsonl")
	require.Error(t, err)
}
