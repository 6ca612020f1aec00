package protocol

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2020, 2, 28, 0, 0, 0, 0, time.UTC)

func testClock() Clock {
	return Clock{Epoch: testEpoch, SlotsPerDay: 4}
}

func msgAt(sender UID, level RiskLevel, day Day) UpdateMessage {
	return UpdateMessage{
		Sender: sender,
		Risk:   level,
		Time:   testEpoch.Add(time.Duration(day) * 24 * time.Hour),
	}
}

func TestClusterFirstMessageOpensGroupZero(t *testing.T) {
	e := NewClusterEngine(testClock(), 0.03)
	a := e.Observe(msgAt(0b1010, 4, 0))
	require.Equal(t, 0, a.Group)
	require.Equal(t, 4.0/16.0, a.PreviousRisk)
	require.Equal(t, 0.03, a.CarryOver)
	require.Equal(t, 1, e.Len())
	require.Equal(t, 1, e.Groups())
}

func TestClusterExactMatchJoinsGroup(t *testing.T) {
	e := NewClusterEngine(testClock(), 0.03)
	e.Observe(msgAt(0b1010, 4, 3))

	// Same pseudonym, same day, different level: score 3.
	a := e.Observe(msgAt(0b1010, 9, 3))
	require.Equal(t, 0, a.Group)
	require.Equal(t, 2, e.Len())
	require.Equal(t, 1, e.Groups())
}

func TestClusterPrefixTiers(t *testing.T) {
	base := UID(0b1011)

	for _, tc := range []struct {
		name      string
		incoming  UID
		gap       Day
		sameGroup bool
	}{
		{"3-bit prefix one day later", 0b1010, 1, true},
		{"3-bit prefix same day", 0b1010, 0, false},
		{"2-bit prefix two days later", 0b1000, 2, true},
		{"2-bit prefix one day later", 0b1000, 1, false},
		{"1-bit prefix two days later", 0b1100, 2, true},
		{"no prefix two days later", 0b0100, 2, false},
		{"3-bit prefix three days later", 0b1010, 3, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := NewClusterEngine(testClock(), 0.03)
			first := e.Observe(msgAt(base, 4, 5))
			got := e.Observe(msgAt(tc.incoming, 4, 5+tc.gap))
			if tc.sameGroup {
				require.Equal(t, first.Group, got.Group)
			} else {
				require.Equal(t, first.Group+1, got.Group)
			}
		})
	}
}

func TestClusterBestScoreWins(t *testing.T) {
	e := NewClusterEngine(testClock(), 0.03)
	// The incoming message scores 1 against the first entry (2-bit prefix,
	// two days) and 2 against the second (3-bit prefix, one day). The
	// entries themselves share no tier, so they sit in separate groups.
	first := e.Observe(msgAt(0b1010, 4, 3))
	second := e.Observe(msgAt(0b1001, 4, 4))
	require.Equal(t, 0, first.Group)
	require.Equal(t, 1, second.Group)

	got := e.Observe(msgAt(0b1000, 7, 5))
	require.Equal(t, second.Group, got.Group)
}

func TestClusterTieBreakEarliestObserved(t *testing.T) {
	// 0b1010 and 0b1011 on the same day land in different groups (no tier
	// covers a same-day prefix match), then both score 2 for a message one
	// day later sharing their 3-bit prefix. The earlier entry must win.
	e := NewClusterEngine(testClock(), 0.03)
	a := e.Observe(msgAt(0b1010, 4, 5))
	b := e.Observe(msgAt(0b1011, 4, 5))
	require.Equal(t, 0, a.Group)
	require.Equal(t, 1, b.Group)

	got := e.Observe(msgAt(0b1010, 7, 6))
	require.Equal(t, a.Group, got.Group)

	// Flipped insertion order flips the winner.
	e2 := NewClusterEngine(testClock(), 0.03)
	b2 := e2.Observe(msgAt(0b1011, 4, 5))
	e2.Observe(msgAt(0b1010, 4, 5))
	got2 := e2.Observe(msgAt(0b1010, 7, 6))
	require.Equal(t, b2.Group, got2.Group)
}

func TestClusterReobserveKeepsEntry(t *testing.T) {
	e := NewClusterEngine(testClock(), 0.05)
	m := msgAt(0b1110, 8, 1)
	e.Observe(m)

	require.NoError(t, e.UpdateHistory(e.KeyOf(m), 0.9, 0.001))

	again := e.Observe(m)
	require.Equal(t, 0.9, again.PreviousRisk)
	require.Equal(t, 0.001, again.CarryOver)
	require.Equal(t, 1, e.Len())
}

func TestClusterTotality(t *testing.T) {
	e := NewClusterEngine(testClock(), 0.03)
	rng := rand.New(rand.NewPCG(3, 9))

	seen := make(map[MessageKey]bool)
	for i := 0; i < 500; i++ {
		m := msgAt(NewUID(rng), RiskLevel(rng.IntN(16)), Day(rng.IntN(30)))
		seen[m.Key(e.clock)] = true
		e.Observe(m)
	}

	require.Equal(t, len(seen), e.Len())
	require.LessOrEqual(t, e.Groups(), e.Len())

	// Every group id present is dense in [0, Groups).
	for _, entry := range e.Snapshot() {
		require.GreaterOrEqual(t, entry.Group, 0)
		require.Less(t, entry.Group, e.Groups())
	}
}

func TestClusterSnapshotOrder(t *testing.T) {
	e := NewClusterEngine(testClock(), 0.03)
	first := msgAt(0b0001, 1, 0)
	second := msgAt(0b0010, 2, 0)
	e.Observe(first)
	e.Observe(second)

	snap := e.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, e.KeyOf(first), snap[0].Key)
	require.Equal(t, e.KeyOf(second), snap[1].Key)
}

func TestClusterUpdateHistoryUnknownKey(t *testing.T) {
	e := NewClusterEngine(testClock(), 0.03)
	err := e.UpdateHistory(MessageKey{Sender: 1, Risk: 1, Day: 1}, 0.5, 0.5)
	require.ErrorIs(t, err, ErrClusterKeyUnknown)
}

func BenchmarkClusterObserve(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 1))
	e := NewClusterEngine(testClock(), 0.03)
	for i := 0; i < 200; i++ {
		e.Observe(msgAt(NewUID(rng), RiskLevel(rng.IntN(16)), Day(rng.IntN(14))))
	}

	b.ResetTimer()
	for b.Loop() {
		e.Observe(msgAt(NewUID(rng), RiskLevel(rng.IntN(16)), Day(rng.IntN(14))))
	}
}
