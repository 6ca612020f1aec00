package simulation

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

func testPerson(t *testing.T, id protocol.PersonID) *Person {
	t.Helper()
	return newPerson(id, true, 0, nil, rand.New(rand.NewPCG(uint64(id), 99)))
}

func TestRiskChangeScore(t *testing.T) {
	require.Zero(t, RiskChangeScore(nil, nil))
	require.Zero(t, RiskChangeScore(
		map[protocol.Day]float64{0: 0.5},
		map[protocol.Day]float64{0: 0.5},
	))

	// A new day at full risk moves all 15 visible steps.
	require.Equal(t, 15, RiskChangeScore(nil, map[protocol.Day]float64{0: 1.0}))

	// 0.25 -> 0.5 on day 0 is four steps, a fresh 0.125 on day 1 is two.
	require.Equal(t, 6, RiskChangeScore(
		map[protocol.Day]float64{0: 0.25},
		map[protocol.Day]float64{0: 0.5, 1: 0.125},
	))

	// Decreases count the same as increases.
	require.Equal(t, 4, RiskChangeScore(
		map[protocol.Day]float64{0: 0.5},
		map[protocol.Day]float64{0: 0.25},
	))

	// Sub-step drift is invisible at wire precision.
	require.Zero(t, RiskChangeScore(
		map[protocol.Day]float64{0: 0.50},
		map[protocol.Day]float64{0: 0.51},
	))
}

func TestContactsSince(t *testing.T) {
	clock := testClock()
	p := testPerson(t, 0)
	for day := 0; day < 4; day++ {
		at := clock.TimeForTick(protocol.Tick{Day: protocol.Day(day), Slot: 1})
		p.RecordEncounter(protocol.PersonID(day+1), 0b0101, at)
	}

	require.Len(t, p.ContactsSince(-1, clock), 4)
	require.Len(t, p.ContactsSince(1, clock), 2, "strictly newer than day 1")
	require.Empty(t, p.ContactsSince(3, clock))
}

func TestPruneContactsKeepsRetentionBoundary(t *testing.T) {
	clock := testClock()
	now := clock.TimeForTick(protocol.Tick{Day: 20, Slot: 0})
	retention := 14 * 24 * time.Hour

	p := testPerson(t, 0)
	p.RecordEncounter(1, 0b0001, now.Add(-retention-time.Second))
	p.RecordEncounter(2, 0b0010, now.Add(-retention))
	p.RecordEncounter(3, 0b0011, now.Add(-time.Hour))

	p.PruneContacts(now, retention)

	book := p.ContactBook()
	require.Len(t, book, 2)
	require.Equal(t, protocol.PersonID(2), book[0].Peer, "exactly retention old survives")
	require.Equal(t, protocol.PersonID(3), book[1].Peer)
}

func TestRecordEncounterSnapshotsOwnUID(t *testing.T) {
	p := testPerson(t, 0)
	first := p.UID
	p.RecordEncounter(1, 0b1111, time.Time{})

	p.UID = p.UID.Rotate(p.rng)
	p.RecordEncounter(2, 0b1111, time.Time{})

	book := p.ContactBook()
	require.Equal(t, first, book[0].MyUID, "the book keeps the pseudonym the peer saw")
	require.Equal(t, p.UID, book[1].MyUID)
}

func TestSnapshotHistoryIsIsolated(t *testing.T) {
	p := testPerson(t, 0)
	p.History[0] = 0.5
	p.SnapshotHistory()

	p.History[0] = 0.9
	p.History[1] = 0.2

	require.Equal(t, map[protocol.Day]float64{0: 0.5}, p.PrevHistory)
}

func TestNonAdopterHasNoPseudonym(t *testing.T) {
	p := newPerson(3, false, 0, nil, rand.New(rand.NewPCG(1, 2)))
	require.False(t, p.HasApp)
	require.Zero(t, p.UID)
	require.Equal(t, protocol.Day(-1), p.LastBroadcastDay)
}
