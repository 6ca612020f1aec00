package simulation

import (
	"math/rand/v2"
	"time"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

// ContactRecord is one entry in a person's contact book: who they met, the
// pseudonyms both sides were broadcasting at the time, and when. MyUID is
// what the peer knows this person as, so it is the sender pseudonym on any
// later update message referencing this encounter.
type ContactRecord struct {
	Peer    protocol.PersonID
	MyUID   protocol.UID
	PeerUID protocol.UID
	Time    time.Time
}

// Person is all per-person state. Everything here is owned by exactly one
// person and is only ever touched by that person's compute step or by the
// engine's serial phases, so none of it needs locking.
type Person struct {
	ID   protocol.PersonID
	UID  protocol.UID
	Risk float64

	// HasApp marks messaging participants. Non-adopters keep a risk value
	// (the symptom ladder still applies, and they appear in observations)
	// but never record contacts, send, or receive.
	HasApp bool

	// Slot is the person's recurring daily update slot.
	Slot int

	// LastBroadcastDay is the day of the last admitted broadcast, -1 before
	// the first one.
	LastBroadcastDay protocol.Day

	// History records the fused risk per day. PrevHistory is yesterday's
	// snapshot, frozen at day rollover, and is what change scores compare
	// against.
	History     map[protocol.Day]float64
	PrevHistory map[protocol.Day]float64

	// Clusters is this person's contact-cluster table. Nil unless the
	// configured fusion model needs one.
	Clusters *protocol.ClusterEngine

	contacts []ContactRecord
	rng      *rand.Rand
}

func newPerson(id protocol.PersonID, hasApp bool, slot int, clusters *protocol.ClusterEngine, rng *rand.Rand) *Person {
	p := &Person{
		ID:               id,
		HasApp:           hasApp,
		Slot:             slot,
		LastBroadcastDay: -1,
		History:          make(map[protocol.Day]float64),
		PrevHistory:      make(map[protocol.Day]float64),
		Clusters:         clusters,
		rng:              rng,
	}
	if hasApp {
		p.UID = protocol.NewUID(rng)
	}
	return p
}

// RecordEncounter appends to the contact book. Called for app users only;
// the physical encounter itself is the contact source's and health model's
// business.
func (p *Person) RecordEncounter(peer protocol.PersonID, peerUID protocol.UID, at time.Time) {
	p.contacts = append(p.contacts, ContactRecord{
		Peer:    peer,
		MyUID:   p.UID,
		PeerUID: peerUID,
		Time:    at,
	})
}

// ContactsSince returns the contact records strictly newer than the given
// day, in insertion order. A negative day returns the whole book.
func (p *Person) ContactsSince(day protocol.Day, clock protocol.Clock) []ContactRecord {
	var out []ContactRecord
	for _, c := range p.contacts {
		if clock.DayOf(c.Time) > day {
			out = append(out, c)
		}
	}
	return out
}

// ContactBook returns the full contact book in insertion order.
func (p *Person) ContactBook() []ContactRecord {
	return p.contacts
}

// PruneContacts drops records older than the retention window. Runs at day
// boundaries together with the mailbox cleanup, so composed messages always
// reference encounters the receiver can still plausibly hold.
func (p *Person) PruneContacts(now time.Time, retention time.Duration) {
	keep := p.contacts[:0]
	for _, c := range p.contacts {
		if now.Sub(c.Time) <= retention {
			keep = append(keep, c)
		}
	}
	p.contacts = keep
}

// SnapshotHistory freezes the current risk history as yesterday's view.
func (p *Person) SnapshotHistory() {
	snap := make(map[protocol.Day]float64, len(p.History))
	for d, r := range p.History {
		snap[d] = r
	}
	p.PrevHistory = snap
}

// RiskChangeScore measures how much a person's visible risk history moved
// between two snapshots: the sum over all days present in either map of the
// absolute difference in quantized levels, with missing days reading as
// level 0. Integer, and 0 means the change is invisible at wire precision.
func RiskChangeScore(prev, cur map[protocol.Day]float64) int {
	days := make(map[protocol.Day]struct{}, len(prev)+len(cur))
	for d := range prev {
		days[d] = struct{}{}
	}
	for d := range cur {
		days[d] = struct{}{}
	}

	score := 0
	for d := range days {
		a := int(protocol.EncodeRisk(prev[d]))
		b := int(protocol.EncodeRisk(cur[d]))
		if a > b {
			score += a - b
		} else {
			score += b - a
		}
	}
	return score
}
