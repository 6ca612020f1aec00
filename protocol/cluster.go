package protocol

import (
	"errors"
	"fmt"
)

// ErrClusterKeyUnknown is returned when history is updated for a key that
// was never assigned. That can only happen through a logic defect, so
// callers treat it as a consistency error and abort.
var ErrClusterKeyUnknown = errors.New("cluster key never assigned")

// ClusterAssignment is one cluster-table entry. Group never changes after
// assignment; PreviousRisk and CarryOver are the only mutable fields and
// belong to the clustered fusion model (see ClusteredFuser).
type ClusterAssignment struct {
	Group        int
	PreviousRisk float64
	CarryOver    float64
}

// ClusterEntry pairs a key with its assignment for table export.
type ClusterEntry struct {
	Key MessageKey
	ClusterAssignment
}

// ClusterEngine groups incoming messages that plausibly originate from
// repeated contact with the same underlying person, without real
// identities. It scores each new message against every previously observed
// one: overlapping pseudonym prefixes on plausibly-rotated days mean the
// messages may share a sender.
//
// Tables are per person and are not safe for concurrent use.
type ClusterEngine struct {
	clock Clock
	base  float64

	keys     []MessageKey
	entries  map[MessageKey]*ClusterAssignment
	maxGroup int
}

// NewClusterEngine returns an empty table. baseTransmission seeds each new
// entry's carry-over probability.
func NewClusterEngine(clock Clock, baseTransmission float64) *ClusterEngine {
	return &ClusterEngine{
		clock:    clock,
		base:     baseTransmission,
		entries:  make(map[MessageKey]*ClusterAssignment),
		maxGroup: -1,
	}
}

// Observe assigns the message to a group and returns the assignment.
//
// Scoring against each stored key, higher is a closer match:
//
//	3: same pseudonym, same day
//	2: 3-bit prefix overlap, one day apart
//	1: 2-bit prefix overlap, two days apart
//	0: 1-bit prefix overlap, two days apart
//
// The highest-scoring stored key's group wins; ties break toward the
// earliest-observed key (table order, deterministic). A message matching
// nothing opens a new group. Re-observing an already-assigned key returns
// the existing entry untouched: carry-over state is reset only on first
// assignment.
func (e *ClusterEngine) Observe(m UpdateMessage) ClusterAssignment {
	key := m.Key(e.clock)
	if a, ok := e.entries[key]; ok {
		return *a
	}

	bestScore, bestIdx := -1, -1
	for i, k := range e.keys {
		if s := clusterScore(key, k); s > bestScore {
			bestScore, bestIdx = s, i
		}
	}

	group := e.maxGroup + 1
	if bestIdx >= 0 {
		group = e.entries[e.keys[bestIdx]].Group
	}
	if group > e.maxGroup {
		e.maxGroup = group
	}

	a := &ClusterAssignment{
		Group:        group,
		PreviousRisk: key.Risk.Decode(),
		CarryOver:    e.base,
	}
	e.keys = append(e.keys, key)
	e.entries[key] = a
	return *a
}

func clusterScore(incoming, candidate MessageKey) int {
	gap := incoming.Day - candidate.Day
	switch {
	case incoming.Sender == candidate.Sender && gap == 0:
		return 3
	case incoming.Sender.PrefixMatches(candidate.Sender, 3) && gap == 1:
		return 2
	case incoming.Sender.PrefixMatches(candidate.Sender, 2) && gap == 2:
		return 1
	case incoming.Sender.PrefixMatches(candidate.Sender, 1) && gap == 2:
		return 0
	}
	return -1
}

// KeyOf reduces a message to its table key under the engine's clock.
func (e *ClusterEngine) KeyOf(m UpdateMessage) MessageKey {
	return m.Key(e.clock)
}

// Assignment looks up the entry for a key.
func (e *ClusterEngine) Assignment(key MessageKey) (ClusterAssignment, bool) {
	a, ok := e.entries[key]
	if !ok {
		return ClusterAssignment{}, false
	}
	return *a, true
}

// UpdateHistory rewrites the mutable fusion fields of an existing entry.
func (e *ClusterEngine) UpdateHistory(key MessageKey, previousRisk, carryOver float64) error {
	a, ok := e.entries[key]
	if !ok {
		return fmt.Errorf("update history for %v/%v/day %d: %w",
			key.Sender, key.Risk, key.Day, ErrClusterKeyUnknown)
	}
	a.PreviousRisk = previousRisk
	a.CarryOver = carryOver
	return nil
}

// Len returns the number of assigned keys.
func (e *ClusterEngine) Len() int {
	return len(e.keys)
}

// Groups returns the number of groups created so far. Group ids are dense
// in [0, Groups).
func (e *ClusterEngine) Groups() int {
	return e.maxGroup + 1
}

// Snapshot exports the table in observation order.
func (e *ClusterEngine) Snapshot() []ClusterEntry {
	out := make([]ClusterEntry, 0, len(e.keys))
	for _, k := range e.keys {
		out = append(out, ClusterEntry{Key: k, ClusterAssignment: *e.entries[k]})
	}
	return out
}
