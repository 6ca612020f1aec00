// Package simulation drives end-to-end runs of the exposure notification
// protocol over a synthetic population.
//
// The Engine owns the loop: each day is split into broadcast slots, each
// slot generates physical encounters, and every person processes their
// mailbox once per day in their assigned slot. Per-person work (pseudonym
// rotation, symptom floor, risk fusion, message composition) runs in
// parallel; everything touching shared state (budget admission, mailbox
// deposits, day rollover) runs serially, so a fixed config and seed
// reproduce a run exactly regardless of GOMAXPROCS.
//
// Collaborators are interfaces with in-package defaults: ContactSource
// (RandomMixer or a ReplaySource over recorded encounters), HealthModel
// (an SEIR compartment model), and ObservationSink (in-memory, or a
// database-backed sink from the services package).
package simulation
