// Package mailbox implements the global update-message router.
//
// Every person owns one personal mailbox inside the router. A mailbox maps
// the sender pseudonym a message carries to the ordered list of messages
// received under that pseudonym; receivers drain their whole box when they
// process a broadcast slot. The router deposits freshly admitted messages
// by the simulation-only receiver reference and prunes everything older
// than the retention window once per day, as a safety net for boxes nobody
// drains anymore.
package mailbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

// ErrUnknownRecipient reports a deposit addressed to a person the router
// never registered. Routing references come from the contact simulation,
// so an unknown recipient is a logic defect and the run must abort rather
// than silently drop the message.
var ErrUnknownRecipient = errors.New("unknown recipient")

type personalBox map[protocol.UID][]protocol.UpdateMessage

// Router owns the personal mailboxes of the whole population.
//
// One mutex guards all boxes. Deposits happen in the serial commit phase
// of a slot; drains run concurrently, but each person only ever drains
// their own box.
type Router struct {
	retention time.Duration

	mu     sync.Mutex
	boxes  map[protocol.PersonID]personalBox
	stored int
}

// NewRouter creates a router with one empty mailbox per person. Person IDs
// are the dense range [0, population).
func NewRouter(population, retentionDays int) *Router {
	boxes := make(map[protocol.PersonID]personalBox, population)
	for id := range population {
		boxes[protocol.PersonID(id)] = make(personalBox)
	}
	return &Router{
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		boxes:     boxes,
	}
}

// Deposit routes msg to its receiver's mailbox, appending it to the list
// kept under the sender pseudonym it carries.
func (r *Router) Deposit(msg protocol.UpdateMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	box, ok := r.boxes[msg.Receiver]
	if !ok {
		return fmt.Errorf("%w: person %d", ErrUnknownRecipient, msg.Receiver)
	}

	box[msg.Sender] = append(box[msg.Sender], msg)
	r.stored++
	return nil
}

// Drain removes and returns every message in the person's mailbox. The
// order is deterministic: sender pseudonyms ascending, oldest first within
// a pseudonym. An empty box drains to nil.
func (r *Router) Drain(person protocol.PersonID) ([]protocol.UpdateMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	box, ok := r.boxes[person]
	if !ok {
		return nil, fmt.Errorf("%w: person %d", ErrUnknownRecipient, person)
	}
	if len(box) == 0 {
		return nil, nil
	}

	uids := make([]protocol.UID, 0, len(box))
	for uid := range box {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	var out []protocol.UpdateMessage
	for _, uid := range uids {
		out = append(out, box[uid]...)
	}
	r.boxes[person] = make(personalBox)
	r.stored -= len(out)
	return out, nil
}

// Cleanup drops every stored message whose encounter time is older than
// the retention window relative to now, across all mailboxes. It runs at
// day boundaries, not every slot. Returns the number of dropped messages.
func (r *Router) Cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for person, box := range r.boxes {
		rebuilt := make(personalBox)
		for uid, msgs := range box {
			var keep []protocol.UpdateMessage
			for _, msg := range msgs {
				if now.Sub(msg.Time) <= r.retention {
					keep = append(keep, msg)
				} else {
					dropped++
				}
			}
			if len(keep) > 0 {
				rebuilt[uid] = keep
			}
		}
		r.boxes[person] = rebuilt
	}
	r.stored -= dropped
	return dropped
}

// Stored returns the total number of messages currently held across all
// mailboxes.
func (r *Router) Stored() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stored
}

// BoxSize returns the number of messages waiting for one person. Unknown
// people have size 0.
func (r *Router) BoxSize(person protocol.PersonID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, msgs := range r.boxes[person] {
		n += len(msgs)
	}
	return n
}
