package protocol

import (
	"encoding/json"
	"io"
	"time"
)

// PersonID identifies a simulated person. IDs are dense integers in
// [0, population). They exist on the simulation side only: a PersonID on a
// message is a routing reference for the mailbox router and is never an
// input to risk computation.
type PersonID int

// UpdateMessage is one risk broadcast, referencing one past encounter.
// Immutable once composed.
type UpdateMessage struct {
	// Sender is the sender's pseudonym as of the referenced encounter,
	// which is the UID the receiver knows the sender by.
	Sender UID `json:"sender"`

	// Risk is the sender's risk at composition time, quantized.
	Risk RiskLevel `json:"risk"`

	// Time is the referenced encounter's timestamp.
	Time time.Time `json:"time"`

	// Receiver routes the message. See PersonID.
	Receiver PersonID `json:"receiver"`
}

// MessageKey is the comparable identity of a message in cluster tables and
// mailboxes: the pseudonymous content with the timestamp reduced to a day.
// Two messages with equal keys are indistinguishable to the receiver.
type MessageKey struct {
	Sender UID
	Risk   RiskLevel
	Day    Day
}

// Key reduces the message to its cluster-table identity under c.
func (m UpdateMessage) Key(c Clock) MessageKey {
	return MessageKey{Sender: m.Sender, Risk: m.Risk, Day: c.DayOf(m.Time)}
}

// UnmarshalMessage deserializes a message from JSON bytes.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON bytes.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
