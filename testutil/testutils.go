package testutil

import (
	"time"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

// NewTestClock returns the clock most tests run against: a fixed epoch
// shortly before the outbreak window, four broadcast slots per day.
func NewTestClock() protocol.Clock {
	return protocol.Clock{
		Epoch:       time.Date(2020, 2, 28, 0, 0, 0, 0, time.UTC),
		SlotsPerDay: 4,
	}
}

// TestConfigOption is a function that modifies a messaging config
type TestConfigOption func(*protocol.Config)

// WithRiskModel selects the fusion model
func WithRiskModel(model protocol.RiskModel) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.Model = model
	}
}

// WithTransmission sets the fusion update weight
func WithTransmission(transmission float64) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.Transmission = transmission
	}
}

// WithClipRisk toggles the cap on fused risk
func WithClipRisk(clip bool) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.ClipRisk = clip
	}
}

// WithSlotsPerDay sets the number of broadcast slots per day
func WithSlotsPerDay(slots int) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.SlotsPerDay = slots
	}
}

// WithRetentionDays sets the message and contact retention window
func WithRetentionDays(days int) TestConfigOption {
	return func(cfg *protocol.Config) {
		cfg.RetentionDays = days
	}
}

// NewTestConfig creates a messaging config for testing
// that can be customized using options
func NewTestConfig(options ...TestConfigOption) protocol.Config {
	cfg := protocol.DefaultConfig()

	// Apply all provided options
	for _, option := range options {
		option(&cfg)
	}
	return cfg
}

// MessageOption is a function that modifies an update message
type MessageOption func(*protocol.UpdateMessage)

// WithSender sets the sender pseudonym
func WithSender(uid protocol.UID) MessageOption {
	return func(msg *protocol.UpdateMessage) {
		msg.Sender = uid
	}
}

// WithRisk sets the coded risk level
func WithRisk(level protocol.RiskLevel) MessageOption {
	return func(msg *protocol.UpdateMessage) {
		msg.Risk = level
	}
}

// WithTime sets the referenced encounter timestamp
func WithTime(at time.Time) MessageOption {
	return func(msg *protocol.UpdateMessage) {
		msg.Time = at
	}
}

// WithReceiver routes the message to a specific person
func WithReceiver(id protocol.PersonID) MessageOption {
	return func(msg *protocol.UpdateMessage) {
		msg.Receiver = id
	}
}

// GenerateTestMessage generates an update message with specified options
func GenerateTestMessage(options ...MessageOption) *protocol.UpdateMessage {
	msg := &protocol.UpdateMessage{
		Sender:   protocol.UID(0b0101),
		Risk:     4,
		Time:     NewTestClock().Epoch.Add(36 * time.Hour),
		Receiver: 1,
	}

	// Apply all provided options
	for _, option := range options {
		option(msg)
	}
	return msg
}

// GenerateTestMessages generates count messages with distinct pseudonyms,
// one hour apart, before applying the shared options
func GenerateTestMessages(count int, options ...MessageOption) []*protocol.UpdateMessage {
	msgs := make([]*protocol.UpdateMessage, count)
	for i := range msgs {
		perMessage := []MessageOption{
			WithSender(protocol.UID(i & 0x0F)),
			WithTime(NewTestClock().Epoch.Add(36*time.Hour + time.Duration(i)*time.Hour)),
		}
		msgs[i] = GenerateTestMessage(append(perMessage, options...)...)
	}
	return msgs
}
