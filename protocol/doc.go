// Package protocol implements the message layer of a peer-to-peer exposure
// notification scheme, modeled on decentralized contact-tracing designs in
// the GAEN (Google/Apple Exposure Notification) family: short rotating
// pseudonyms, lossy risk codes, and probabilistic clustering of incoming
// messages back onto repeated contacts.
//
// # Identity and Quantization
//
// Every person is known to the network only through a UID, a 4-bit rolling
// pseudonym. Once per simulated day the UID rotates: the oldest bit drops
// and a fresh random bit is appended, so consecutive pseudonyms of one
// person share a shrinking bit overlap and unrelated people collide
// constantly. Risk estimates travel as RiskLevel codes, the [0,1] range
// quantized to 16 steps. Both widths are deliberately small: the privacy of
// the scheme rests on how little a message reveals.
//
// # Messages
//
// An UpdateMessage references one past encounter: the sender's pseudonym as
// of that encounter, the sender's current quantized risk, and the encounter
// timestamp. The receiver reference on the message exists purely so the
// simulation's mailbox router can deliver it; no risk computation reads it.
// A MessageKey (pseudonym, level, day) is the message's identity in cluster
// tables: two messages with equal keys are indistinguishable to a receiver.
//
// # Contact Clustering
//
// ClusterEngine reconstructs "probably the same contact" groups from
// message keys alone. Each new message is scored against every previously
// observed one; exact pseudonym matches on the same day score highest,
// partial prefix overlaps on plausibly-rotated days score lower, and the
// best-scoring previous message donates its group. Messages matching
// nothing open a new group. The table also carries per-key fusion history
// (previous risk, carry-over probability) for the clustered fusion model.
//
// # Risk Fusion
//
// A Fuser merges one incoming message into the receiver's scalar risk.
// Three models share the interface: monotonic (raises risk only), additive
// (accumulates every signal), and clustered (decays repeat contacts using
// cluster-table carry-over). FusionEngine binds the configured model to the
// global clipping policy. A separate symptom ladder (RiskForSymptoms) maps
// self-reported severity to a floor risk asserted before any fusion.
//
// # Time
//
// The simulation advances in (day, slot) Ticks; Clock converts between
// instants and ticks. Messages age by encounter day, clustering reasons in
// day gaps, and retention drops anything older than the configured window.
//
// The admission policy deciding who may broadcast at all lives in the
// budget package; mailbox routing lives in the mailbox package.
package protocol
