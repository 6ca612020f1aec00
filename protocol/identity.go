package protocol

import (
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	// UIDBits is the width of a rolling pseudonym in bits.
	UIDBits = 4

	uidMask = 1<<UIDBits - 1

	// RiskLevelBits is the width of a coded risk level in bits.
	RiskLevelBits = 4

	riskSteps = 1 << RiskLevelBits

	// MaxRiskLevel is the all-ones risk code. EncodeRisk reserves it for
	// risk exactly 1.0 and for values that round up to the top step.
	MaxRiskLevel RiskLevel = riskSteps - 1
)

// UID is a rolling pseudonym: a short fixed-width bit code that stands in
// for a person's identity in transmitted messages. It carries no long-term
// identity; linking two UIDs across days is only ever a probabilistic guess
// (see ClusterEngine).
type UID uint8

// NewUID draws a fresh fully-random pseudonym.
func NewUID(rng *rand.Rand) UID {
	return UID(rng.IntN(1 << UIDBits))
}

// Rotate drops the oldest bit and appends one fresh random bit, keeping the
// fixed width. Successive pseudonyms of one person therefore overlap: after
// k rotations the old UID's low UIDBits-k bits equal the new UID's high
// UIDBits-k bits.
func (u UID) Rotate(rng *rand.Rand) UID {
	fresh := UID(rng.IntN(2))
	return (u<<1 | fresh) & uidMask
}

// PrefixMatches reports whether the top n bits of both pseudonyms agree.
// n <= 0 always matches, n >= UIDBits is full equality.
func (u UID) PrefixMatches(other UID, n int) bool {
	if n <= 0 {
		return true
	}
	if n >= UIDBits {
		return u == other
	}
	shift := UIDBits - n
	return u>>shift == other>>shift
}

func (u UID) String() string {
	return fmt.Sprintf("%0*b", UIDBits, uint8(u))
}

// RiskLevel is a risk estimate quantized to RiskLevelBits bits with step
// 1/riskSteps. Level k decodes to k/riskSteps; the all-ones code saturates,
// so 1.0 survives encoding as MaxRiskLevel but decodes to 15/16.
type RiskLevel uint8

// EncodeRisk quantizes a risk value into a RiskLevel. Inputs outside [0,1]
// (including NaN) are clamped first; callers that need to report the clamp
// should go through ClampRisk themselves. Rounding is to the nearest step,
// ties away from zero.
func EncodeRisk(v float64) RiskLevel {
	v, _ = ClampRisk(v)
	if v == 1.0 {
		return MaxRiskLevel
	}
	lvl := RiskLevel(math.Round(v * riskSteps))
	if lvl > MaxRiskLevel {
		lvl = MaxRiskLevel
	}
	return lvl
}

// Decode returns the risk value this level stands for.
func (l RiskLevel) Decode() float64 {
	return float64(l) / riskSteps
}

func (l RiskLevel) String() string {
	return fmt.Sprintf("%0*b", RiskLevelBits, uint8(l))
}

// ClampRisk forces v into [0,1] and reports whether the value had to change.
// NaN clamps to 0. The codec never wraps or rejects out-of-range input; the
// clamp is the documented policy and the bool lets callers log it.
func ClampRisk(v float64) (float64, bool) {
	switch {
	case math.IsNaN(v):
		return 0, true
	case v < 0:
		return 0, true
	case v > 1:
		return 1, true
	}
	return v, false
}

// Severity is a self-reported symptom severity.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMild
	SeverityModerate
	SeveritySevere
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityMild:
		return "mild"
	case SeverityModerate:
		return "moderate"
	case SeveritySevere:
		return "severe"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// RiskForSymptoms maps the reporting ladder to a floor risk value. The
// returned value is asserted as a floor at the start of a person's daily
// processing, before any fusion. Quarantine dominates everything.
func RiskForSymptoms(s Severity, quarantined bool) float64 {
	if quarantined {
		return 1.0
	}
	switch s {
	case SeveritySevere:
		return 0.75
	case SeverityModerate:
		return 0.5
	case SeverityMild:
		return 0.25
	}
	return 0
}
