package protocol

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRiskRoundTrip(t *testing.T) {
	for k := 0; k < riskSteps; k++ {
		v := float64(k) / riskSteps
		level := EncodeRisk(v)
		require.Equal(t, RiskLevel(k), level)
		require.Equal(t, v, level.Decode())
	}

	// 1.0 saturates to the all-ones code, which decodes one step low.
	require.Equal(t, MaxRiskLevel, EncodeRisk(1.0))
	require.Equal(t, 15.0/16.0, EncodeRisk(1.0).Decode())
}

func TestEncodeRiskRounding(t *testing.T) {
	// Nearest step, ties away from zero.
	require.Equal(t, RiskLevel(8), EncodeRisk(0.495))
	require.Equal(t, RiskLevel(8), EncodeRisk(0.505))
	require.Equal(t, RiskLevel(2), EncodeRisk(1.5/16))
	require.Equal(t, MaxRiskLevel, EncodeRisk(0.99))
}

func TestEncodeRiskClamps(t *testing.T) {
	require.Equal(t, RiskLevel(0), EncodeRisk(-0.5))
	require.Equal(t, MaxRiskLevel, EncodeRisk(3.7))
	require.Equal(t, RiskLevel(0), EncodeRisk(math.NaN()))

	for _, tc := range []struct {
		in      float64
		want    float64
		clamped bool
	}{
		{-1, 0, true},
		{0, 0, false},
		{0.25, 0.25, false},
		{1, 1, false},
		{1.0001, 1, true},
		{math.NaN(), 0, true},
		{math.Inf(1), 1, true},
	} {
		got, clamped := ClampRisk(tc.in)
		require.Equal(t, tc.want, got, "clamp(%v)", tc.in)
		require.Equal(t, tc.clamped, clamped, "clamp(%v)", tc.in)
	}
}

func TestUIDRotationKeepsWidth(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	uid := NewUID(rng)
	for i := 0; i < 1000; i++ {
		uid = uid.Rotate(rng)
		require.Less(t, uint8(uid), uint8(1<<UIDBits))
	}
}

func TestUIDRotationOverlap(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for trial := 0; trial < 50; trial++ {
		uid := NewUID(rng)
		rotated := uid
		for k := 1; k <= UIDBits; k++ {
			rotated = rotated.Rotate(rng)
			// The old UID's low UIDBits-k bits are the new UID's high bits.
			keep := UIDBits - k
			oldSuffix := uint8(uid) & (1<<keep - 1)
			newPrefix := uint8(rotated) >> k
			require.Equal(t, oldSuffix, newPrefix, "trial %d rotation %d", trial, k)
		}
	}
}

func TestUIDPrefixMatches(t *testing.T) {
	a := UID(0b1011)
	require.True(t, a.PrefixMatches(UID(0b1010), 3))
	require.False(t, a.PrefixMatches(UID(0b1010), 4))
	require.True(t, a.PrefixMatches(UID(0b1110), 1))
	require.False(t, a.PrefixMatches(UID(0b0011), 1))
	require.True(t, a.PrefixMatches(UID(0b0000), 0))
	require.Equal(t, "1011", a.String())
}

func TestRiskForSymptoms(t *testing.T) {
	require.Equal(t, 1.0, RiskForSymptoms(SeverityNone, true))
	require.Equal(t, 1.0, RiskForSymptoms(SeveritySevere, true))
	require.Equal(t, 0.75, RiskForSymptoms(SeveritySevere, false))
	require.Equal(t, 0.5, RiskForSymptoms(SeverityModerate, false))
	require.Equal(t, 0.25, RiskForSymptoms(SeverityMild, false))
	require.Zero(t, RiskForSymptoms(SeverityNone, false))
}
