package protocol

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonotonicNeverDecreases(t *testing.T) {
	f := MonotonicFuser{Transmission: 0.3}
	rng := rand.New(rand.NewPCG(11, 0))

	risk := 0.0
	for i := 0; i < 300; i++ {
		m := msgAt(NewUID(rng), RiskLevel(rng.IntN(16)), Day(rng.IntN(10)))
		next, err := f.Fuse(risk, m, nil)
		require.NoError(t, err)
		require.GreaterOrEqual(t, next, risk)
		require.LessOrEqual(t, next, 1.0)
		risk = next
	}
}

func TestMonotonicIgnoresLowerLevels(t *testing.T) {
	f := MonotonicFuser{Transmission: 0.5}

	next, err := f.Fuse(0.5, msgAt(1, 8, 0), nil) // level 8 decodes to 0.5
	require.NoError(t, err)
	require.Equal(t, 0.5, next)

	next, err = f.Fuse(0, msgAt(1, 8, 0), nil)
	require.NoError(t, err)
	require.Equal(t, 0.25, next) // (0.5 - 0.5*0) * 0.5
}

func TestAdditiveAccumulates(t *testing.T) {
	f := AdditiveFuser{Transmission: 0.5}

	// One broadcast carrying true risk 0.5 lands as exactly 0.25.
	next, err := f.Fuse(0, msgAt(2, EncodeRisk(0.5), 0), nil)
	require.NoError(t, err)
	require.Equal(t, 0.25, next)

	// Unconditional: applies again regardless of current risk.
	next, err = f.Fuse(next, msgAt(2, EncodeRisk(0.5), 0), nil)
	require.NoError(t, err)
	require.Equal(t, 0.5, next)
}

func TestAdditiveOrderIndependent(t *testing.T) {
	f := AdditiveFuser{Transmission: 0.5}
	msgs := []UpdateMessage{
		msgAt(1, 4, 0),
		msgAt(2, 8, 1),
		msgAt(3, 12, 2),
	}

	fuseAll := func(order ...int) float64 {
		risk := 0.0
		for _, i := range order {
			next, err := f.Fuse(risk, msgs[i], nil)
			require.NoError(t, err)
			risk = next
		}
		return risk
	}

	want := fuseAll(0, 1, 2)
	require.Equal(t, 0.75, want)
	require.Equal(t, want, fuseAll(2, 1, 0))
	require.Equal(t, want, fuseAll(1, 2, 0))
}

func TestFusionEngineClipsAdditive(t *testing.T) {
	e, err := NewFusionEngine(ModelAdditive, 0.5, true)
	require.NoError(t, err)

	next, err := e.Fuse(0.9, msgAt(2, EncodeRisk(0.5), 0), nil)
	require.NoError(t, err)
	require.Equal(t, 1.0, next)

	unclipped, err := NewFusionEngine(ModelAdditive, 0.5, false)
	require.NoError(t, err)
	next, err = unclipped.Fuse(0.9, msgAt(2, EncodeRisk(0.5), 0), nil)
	require.NoError(t, err)
	require.InDelta(t, 1.15, next, 1e-12)
}

func TestClusteredDecaysRepeats(t *testing.T) {
	f := ClusteredFuser{Transmission: 0.5}
	clusters := NewClusterEngine(testClock(), 0.5)
	m := msgAt(0b0101, EncodeRisk(0.5), 1)

	// First sight: update = m*p = 0.25, carry becomes 0.5*(1-0.25).
	risk, err := f.Fuse(0, m, clusters)
	require.NoError(t, err)
	require.Equal(t, 0.25, risk)

	// Identical message again: update = 0.5*0.375 = 0.1875.
	risk, err = f.Fuse(risk, m, clusters)
	require.NoError(t, err)
	require.Equal(t, 0.4375, risk)

	// And again: update = 0.5*(0.5*(1-0.1875)) = 0.203125.
	risk, err = f.Fuse(risk, m, clusters)
	require.NoError(t, err)
	require.Equal(t, 0.640625, risk)

	require.Equal(t, 1, clusters.Len())
}

func TestClusteredObserveThenFuseMatchesFreshFuse(t *testing.T) {
	f := ClusteredFuser{Transmission: 0.5}
	m := msgAt(0b0101, EncodeRisk(0.5), 1)

	direct := NewClusterEngine(testClock(), 0.5)
	viaObserve := NewClusterEngine(testClock(), 0.5)
	viaObserve.Observe(m)

	a, err := f.Fuse(0, m, direct)
	require.NoError(t, err)
	b, err := f.Fuse(0, m, viaObserve)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestClusteredRequiresTable(t *testing.T) {
	f := ClusteredFuser{Transmission: 0.5}
	_, err := f.Fuse(0, msgAt(1, 1, 0), nil)
	require.Error(t, err)
}

func TestNewFusionEngine(t *testing.T) {
	for _, model := range []RiskModel{ModelMonotonic, ModelAdditive, ModelClustered} {
		e, err := NewFusionEngine(model, 0.03, true)
		require.NoError(t, err)
		require.Equal(t, model == ModelClustered, e.NeedsClustering())
		require.True(t, model.Valid())
	}

	_, err := NewFusionEngine(RiskModel("transformer"), 0.03, true)
	require.Error(t, err)
	require.False(t, RiskModel("transformer").Valid())
}
