package protocol

import "fmt"

// RiskModel selects the fusion algorithm. Selected once at configuration
// time; unknown names are a fatal config error.
type RiskModel string

const (
	// ModelMonotonic only raises risk, and only when the incoming level
	// exceeds the current estimate.
	ModelMonotonic RiskModel = "monotonic"

	// ModelAdditive adds every incoming signal unconditionally.
	ModelAdditive RiskModel = "additive"

	// ModelClustered weighs repeat contacts down using cluster-table
	// carry-over state.
	ModelClustered RiskModel = "clustered"
)

// Valid returns true if the model name is recognized.
func (m RiskModel) Valid() bool {
	switch m {
	case ModelMonotonic, ModelAdditive, ModelClustered:
		return true
	}
	return false
}

// Fuser merges one incoming update into a person's running risk estimate
// and returns the new estimate. Implementations add an update to the
// current value; the caller applies the global clipping policy.
type Fuser interface {
	Fuse(current float64, m UpdateMessage, clusters *ClusterEngine) (float64, error)

	// NeedsClustering reports whether Fuse consults the cluster table.
	NeedsClustering() bool
}

// MonotonicFuser never decreases risk. With incoming decoded risk m and
// current risk r, it applies update (m - m*r) * Transmission only when
// r < m. Self-limiting: the estimate approaches but cannot pass 1.
type MonotonicFuser struct {
	Transmission float64
}

func (f MonotonicFuser) Fuse(current float64, m UpdateMessage, _ *ClusterEngine) (float64, error) {
	mr := m.Risk.Decode()
	if current >= mr {
		return current, nil
	}
	return current + (mr-mr*current)*f.Transmission, nil
}

func (MonotonicFuser) NeedsClustering() bool { return false }

// AdditiveFuser applies update m * Transmission for every message,
// regardless of current risk or history. Overshoots 1 unless clipping is
// enabled.
type AdditiveFuser struct {
	Transmission float64
}

func (f AdditiveFuser) Fuse(current float64, m UpdateMessage, _ *ClusterEngine) (float64, error) {
	return current + m.Risk.Decode()*f.Transmission, nil
}

func (AdditiveFuser) NeedsClustering() bool { return false }

// ClusteredFuser decays the influence of repeated contacts. For an unseen
// key the update is m * Transmission. For a seen key with entry history
// (previous risk q, carry-over c) the update is (m-q)*Transmission + q*c.
// Afterwards the entry is rewritten to q=m, c=Transmission*(1-update), so
// an identical message fused again contributes less each time.
type ClusteredFuser struct {
	Transmission float64
}

func (f ClusteredFuser) Fuse(current float64, m UpdateMessage, clusters *ClusterEngine) (float64, error) {
	if clusters == nil {
		return 0, fmt.Errorf("model %q requires a cluster table", ModelClustered)
	}

	mr := m.Risk.Decode()
	key := clusters.KeyOf(m)

	var update float64
	if a, ok := clusters.Assignment(key); ok {
		update = (mr-a.PreviousRisk)*f.Transmission + a.PreviousRisk*a.CarryOver
	} else {
		update = mr * f.Transmission
		clusters.Observe(m)
	}

	if err := clusters.UpdateHistory(key, mr, f.Transmission*(1-update)); err != nil {
		return 0, err
	}
	return current + update, nil
}

func (ClusteredFuser) NeedsClustering() bool { return true }

// FusionEngine pairs the configured model with the global clipping policy.
type FusionEngine struct {
	fuser Fuser
	clip  bool
}

// NewFusionEngine builds the engine for a model name.
func NewFusionEngine(model RiskModel, transmission float64, clip bool) (*FusionEngine, error) {
	var fuser Fuser
	switch model {
	case ModelMonotonic:
		fuser = MonotonicFuser{Transmission: transmission}
	case ModelAdditive:
		fuser = AdditiveFuser{Transmission: transmission}
	case ModelClustered:
		fuser = ClusteredFuser{Transmission: transmission}
	default:
		return nil, fmt.Errorf("unknown risk model %q", model)
	}
	return &FusionEngine{fuser: fuser, clip: clip}, nil
}

// Fuse applies the model and then the clipping policy.
func (e *FusionEngine) Fuse(current float64, m UpdateMessage, clusters *ClusterEngine) (float64, error) {
	next, err := e.fuser.Fuse(current, m, clusters)
	if err != nil {
		return 0, err
	}
	if e.clip && next > 1 {
		next = 1
	}
	return next, nil
}

// NeedsClustering reports whether the selected model consults the cluster
// table.
func (e *FusionEngine) NeedsClustering() bool {
	return e.fuser.NeedsClustering()
}
