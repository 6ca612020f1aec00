package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/mptcloud/covid-p2p-simulation/simulation"
)

// RunState is a simulation run's lifecycle state.
type RunState string

const (
	// RunPending means the run is accepted and waiting for a worker slot.
	RunPending RunState = "pending"

	// RunRunning means the engine is executing.
	RunRunning RunState = "running"

	// RunDone means the run finished and its summary is stored.
	RunDone RunState = "done"

	// RunFailed means the engine aborted; see the record's Error.
	RunFailed RunState = "failed"

	// RunCancelled means the run was cancelled before completion.
	RunCancelled RunState = "cancelled"
)

// Valid returns true if the run state is recognized.
func (s RunState) Valid() bool {
	switch s {
	case RunPending, RunRunning, RunDone, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	switch s {
	case RunDone, RunFailed, RunCancelled:
		return true
	}
	return false
}

// RunRecord is the canonical view of one simulation run. For active runs
// the runner overlays CurrentDay with live progress before serving it.
type RunRecord struct {
	ID    uuid.UUID `json:"id"`
	State RunState  `json:"state"`

	// CurrentDay is the number of fully completed simulation days.
	CurrentDay int `json:"current_day"`

	Config    simulation.Config   `json:"config"`
	Summary   *simulation.Summary `json:"summary,omitempty"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// CreateRunRequest starts a run. Omitted config fields keep their defaults,
// so an empty body starts a default run.
type CreateRunRequest struct {
	Config simulation.Config `json:"config"`
}

// RunListResponse lists all known runs, newest first.
type RunListResponse struct {
	Runs []*RunRecord `json:"runs"`
}
