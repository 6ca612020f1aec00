package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/mptcloud/covid-p2p-simulation/metrics"
	"github.com/mptcloud/covid-p2p-simulation/protocol"
	"github.com/mptcloud/covid-p2p-simulation/simulation"
)

var (
	// ErrInvalidConfig wraps config validation failures from run submission.
	ErrInvalidConfig = errors.New("invalid run config")
	// ErrRunNotActive is returned when cancelling a run that already finished.
	ErrRunNotActive = errors.New("run is not active")
	// ErrRunActive is returned when deleting a run that is still executing.
	ErrRunActive = errors.New("run is still active")
)

// RunnerConfig configures the simulation runner.
type RunnerConfig struct {
	Store   ObservationStore
	Log     *slog.Logger
	Metrics *metrics.Simulation

	// MaxConcurrent bounds how many runs execute at once. Further runs
	// queue in pending state. Defaults to 2.
	MaxConcurrent int
}

// Runner executes simulation runs in the background. Each accepted run gets
// a record in the store; the runner moves it from pending through running
// to a terminal state and streams per-day observations as the run advances.
type Runner struct {
	log     *slog.Logger
	store   ObservationStore
	metrics *metrics.Simulation
	sem     chan struct{}

	mu     sync.RWMutex
	active map[uuid.UUID]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc
	day    *atomic.Int64
	done   chan struct{}
}

// NewRunner creates a runner backed by the given store.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Store == nil {
		return nil, errors.New("runner needs a store")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	return &Runner{
		log:     cfg.Log,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		active:  make(map[uuid.UUID]*activeRun),
	}, nil
}

// SetMetrics attaches the simulation collector after construction. The run
// API wires it this way because the collector registers on the HTTP
// server's registry, and the server is built after the runner.
func (r *Runner) SetMetrics(m *metrics.Simulation) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// StartRun validates the config, persists a pending record, and launches
// the run in the background. The returned record reflects the initial
// pending state.
func (r *Runner) StartRun(cfg simulation.Config) (*RunRecord, error) {
	id := uuid.New()
	progress := atomic.NewInt64(0)

	r.mu.RLock()
	sim := r.metrics
	r.mu.RUnlock()

	// Building the engine up front surfaces config errors synchronously,
	// before anything is persisted.
	eng, err := simulation.New(cfg, simulation.Options{
		Log:     r.log.With("run", id.String()),
		Sink:    &storeSink{store: r.store, runID: id, progress: progress},
		Metrics: sim,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	now := time.Now().UTC()
	record := &RunRecord{
		ID:        id,
		State:     RunPending,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SaveRun(record); err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{cancel: cancel, day: progress, done: make(chan struct{})}

	r.mu.Lock()
	r.active[id] = run
	r.mu.Unlock()

	go r.execute(ctx, id, run, eng)

	r.log.Info("run accepted", "run", id.String(), "population", cfg.Population, "days", cfg.Days)
	return record, nil
}

func (r *Runner) execute(ctx context.Context, id uuid.UUID, run *activeRun, eng *simulation.Engine) {
	// The done channel closes last, after the run has left the active map
	// and its terminal state is in the store.
	defer close(run.done)
	defer func() {
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
	}()

	// Wait for an execution slot. A cancel while queued resolves the run
	// without ever starting the engine.
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		r.finish(id, run, RunCancelled, nil, nil)
		return
	}

	r.transition(id, RunRunning)

	summary, err := eng.Run(ctx)
	switch {
	case err == nil:
		r.finish(id, run, RunDone, summary, nil)
	case errors.Is(err, context.Canceled):
		r.finish(id, run, RunCancelled, nil, nil)
	default:
		r.finish(id, run, RunFailed, nil, err)
	}
}

// transition moves a run to a new non-terminal state in the store. Persist
// failures are logged; the run itself proceeds.
func (r *Runner) transition(id uuid.UUID, state RunState) {
	record, err := r.store.LoadRun(id)
	if err != nil {
		r.log.Error("loading run for state change", "run", id.String(), "err", err)
		return
	}
	record.State = state
	record.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveRun(record); err != nil {
		r.log.Error("persisting run state", "run", id.String(), "state", string(state), "err", err)
	}
}

func (r *Runner) finish(id uuid.UUID, run *activeRun, state RunState, summary *simulation.Summary, runErr error) {
	record, err := r.store.LoadRun(id)
	if err != nil {
		r.log.Error("loading run for completion", "run", id.String(), "err", err)
		return
	}
	record.State = state
	record.CurrentDay = int(run.day.Load())
	record.Summary = summary
	if runErr != nil {
		record.Error = runErr.Error()
	}
	record.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveRun(record); err != nil {
		r.log.Error("persisting run result", "run", id.String(), "err", err)
	}

	switch state {
	case RunFailed:
		r.log.Error("run failed", "run", id.String(), "days", record.CurrentDay, "err", runErr)
	default:
		r.log.Info("run finished", "run", id.String(), "state", string(state), "days", record.CurrentDay)
	}
}

// Status returns the stored record, with the day counter overlaid from the
// live run while one is active.
func (r *Runner) Status(id uuid.UUID) (*RunRecord, error) {
	record, err := r.store.LoadRun(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	run, ok := r.active[id]
	r.mu.RUnlock()
	if ok {
		record.CurrentDay = int(run.day.Load())
	}
	return record, nil
}

// List returns every known run, newest first.
func (r *Runner) List() ([]*RunRecord, error) {
	records, err := r.store.LoadRuns()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	for _, record := range records {
		if run, ok := r.active[record.ID]; ok {
			record.CurrentDay = int(run.day.Load())
		}
	}
	r.mu.RUnlock()
	return records, nil
}

// Cancel stops an active run. The run winds down asynchronously; wait on
// Done to observe the terminal state.
func (r *Runner) Cancel(id uuid.UUID) error {
	r.mu.RLock()
	run, ok := r.active[id]
	r.mu.RUnlock()
	if ok {
		run.cancel()
		return nil
	}

	record, err := r.store.LoadRun(id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: run %s is %s", ErrRunNotActive, id, record.State)
}

// Delete removes a finished run and its observations.
func (r *Runner) Delete(id uuid.UUID) error {
	r.mu.RLock()
	_, ok := r.active[id]
	r.mu.RUnlock()
	if ok {
		return fmt.Errorf("%w: cancel run %s before deleting it", ErrRunActive, id)
	}
	return r.store.DeleteRun(id)
}

// Observations returns one day of stored observations for a run.
func (r *Runner) Observations(id uuid.UUID, day protocol.Day) ([]simulation.RiskObservation, error) {
	return r.store.LoadObservations(id, day)
}

// Done returns a channel that closes once the run reaches a terminal state.
// Unknown and already-finished runs get a closed channel.
func (r *Runner) Done(id uuid.UUID) <-chan struct{} {
	r.mu.RLock()
	run, ok := r.active[id]
	r.mu.RUnlock()
	if ok {
		return run.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Shutdown cancels all active runs and waits for them to wind down.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	runs := make([]*activeRun, 0, len(r.active))
	for _, run := range r.active {
		run.cancel()
		runs = append(runs, run)
	}
	r.mu.RUnlock()

	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// storeSink streams each completed day into the store and publishes
// progress for status queries.
type storeSink struct {
	store    ObservationStore
	runID    uuid.UUID
	progress *atomic.Int64
}

func (s *storeSink) RecordDay(_ context.Context, day protocol.Day, obs []simulation.RiskObservation) error {
	if err := s.store.SaveObservations(s.runID, day, obs); err != nil {
		return fmt.Errorf("saving observations for day %d: %w", day, err)
	}
	s.progress.Store(int64(day) + 1)
	return nil
}

func (s *storeSink) Close() error { return nil }
