package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
	"github.com/mptcloud/covid-p2p-simulation/simulation"
)

// ErrRunNotFound is returned for lookups of unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// ObservationStore persists run records and per-day observations. The
// runner writes through it during runs; the HTTP API reads from it.
type ObservationStore interface {
	SaveRun(run *RunRecord) error
	LoadRun(id uuid.UUID) (*RunRecord, error)
	LoadRuns() ([]*RunRecord, error)
	DeleteRun(id uuid.UUID) error

	SaveObservations(id uuid.UUID, day protocol.Day, obs []simulation.RiskObservation) error
	LoadObservations(id uuid.UUID, day protocol.Day) ([]simulation.RiskObservation, error)

	Close() error
}

// PostgresStore implements ObservationStore with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore connects, verifies the connection, and runs migrations.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS simulation_runs (
		id UUID PRIMARY KEY,
		state VARCHAR(16) NOT NULL,
		current_day INTEGER NOT NULL DEFAULT 0,
		config JSONB NOT NULL,
		summary JSONB,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS risk_observations (
		run_id UUID NOT NULL REFERENCES simulation_runs(id) ON DELETE CASCADE,
		day INTEGER NOT NULL,
		person INTEGER NOT NULL,
		risk DOUBLE PRECISION NOT NULL,
		level SMALLINT NOT NULL,
		infectious BOOLEAN NOT NULL,
		exposed BOOLEAN NOT NULL,
		PRIMARY KEY (run_id, day, person)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON simulation_runs(created_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun upserts a run record.
func (s *PostgresStore) SaveRun(run *RunRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	var summaryJSON []byte
	if run.Summary != nil {
		if summaryJSON, err = json.Marshal(run.Summary); err != nil {
			return fmt.Errorf("encoding summary: %w", err)
		}
	}

	query := `
	INSERT INTO simulation_runs (id, state, current_day, config, summary, error_message, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		state = EXCLUDED.state,
		current_day = EXCLUDED.current_day,
		summary = EXCLUDED.summary,
		error_message = EXCLUDED.error_message,
		updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		string(run.State),
		run.CurrentDay,
		configJSON,
		summaryJSON,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

// LoadRun retrieves one run record.
func (s *PostgresStore) LoadRun(id uuid.UUID) (*RunRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, current_day, config, summary, error_message, created_at, updated_at
		FROM simulation_runs WHERE id = $1
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// LoadRuns retrieves all run records, newest first.
func (s *PostgresStore) LoadRuns() ([]*RunRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, current_day, config, summary, error_message, created_at, updated_at
		FROM simulation_runs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		run         RunRecord
		state       string
		configJSON  []byte
		summaryJSON []byte
	)
	if err := row.Scan(&run.ID, &state, &run.CurrentDay, &configJSON, &summaryJSON, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}

	run.State = RunState(state)
	if !run.State.Valid() {
		return nil, fmt.Errorf("stored run %s has unknown state %q", run.ID, state)
	}
	if err := json.Unmarshal(configJSON, &run.Config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if len(summaryJSON) > 0 {
		run.Summary = &simulation.Summary{}
		if err := json.Unmarshal(summaryJSON, run.Summary); err != nil {
			return nil, fmt.Errorf("decoding summary: %w", err)
		}
	}
	return &run, nil
}

// DeleteRun removes a run and, via cascade, its observations.
func (s *PostgresStore) DeleteRun(id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, "DELETE FROM simulation_runs WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// SaveObservations bulk-inserts one day of observations via COPY.
func (s *PostgresStore) SaveObservations(id uuid.UUID, day protocol.Day, obs []simulation.RiskObservation) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("risk_observations",
		"run_id", "day", "person", "risk", "level", "infectious", "exposed"))
	if err != nil {
		return fmt.Errorf("preparing copy: %w", err)
	}

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, id, int(day), int(o.Person), o.Risk, int(o.Level), o.Infectious, o.Exposed); err != nil {
			stmt.Close()
			return fmt.Errorf("copying observation: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flushing copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadObservations retrieves one day of a run's observations, ascending
// person id.
func (s *PostgresStore) LoadObservations(id uuid.UUID, day protocol.Day) ([]simulation.RiskObservation, error) {
	if _, err := s.LoadRun(id); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT person, risk, level, infectious, exposed
		FROM risk_observations WHERE run_id = $1 AND day = $2
		ORDER BY person
	`, id, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []simulation.RiskObservation
	for rows.Next() {
		var (
			o      simulation.RiskObservation
			person int
			level  int
		)
		if err := rows.Scan(&person, &o.Risk, &level, &o.Infectious, &o.Exposed); err != nil {
			return nil, fmt.Errorf("scanning observation: %w", err)
		}
		o.Person = protocol.PersonID(person)
		o.Level = protocol.RiskLevel(level)
		o.Day = day
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InMemoryStore implements ObservationStore without a database. Used in
// tests and for single-shot batch runs.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*RunRecord
	obs  map[uuid.UUID]map[protocol.Day][]simulation.RiskObservation
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs: make(map[uuid.UUID]*RunRecord),
		obs:  make(map[uuid.UUID]map[protocol.Day][]simulation.RiskObservation),
	}
}

func (s *InMemoryStore) SaveRun(run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *InMemoryStore) LoadRun(id uuid.UUID) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	clone := *run
	return &clone, nil
}

func (s *InMemoryStore) LoadRuns() ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		clone := *run
		runs = append(runs, &clone)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

func (s *InMemoryStore) DeleteRun(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	delete(s.runs, id)
	delete(s.obs, id)
	return nil
}

func (s *InMemoryStore) SaveObservations(id uuid.UUID, day protocol.Day, obs []simulation.RiskObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obs[id] == nil {
		s.obs[id] = make(map[protocol.Day][]simulation.RiskObservation)
	}
	s.obs[id][day] = append([]simulation.RiskObservation(nil), obs...)
	return nil
}

func (s *InMemoryStore) LoadObservations(id uuid.UUID, day protocol.Day) ([]simulation.RiskObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return append([]simulation.RiskObservation(nil), s.obs[id][day]...), nil
}

func (s *InMemoryStore) Close() error { return nil }
