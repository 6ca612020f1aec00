/*
# Simulation Services Package

The services package runs simulations as managed background jobs and exposes
them over HTTP.

## Components

### Runner

The Runner (`runner.go`) owns run lifecycle:
- A submitted config becomes a pending RunRecord
- Runs execute through the simulation engine as execution slots free up
- Per-day observations stream into the store while a run advances
- Terminal runs keep their summary, day count, and error message

### Stores

Two ObservationStore implementations (`store.go`):
- PostgresStore for deployments, with bulk COPY inserts for observations
- InMemoryStore for tests and single-shot batch runs

### Handler

The Handler (`handler.go`) maps the runner onto a JSON API:

- `POST /api/runs` - Start a run (empty body uses the standard parameterization)
- `GET /api/runs` - List runs, newest first
- `GET /api/runs/{run_id}` - Run status, with a live day counter while active
- `GET /api/runs/{run_id}/summary` - Epidemic summary of a completed run
- `POST /api/runs/{run_id}/cancel` - Request cancellation
- `DELETE /api/runs/{run_id}` - Delete a finished run and its observations
- `GET /api/runs/{run_id}/days/{day}` - One day of risk observations

## Usage

	store := services.NewInMemoryStore()
	runner, err := services.NewRunner(services.RunnerConfig{Store: store})
	if err != nil {
		log.Fatal(err)
	}

	record, err := runner.StartRun(simulation.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}

	<-runner.Done(record.ID)
	record, _ = runner.Status(record.ID)
	fmt.Println(record.State, record.Summary)

Cancellation is asynchronous: Cancel requests it, Done observes the
terminal state. Deleting is only allowed once a run is no longer active.
*/
package services
