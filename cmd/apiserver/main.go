// Command apiserver serves the simulation run API.
//
// The server manages simulation runs as background jobs: submitted configs
// execute through the engine, observations stream into the store day by
// day, and results stay queryable until deleted.
//
// # Endpoints
//
// Run API (JSON, under /api):
//   - POST /api/runs - Start a run (empty body uses the standard parameterization)
//   - GET /api/runs - List runs
//   - GET /api/runs/{run_id} - Run status
//   - GET /api/runs/{run_id}/summary - Summary of a completed run
//   - POST /api/runs/{run_id}/cancel - Request cancellation
//   - DELETE /api/runs/{run_id} - Delete a finished run
//   - GET /api/runs/{run_id}/days/{day} - One day of observations
//
// Operational:
//   - GET /livez, /readyz - Liveness and readiness
//   - GET /drain, /undrain - Load balancer control
//   - /metrics on the metrics address - Prometheus metrics
//
// # Usage
//
//	go run ./cmd/apiserver --addr=:8080 --metrics-addr=:8090
//	go run ./cmd/apiserver --db-host=localhost --db-password=secret
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mptcloud/covid-p2p-simulation/api/httpserver"
	"github.com/mptcloud/covid-p2p-simulation/cmd/common"
	"github.com/mptcloud/covid-p2p-simulation/metrics"
	"github.com/mptcloud/covid-p2p-simulation/services"
)

func main() {
	var (
		listenAddr  = flag.String("addr", ":8080", "HTTP listen address")
		metricsAddr = flag.String("metrics-addr", ":8090", "Metrics listen address (empty disables)")
		maxRuns     = flag.Int("max-runs", 2, "Maximum simulations executing at once")
		enablePprof = flag.Bool("pprof", false, "Enable pprof debugging API")
		drainDur    = flag.Duration("drain-duration", time.Second, "Wait after drain before shutdown")
		debug       = flag.Bool("debug", false, "Verbose logging")
	)
	dbConfig := common.PostgresFlags()
	flag.Parse()

	log := common.NewLogger(*debug)

	serverCfg := &httpserver.HTTPServerConfig{
		ListenAddr:               *listenAddr,
		MetricsAddr:              *metricsAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            *drainDur,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             30 * time.Second,
	}

	if err := run(log, serverCfg, dbConfig, *maxRuns); err != nil {
		log.Error("Fatal error", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, serverCfg *httpserver.HTTPServerConfig, dbConfig *services.PostgresConfig, maxRuns int) error {
	store, err := common.OpenStore(log, dbConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	runner, err := services.NewRunner(services.RunnerConfig{
		Store:         store,
		Log:           log,
		MaxConcurrent: maxRuns,
	})
	if err != nil {
		return err
	}

	handler := services.NewHandler(runner, log)

	srv, err := httpserver.New(serverCfg, handler)
	if err != nil {
		return err
	}

	// The simulation collector lives on the server's registry so engine
	// metrics come out of the same scrape endpoint.
	runner.SetMetrics(metrics.NewSimulation(srv.Registry()))

	srv.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Shutdown(ctx); err != nil {
		log.Error("Runner shutdown incomplete", "err", err)
	}
	srv.Shutdown()
	return nil
}
