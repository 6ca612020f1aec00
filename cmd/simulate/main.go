// Command simulate runs one simulation to completion and prints the summary.
//
// The run executes in-process. Observations land in PostgreSQL when database
// flags are given, otherwise in memory, and the closing summary is printed
// as JSON either way.
//
// # Configuration File
//
// Create a YAML file with run settings; anything omitted keeps its default:
//
//	population: 500
//	days: 60
//	seed: 3
//	app_uptake: 0.6
//	protocol:
//	  model: clustered
//	  transmission: 0.05
//	budget:
//	  quota_fraction: 0.02
//
// # Contact Traces
//
// A JSONL encounter trace recorded elsewhere can replace the random mixer:
//
//	go run ./cmd/simulate --trace=contacts.jsonl
//
// # Usage
//
//	go run ./cmd/simulate --population=500 --days=60 --seed=3
//	go run ./cmd/simulate --config=run.yaml --db-host=localhost --db-password=secret
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mptcloud/covid-p2p-simulation/cmd/common"
	"github.com/mptcloud/covid-p2p-simulation/protocol"
	"github.com/mptcloud/covid-p2p-simulation/services"
	"github.com/mptcloud/covid-p2p-simulation/simulation"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		population = flag.Int("population", 0, "Number of simulated people")
		days       = flag.Int("days", 0, "Number of simulated days")
		seed       = flag.Uint64("seed", 0, "Run seed")
		model      = flag.String("model", "", "Risk model (monotonic, additive, clustered)")
		uptake     = flag.Float64("uptake", -1, "Fraction of people carrying the app")
		tracePath  = flag.String("trace", "", "Replay encounters from a JSONL trace instead of the random mixer")
		debug      = flag.Bool("debug", false, "Verbose logging")
	)
	dbConfig := common.PostgresFlags()
	flag.Parse()

	// isFlagSet checks if a flag was explicitly provided on command line
	isFlagSet := func(name string) bool {
		found := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == name {
				found = true
			}
		})
		return found
	}

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *population != 0 {
		cfg.Population = *population
	}
	if *days != 0 {
		cfg.Days = *days
	}
	if isFlagSet("seed") {
		cfg.Seed = *seed
	}
	if *model != "" {
		cfg.Protocol.Model = protocol.RiskModel(*model)
	}
	if *uptake >= 0 {
		cfg.AppUptake = *uptake
	}

	log := common.NewLogger(*debug)

	if err := run(log, cfg, *tracePath, dbConfig); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfiguration(configPath string) (simulation.Config, error) {
	if configPath != "" {
		return simulation.LoadConfig(configPath)
	}
	return simulation.DefaultConfig(), nil
}

func run(log *slog.Logger, cfg simulation.Config, tracePath string, dbConfig *services.PostgresConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tracePath != "" {
		if dbConfig.Host != "" {
			return errors.New("trace replay runs without a database")
		}
		return runFromTrace(ctx, log, cfg, tracePath)
	}

	store, err := common.OpenStore(log, dbConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	runner, err := services.NewRunner(services.RunnerConfig{Store: store, Log: log, MaxConcurrent: 1})
	if err != nil {
		return err
	}

	record, err := runner.StartRun(cfg)
	if err != nil {
		return err
	}

	select {
	case <-runner.Done(record.ID):
	case <-ctx.Done():
		_ = runner.Cancel(record.ID)
		<-runner.Done(record.ID)
	}

	final, err := runner.Status(record.ID)
	if err != nil {
		return err
	}
	if final.State == services.RunFailed {
		return fmt.Errorf("run failed: %s", final.Error)
	}
	if final.Summary == nil {
		return fmt.Errorf("run %s after %d days", final.State, final.CurrentDay)
	}
	return printSummary(final.Summary)
}

// runFromTrace drives the engine directly so the contact source can be
// swapped for the recorded trace.
func runFromTrace(ctx context.Context, log *slog.Logger, cfg simulation.Config, tracePath string) error {
	src, err := simulation.OpenReplaySource(cfg.Clock(), tracePath)
	if err != nil {
		return err
	}

	eng, err := simulation.New(cfg, simulation.Options{Log: log, Contacts: src})
	if err != nil {
		return err
	}

	summary, err := eng.Run(ctx)
	if err != nil {
		return err
	}
	return printSummary(summary)
}

func printSummary(summary *simulation.Summary) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
