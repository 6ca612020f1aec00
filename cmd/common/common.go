// Package common provides shared utilities for the simulation CLI commands.
//
// This package contains helper functions used by the standalone binaries
// (simulate, apiserver) to reduce code duplication:
//
//   - Structured logger construction
//   - Database flag registration and store selection
package common

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mptcloud/covid-p2p-simulation/services"
)

// NewLogger builds the JSON logger the binaries share. Debug mode lowers
// the level threshold.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// PostgresFlags registers the database connection flags on the default flag
// set and returns the config they populate. An empty host means no database.
func PostgresFlags() *services.PostgresConfig {
	cfg := &services.PostgresConfig{}
	flag.StringVar(&cfg.Host, "db-host", "", "PostgreSQL host (empty for the in-memory store)")
	flag.IntVar(&cfg.Port, "db-port", 5432, "PostgreSQL port")
	flag.StringVar(&cfg.User, "db-user", "covid", "PostgreSQL user")
	flag.StringVar(&cfg.Password, "db-password", "", "PostgreSQL password")
	flag.StringVar(&cfg.Database, "db-name", "simulation", "PostgreSQL database name")
	flag.StringVar(&cfg.SSLMode, "db-sslmode", "disable", "PostgreSQL sslmode")
	return cfg
}

// OpenStore connects to PostgreSQL when a host is configured and falls back
// to the in-memory store otherwise.
func OpenStore(log *slog.Logger, cfg *services.PostgresConfig) (services.ObservationStore, error) {
	if cfg.Host == "" {
		log.Info("No database configured, using in-memory store")
		return services.NewInMemoryStore(), nil
	}

	store, err := services.NewPostgresStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	log.Info("Connected to PostgreSQL", "host", cfg.Host, "database", cfg.Database)
	return store, nil
}
