// Package cmd provides CLI commands for the simulation services.
//
// # Commands
//
// simulate: Runs one simulation to completion in-process and prints the
// closing summary as JSON. Supports YAML configs, flag overrides, contact
// trace replay, and optional PostgreSQL persistence.
//
//	go run ./cmd/simulate --population=500 --days=60 --seed=3
//	go run ./cmd/simulate --config=run.yaml --db-host=localhost
//	go run ./cmd/simulate --trace=contacts.jsonl
//
// apiserver: Serves the run API. Runs execute as managed background jobs
// with per-day observations streamed into the store; the operational
// surface (health, drain, metrics, pprof) comes from the base server.
//
//	go run ./cmd/apiserver --addr=:8080 --metrics-addr=:8090
//	go run ./cmd/apiserver --db-host=localhost --db-password=secret
//
// # Configuration
//
// The simulate command supports YAML configuration files via the --config
// flag; command-line flags override config file values. Both commands take
// the same database flags (--db-host, --db-port, --db-user, --db-password,
// --db-name, --db-sslmode); with no --db-host they keep everything in
// memory.
package cmd
