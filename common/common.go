// Package common holds the few constants shared by every binary.
package common

// PackageName is the canonical service name used in logs and metrics.
const PackageName = "covid-p2p-simulation"

// Version is set at build time via ldflags.
var Version = "dev"
