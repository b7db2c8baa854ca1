// Package cmd implements the command-line interface for concread. It
// provides a hierarchical command structure for exercising the concurrently
// readable data structures under configurable workloads.
//
// The package is organized into several subpackages:
//
//   - demo: Commands that run concurrent read/write workloads against the
//     engines and report their telemetry counters
//   - util: Shared utilities for command-line processing and configuration
//     (internal use)
//
// See concread -help for a list of all commands.
package cmd
