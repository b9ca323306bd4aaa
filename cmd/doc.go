// Package cmd implements the command-line interface of scoll. It provides a
// hierarchical command structure with operations for running a node and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - maps: Commands for map operations (get, put, del, list, clear, perf, ...)
//   - serve: Commands for starting and configuring a scoll node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See scoll -help for a list of all commands.
package cmd
