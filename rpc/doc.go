// Package rpc exposes the scalable hash maps of a node over HTTP.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures, logging and the JSON messages shared
//     by client and server.
//
//   - server: The node itself. It starts the object store (local or replicated
//     with RAFT), the transaction manager and the task scheduler, and serves the
//     map API.
//
//   - client: A client for the map API that spreads requests over several
//     endpoints and retries failed ones.
package rpc
