// Package common provides the types shared by the HTTP server, the HTTP client and the CLI.
//
// The package focuses on:
//   - Message types of the HTTP map API
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat
//   - Utilities for Dragonboat (RAFT) integration
//
// Key Components:
//
//   - EntryResponse, SizeResponse, ListResponse, MapsResponse, ErrorResponse: JSON
//     documents returned by the HTTP API.
//
//   - ServerConfig: Configuration of a node, including the backend type, RAFT parameters,
//     storage settings, the HTTP endpoint and the background task scheduler.
//     Provides utilities for converting to Dragonboat-specific configurations.
//
//   - ClientConfig: Configuration for client components, controlling endpoints,
//     timeouts, and retry behavior.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
//     Log lines can additionally be written to a rotating log file.
package common
