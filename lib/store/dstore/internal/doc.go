// Package internal provides the communication protocol structures and serialization
// logic for the dstore package.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
//   - Command System: write operations (Commit, Allocate) that are proposed to the RAFT
//     cluster. Commands use a compact big endian binary encoding, see Command.Serialize.
//
//   - Query System: read operations (Read, Binding, NextBinding, Horizon, GetDBInfo).
//     Queries are executed locally on the state machine and are never serialized.
package internal
