// Package db defines the contract of a versioned object table (ObjectDB), the storage
// layer below the transaction manager.
//
// An object table stores opaque byte records addressed by uint64 ids. Each record
// carries the write index of the batch that last changed it. That version is all
// optimistic concurrency control needs: a transaction remembers the versions it
// read and commits a Batch that asserts them (ReadCheck, BindingCheck) together
// with its writes. The table applies the batch atomically or reports the first
// failed check as a Conflict.
//
// Key Components:
//
//   - ObjectDB Interface: Apply (validated atomic batch), AllocateIDs (monotonic id
//     blocks), Read, Binding/NextBinding (ordered name -> id bindings), CollectedIdx
//     (tombstone horizon), Save/Load and write index management.
//
//   - Feature Flags: implementations advertise their capabilities through SupportsFeature.
//
//   - DatabaseInfo: size estimate, implementation and implementation specific metadata.
//
// Note on Write Indexes:
//   - The caller supplies the write index of every Apply and AllocateIDs call. The
//     index must grow monotonically, the table publishes it only after all writes of
//     the batch are visible.
//   - Deleted objects leave tombstones that are collected after a retention period.
//     CollectedIdx tells readers from which snapshot on a missing record can be trusted.
//
// Related Packages:
//
// The engines/maple package provides the sharded in-memory implementation, the util
// package the queues, heaps and statistics it is built from, and the testing package
// a conformance suite (RunObjectDBTests) and benchmarks (RunObjectDBBenchmarks) for
// any implementation.
package db
