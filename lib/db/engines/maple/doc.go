// Package maple implements a sharded, versioned in-memory object table (db.ObjectDB).
// It is the storage engine below both store backends: the single node lstore uses
// it directly, the raft replicated dstore wraps it in a state machine.
//
// Key Components:
//
//   - mapleImpl: The central structure implementing db.ObjectDB. It owns the shards,
//     the bindings tree and the three indexes that transactions depend on:
//     the write index (version of the last applied batch), the collected index
//     (tombstone horizon) and the id allocator. The write index is supplied by the
//     caller (a mutex protected counter in lstore, the raft log index in dstore).
//
//   - Shard: A partition of the object id space with its own xsync.MapOf of records,
//     a due heap of tombstones and an event queue. Sequential ids are spread over the
//     shards with a splitmix finalizer so that a burst of fresh objects does not land on one shard.
//
//   - Record: The stored state of one object: the encoded bytes, the write index of
//     the batch that last changed it and a deleted flag. Records are never mutated in
//     place, every write stores a fresh record with a copy of the data.
//
//   - Bindings: A google/btree ordered by name. NextBinding walks it in order, which
//     is how named maps and persisted tasks are enumerated.
//
// Commit Batches:
//
// Apply is the only way to change objects. It runs under one commit mutex in three steps:
//  1. validate every read check and binding check against the current state
//  2. write every record and binding
//  3. publish the batch's write index
//
// Readers never take the mutex. Because the index is published last, a reader that
// takes the current write index as its snapshot never observes a half applied batch:
// any record it sees from a newer batch carries a version above its snapshot and is
// detected by the transaction layer.
//
// Tombstones and Garbage Collection:
//
// A deleted object leaves a tombstone (Deleted=true) so that transactions which still
// hold an older snapshot can tell "deleted after my snapshot" (conflict) from "never
// existed". Every deletion is announced on the shard's lock-free event queue, the
// shard's GC goroutine files it in a keyed min-heap at version+TombstoneRetention and
// removes it once the write index passes that point. Before removing anything the
// collector advances the collected index to writeIndex-TombstoneRetention. A reader
// whose snapshot is below the collected index can therefore not trust a missing record.
//
// Persistence Format:
//
//  1. Magic number "MAPLEOBJ" and a format version byte
//  2. Seed, write index and id allocator state
//  3. Number of live objects, then per object: id, version, data length, data
//  4. Number of bindings, then per binding: name length, name, id
//
// Save collects the record references under the commit mutex (a consistent cut) and
// encodes them afterwards. Tombstones are not saved, Load therefore sets the collected
// index to the snapshot's write index.
package maple
