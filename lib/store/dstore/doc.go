// Package dstore implements a distributed, fault-tolerant object backend using the
// Dragonboat RAFT consensus library. It implements the store.IStore interface across
// multiple nodes.
//
// Architecture:
//
//   - Store Client: Implements store.IStore. It serializes commits and id allocations into
//     commands, proposes them to the RAFT shard and decodes the results.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine (ObjectStateMachine) that holds a
//     db.ObjectDB and applies commands on each node.
//
//   - Communication Protocol: Command and Query structures in the internal package.
//
// Write Operations:
//
//	1. The commit batch (or allocation) is serialized into a Command
//	2. The Command is proposed via SyncPropose
//	3. Once committed, each node applies it in Update with the raft log index as write index
//	4. The result carries the write index (or the first allocated id) or the conflict
//
//	A conflicting commit still consumes its raft index. The object table's write index
//	follows the raft log on every node.
//
// Read Operations:
//
//	Horizon is a linearizable SyncRead. Object and binding reads use StaleRead on the local
//	replica: a transaction's snapshot comes from Horizon on the same replica, and the
//	replica never applies less than it already answered, so the reads are complete up to
//	the snapshot. Newer records are rejected by the transaction's version checks.
//
// Error Handling and Retries:
//
//	When Dragonboat returns ErrSystemBusy, the operation is retried after timeout/10, up to
//	5 times. Other failures become RetCInternalError errors, conflicts keep RetCConflict.
//
// Snapshotting and Recovery:
//
//	Snapshots use ObjectDB.Save and ObjectDB.Load. Tombstones are not part of a snapshot, a
//	loaded table reports its write index as collected index, so transactions that started
//	before the snapshot cannot mistake a collected tombstone for an absent object.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	dbFactory := func() db.ObjectDB { return maple.NewMapleDB(nil) }
//
//	err = nh.StartConcurrentReplica(
//	    clusterMembers,
//	    false,
//	    dstore.CreateStateMachineFactory(dbFactory),
//	    shardConfig)
//	if err != nil { ... }
//
//	s := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
package dstore
