/*
Package shm implements ScalableHashMap, a persistent hash map for the transactional
object store (package txn).

The map is split into many small objects so that concurrent transactions on different
keys rarely touch the same object:

  - a header that identifies the map and holds its immutable configuration,
  - a tree of directory nodes addressed by the high bits of the key hash,
  - leaf nodes with a fixed number of buckets, linked in hash order,
  - one entry object per key, plus one box for the key and one for the value.

A leaf that holds more than SplitThreshold entries splits into two leaves of the next
depth (extendible hashing). Leaves are never merged. Clear and Destroy move the tree
away from the root in a bounded number of writes and remove it with a task run by a
scheduler.Scheduler.

Example:

	err := mgr.Transact(ctx, func(tx *txn.Txn) error {
		m, err := shm.New[string, int](tx, sched, shm.WithMinConcurrency(8))
		if err != nil {
			return err
		}
		if err := tx.SetBinding("scores", m.ID()); err != nil {
			return err
		}
		_, _, err = m.Put(tx, "alice", 42)
		return err
	})

Keys are compared by their encoding, so the key codec must encode equal keys to equal
bytes. The default CBOR codec uses the deterministic encoding.
*/
package shm
