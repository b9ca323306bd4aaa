// Package txn provides transactions on a persistent object store (store.IStore).
//
// Objects implement the Object interface and are registered by kind with RegisterKind.
// Every object is an independent unit of optimistic concurrency control: a transaction
// reads objects from one snapshot, buffers its changes and commits them as one batch.
// The backend applies the batch only if no object or binding the transaction read has
// changed in the meantime.
//
// Snapshot rules:
//
//   - A transaction starts at the write index of the backend (its snapshot).
//   - Reading an object with a version newer than the snapshot fails with ErrConflict.
//   - A deleted object (tombstone) older than the snapshot reads as ErrObjectNotFound,
//     a newer one conflicts.
//   - A missing object reads as ErrObjectNotFound only if the snapshot is not older than
//     the collected index of the backend. Otherwise the object may have been deleted and
//     collected after the snapshot, which is reported as ErrConflict.
//
// Usage:
//
//	mgr := txn.NewManager(lstore.NewLocalStore(factory), nil)
//	err := mgr.Transact(ctx, func(tx *txn.Txn) error {
//	    id, err := tx.Binding("counter")
//	    if err != nil {
//	        return err
//	    }
//	    c, err := txn.NewRef[*Counter](id).GetForUpdate(tx)
//	    if err != nil {
//	        return err
//	    }
//	    c.Value++
//	    return nil
//	})
//
// Transact retries conflicting transactions. The function passed to it must therefore
// be free of side effects outside the transaction, use OnCommit for those.
//
// Bindings map names to object ids and are the entry points into the object graph.
// Binding reads are validated at commit like object reads.
//
// Boxes (Box, BoxValue, UnboxValue) store plain Go values encoded with a codec.IValueCodec.
package txn
