// Package lstore implements a local, in-memory, single-node object backend based on the
// store.IStore interface. It is a thin wrapper around any db.ObjectDB implementation with
// write index management. Data is not persisted between process restarts.
//
// Implementation Details:
//
//   - Write Index Management: Every commit and every id allocation receives the next write
//     index. Index assignment and application happen under one mutex, so batches are
//     applied in index order. A rejected commit does not consume its index.
//
//   - Feature Detection: Before executing operations, the store checks if the underlying
//     db.ObjectDB supports the requested feature. Unsupported operations return
//     RetCUnsupportedOperation errors.
//
// Usage Example:
//
//	factory := func() db.ObjectDB { return maple.NewMapleDB(nil) }
//	s := lstore.NewLocalStore(factory)
//
//	first, err := s.AllocateIDs(1)
//	idx, err := s.Commit(db.Batch{Writes: []db.Write{{ID: first, Data: data}}})
//	rec, found, err := s.Read(first)
//
// For multi-node deployments use the dstore package, which provides a RAFT-based
// implementation of the same interface.
package lstore
