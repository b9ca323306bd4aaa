// Package store provides the backend contract of the object store the transactional
// collections live in. It serves as an abstraction layer over the lower-level db.ObjectDB
// implementations, adding write index management and standardized error reporting.
//
// Key Components:
//
//   - IStore Interface: Reads versioned object records, resolves bindings, allocates object
//     ids and commits batches. A commit is validated against its read set and applied
//     atomically, or rejected with a RetCConflict error.
//
//   - Error System: A structured error type (*Error) with a RetCode and a message. Errors
//     compare by code with errors.Is, so callers can test for ErrConflict directly.
//
//   - DBFactory: A function type that abstracts the creation of underlying db.ObjectDB
//     instances.
//
// Implementations:
//
//	- Local Store (lstore): a single-node backend that assigns write indexes under a mutex
//	  and applies batches to one db.ObjectDB.
//	  Available in the "github.com/ValentinKolb/scoll/lib/store/lstore" package.
//
//	- Distributed Store (dstore): a backend built on the Dragonboat RAFT library. Commits
//	  and id allocations are raft proposals, the raft log index is the write index.
//	  Available in the "github.com/ValentinKolb/scoll/lib/store/dstore" package.
//
// Horizon:
//
//	Horizon returns the current write index and the collected index of the backend.
//	Transactions use the write index as their snapshot. Tombstones with a version at or
//	below the collected index may already be gone, so a missing record is only a reliable
//	"absent" answer for snapshots at or above the collected index.
package store
