package store

import (
	"fmt"

	"github.com/ValentinKolb/scoll/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.ObjectDB

// IStore is the backend the transaction manager commits through.
// It hands out write indexes, so every implementation decides how commits are ordered
// (a mutex for a single node, the raft log for a replicated shard).
// All methods return a *Error (nil on success).
type IStore interface {
	// Read returns the record of an object (live or tombstone). found is false if the
	// store has no record, either because the object never existed or because its
	// tombstone was already collected.
	Read(id uint64) (record db.Record, found bool, err error)

	// Commit applies a batch atomically and returns the write index it was applied with.
	// If a check of the batch fails, the returned error has the code RetCConflict.
	Commit(batch db.Batch) (index uint64, err error)

	// AllocateIDs reserves count fresh object ids and returns the first one.
	AllocateIDs(count uint64) (first uint64, err error)

	// Binding returns the object id bound to name.
	Binding(name string) (id uint64, found bool, err error)

	// NextBinding returns the smallest bound name strictly greater than name.
	NextBinding(name string) (next string, found bool, err error)

	// Horizon returns the current write index and the tombstone horizon (collected index).
	// Every record written with a version <= writeIdx is visible to Read calls issued after Horizon returns.
	Horizon() (writeIdx uint64, collectedIdx uint64, err error)

	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// Is matches any *Error with the same code, so errors.Is(err, store.ErrConflict) works
// for every conflict regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new StoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// ErrConflict is the comparison target for conflicts: errors.Is(err, store.ErrConflict).
var ErrConflict = NewError(RetCConflict, "conflict")

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCConflict                            // 4: A read or binding check of a commit failed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}
