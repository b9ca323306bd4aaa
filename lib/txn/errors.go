package txn

import "github.com/cockroachdb/errors"

var (
	// ErrObjectNotFound is returned when a referenced object does not exist (anymore)
	ErrObjectNotFound = errors.New("object not found")
	// ErrConflict is returned when the snapshot of a transaction is no longer valid.
	// Manager.Transact retries transactions that fail with ErrConflict.
	ErrConflict = errors.New("transaction conflict")
	// ErrNameNotBound is returned when a name has no binding
	ErrNameNotBound = errors.New("name not bound")
	// ErrTxnDone is returned when a finished transaction is used
	ErrTxnDone = errors.New("transaction already finished")
	// ErrUnknownKind is returned when stored data has a kind without registered factory
	ErrUnknownKind = errors.New("unknown object kind")
)
