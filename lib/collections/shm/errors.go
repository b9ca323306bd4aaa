package shm

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrIllegalArgument is returned for keys or values that cannot be encoded and for invalid options.
	// Nothing is modified when it is returned.
	ErrIllegalArgument = errors.New("illegal argument")
	// ErrIllegalState is returned when Iterator.Remove is called without a preceding Next
	ErrIllegalState = errors.New("illegal iterator state")
	// ErrNoSuchElement is returned by Next when the iteration has no more entries
	ErrNoSuchElement = errors.New("no such element")
)
