package internal

import "github.com/ValentinKolb/scoll/lib/db"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTRead        QueryType = iota // Retrieve the record of an object.
	QueryTBinding                      // Resolve a binding.
	QueryTNextBinding                  // Find the next bound name.
	QueryTHorizon                      // Retrieve the write index and the tombstone horizon.
	QueryTGetDBInfo                    // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTRead:
		return "Read"
	case QueryTBinding:
		return "Binding"
	case QueryTNextBinding:
		return "NextBinding"
	case QueryTHorizon:
		return "Horizon"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type QueryType // The type of Query to perform.
	ID   uint64    // The object id (QueryTRead).
	Name string    // The binding name (QueryTBinding, QueryTNextBinding).
}

// ReadResult is the result of a QueryTRead operation.
type ReadResult struct {
	Record db.Record
	Found  bool
}

// BindingResult is the result of QueryTBinding and QueryTNextBinding operations.
type BindingResult struct {
	ID    uint64
	Name  string
	Found bool
}

// HorizonResult is the result of a QueryTHorizon operation.
type HorizonResult struct {
	WriteIdx     uint64
	CollectedIdx uint64
}
