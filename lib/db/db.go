package db

import (
	"io"
	"strconv"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureRead           Feature = 1 << iota // Support for Read operations
	FeatureApply                              // Support for Apply operations (validated commit batches)
	FeatureAllocate                           // Support for AllocateIDs operations
	FeatureBindings                           // Support for named bindings (Binding, NextBinding)
	FeatureSave                               // Support for Save operations
	FeatureLoad                               // Support for Load operations
	FeatureGarbageCollect                     // Support for tombstone collection
)

func (f Feature) String() string {
	switch f {
	case FeatureRead:
		return "Read"
	case FeatureApply:
		return "Apply"
	case FeatureAllocate:
		return "Allocate"
	case FeatureBindings:
		return "Bindings"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureGarbageCollect:
		return "GarbageCollect"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Records and Commit Batches
// --------------------------------------------------------------------------

// Record is the stored state of a single object.
// Version is the write index of the batch that last changed the object.
// A deleted object is kept as a tombstone (Deleted=true, Data=nil) until it is collected.
type Record struct {
	Data    []byte
	Version uint64
	Deleted bool
}

// ReadCheck asserts that object ID is still at Version when the batch is applied.
type ReadCheck struct {
	ID      uint64
	Version uint64
}

// BindingCheck asserts that Name is still bound to ID (0 = unbound) when the batch is applied.
type BindingCheck struct {
	Name string
	ID   uint64
}

// Write replaces the data of object ID or, if Delete is set, turns it into a tombstone.
type Write struct {
	ID     uint64
	Data   []byte
	Delete bool
}

// BindingWrite binds Name to ID. ID 0 removes the binding.
type BindingWrite struct {
	Name string
	ID   uint64
}

// Batch is the unit of an optimistic commit: all checks must hold,
// then all writes are applied atomically under one write index.
type Batch struct {
	Reads        []ReadCheck
	BindingReads []BindingCheck
	Writes       []Write
	Bindings     []BindingWrite
}

// IsReadOnly reports whether the batch contains no writes.
func (b *Batch) IsReadOnly() bool {
	return len(b.Writes) == 0 && len(b.Bindings) == 0
}

// Conflict describes the first failed check of a batch.
type Conflict struct {
	ID      uint64 // object that changed (0 if a binding changed)
	Binding string // binding that changed ("" if an object changed)
}

func (c *Conflict) String() string {
	if c.Binding != "" {
		return "binding " + c.Binding + " changed"
	}
	return "object " + strconv.FormatUint(c.ID, 10) + " changed"
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// ObjectDB defines an interface for versioned object tables.
// Objects are opaque byte records addressed by a uint64 id. Every change is tagged
// with the write index of the batch that made it, which is what transactions use
// for optimistic concurrency control.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type ObjectDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Apply validates all checks of the batch and, if they hold, applies all writes
	// with the given write index as their version. The whole batch is atomic: either
	// every write becomes visible or none does.
	// A nil return value means success, otherwise the first failed check is returned.
	// Apply must publish the new write index only after all writes are visible.
	Apply(batch Batch, writeIndex uint64) (conflict *Conflict)

	// AllocateIDs reserves count fresh object ids and returns the first one.
	// Ids are monotonic and never reused, not even after Load.
	AllocateIDs(count uint64, writeIndex uint64) (first uint64)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Read returns the record of an object. The boolean reports whether a record
	// (live or tombstone) exists.
	Read(id uint64) (record Record, found bool)

	// Binding returns the object id bound to name.
	Binding(name string) (id uint64, found bool)

	// NextBinding returns the smallest bound name strictly greater than name.
	// An empty name returns the first bound name.
	NextBinding(name string) (next string, found bool)

	// CollectedIdx returns the highest write index whose tombstones may already be collected.
	// A missing record can only be trusted by readers whose snapshot is at or above this index.
	CollectedIdx() (index uint64)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Write Index Operations
	// --------------------------------------------------------------------------

	// SetWriteIdx sets the current index of the database only if the provided index is greater than the current index.
	SetWriteIdx(index uint64)

	// WriteIdx returns the current index of the database.
	WriteIdx() (index uint64)

	// Close closes the database.
	Close() (err error)
}
