package internal

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Events signal tombstones to the shard's garbage collector
// --------------------------------------------------------------------------

type EventType int

const (
	EventTTombstone EventType = iota // an object was deleted and left a tombstone
)

func (e EventType) String() string {
	switch e {
	case EventTTombstone:
		return "Tombstone"
	default:
		return "Unknown"
	}
}

type Event struct {
	Type    EventType
	ID      uint64
	Version uint64 // write index of the deletion
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, ID: %d, Version: %d}", e.Type, e.ID, e.Version)
}

// --------------------------------------------------------------------------
// Shard Type (partition of the object table)
// --------------------------------------------------------------------------

// Shard owns a partition of the object id space.
// Objects is shared by all goroutines, Due is owned by the shard's GC goroutine.
type Shard struct {
	Objects *xsync.MapOf[uint64, db.Record]
	Due     *util.MapHeap[uint64] // tombstone id -> write index from which it may be collected
	Events  *util.LockFreeMPSC[Event]
}

// NewShard creates an empty shard whose map hashes ids with the given seed.
func NewShard(seed uint64) *Shard {
	return &Shard{
		Objects: xsync.NewMapOfWithHasher[uint64, db.Record](func(id uint64, mapSeed uint64) uint64 {
			return util.MixID(id^seed) ^ mapSeed
		}),
		Due:    util.NewMapHeap[uint64](),
		Events: util.NewLockFreeMPSC[Event](), // closing it stops the shard's GC goroutine
	}
}

// GetShard returns the shard responsible for an object id.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](id uint64, shards []*T) *T {
	return shards[util.ShardIndex(util.MixID(id), len(shards))]
}

// --------------------------------------------------------------------------
// Bindings
// --------------------------------------------------------------------------

// Binding is a name -> object id entry of the bindings tree.
type Binding struct {
	Name string
	ID   uint64
}

// BindingLess orders bindings by name.
func BindingLess(a, b Binding) bool {
	return strings.Compare(a.Name, b.Name) < 0
}
