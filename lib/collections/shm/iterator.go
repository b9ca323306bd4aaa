package shm

import (
	"encoding/binary"

	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/cockroachdb/errors"
)

const iteratorStateVersion = 2

// IteratorState is the position of an iterator. It can be stored and passed to
// ResumeIterator to continue an iteration in a later transaction.
type IteratorState struct {
	Map       txn.ObjectID // header of the iterated map
	Leaf      txn.ObjectID // leaf of the last returned entry
	Hash      uint32       // hash of the last returned entry
	Key       txn.ObjectID // key box id of the last returned entry
	ModCount  uint32       // modification count of the root when the entry was returned
	Started   bool
	Removable bool
}

func (s IteratorState) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 1+8+8+4+8+4+1)
	data = append(data, iteratorStateVersion)
	data = binary.BigEndian.AppendUint64(data, uint64(s.Map))
	data = binary.BigEndian.AppendUint64(data, uint64(s.Leaf))
	data = binary.BigEndian.AppendUint32(data, s.Hash)
	data = binary.BigEndian.AppendUint64(data, uint64(s.Key))
	data = binary.BigEndian.AppendUint32(data, s.ModCount)
	var flags byte
	if s.Started {
		flags |= 1
	}
	if s.Removable {
		flags |= 2
	}
	return append(data, flags), nil
}

func (s *IteratorState) UnmarshalBinary(data []byte) error {
	d := &decoder{data: data}
	if v := d.u8("version"); d.err == nil && v != iteratorStateVersion {
		return errors.Wrapf(ErrIllegalArgument, "unknown iterator state version %d", v)
	}
	s.Map = txn.ObjectID(d.u64("map"))
	s.Leaf = txn.ObjectID(d.u64("leaf"))
	s.Hash = d.u32("hash")
	s.Key = txn.ObjectID(d.u64("key"))
	s.ModCount = d.u32("mod count")
	flags := d.u8("flags")
	if err := d.finish("iterator state"); err != nil {
		return errors.Wrapf(ErrIllegalArgument, "%v", err)
	}
	s.Started = flags&1 != 0
	s.Removable = flags&2 != 0
	return nil
}

// after reports whether e is ordered after the last returned entry
func (s *IteratorState) after(e *entry) bool {
	return e.Hash > s.Hash || (e.Hash == s.Hash && e.Key > s.Key)
}

// Iterator iterates over the entries of a map in hash order.
//
// Every call may run in a different transaction. The iterator keeps only its position,
// so it tolerates concurrent modifications: entries present during the whole iteration
// are returned exactly once, entries added or removed meanwhile may or may not be returned.
//
// Thread-safety: An Iterator must only be used by one goroutine at a time.
type Iterator[K comparable, V any] struct {
	m     *ScalableHashMap[K, V]
	state IteratorState

	// trusted is false while the cached leaf of a resumed state was not checked to belong to m
	trusted bool
}

// Iterator returns an iterator positioned before the first entry
func (m *ScalableHashMap[K, V]) Iterator() *Iterator[K, V] {
	return &Iterator[K, V]{m: m, state: IteratorState{Map: m.id}, trusted: true}
}

// ResumeIterator returns an iterator of m continuing at state.
// It fails with ErrIllegalArgument if state was taken from an iterator of another map.
func ResumeIterator[K comparable, V any](m *ScalableHashMap[K, V], state IteratorState) (*Iterator[K, V], error) {
	if !state.Started {
		return m.Iterator(), nil
	}
	if state.Map != m.id {
		return nil, errors.Wrapf(ErrIllegalArgument, "iterator state of map %d used for map %d", state.Map, m.id)
	}
	return &Iterator[K, V]{m: m, state: state}, nil
}

// State returns the current position of the iterator
func (it *Iterator[K, V]) State() IteratorState {
	return it.state
}

// resolve returns the leaf the last returned entry belongs to and the modification count of the root
func (it *Iterator[K, V]) resolve(tx *txn.Txn, h *header) (txn.ObjectID, *node, uint32, error) {
	root, err := getNode(tx, h.Root)
	if err != nil {
		return 0, nil, 0, err
	}
	if !it.state.Started {
		id, leaf, err := lookup(tx, h, 0)
		return id, leaf, root.ModCount, err
	}
	if root.ModCount == it.state.ModCount {
		obj, err := tx.Get(it.state.Leaf)
		if err != nil && !errors.Is(err, txn.ErrObjectNotFound) {
			return 0, nil, 0, err
		}
		if leaf, ok := obj.(*node); err == nil && ok && leaf.isLeaf() {
			owned := it.trusted
			if !owned {
				if owned, err = belongsTo(tx, h, it.state.Leaf, leaf); err != nil {
					return 0, nil, 0, err
				}
			}
			if owned {
				return it.state.Leaf, leaf, root.ModCount, nil
			}
		}
	}
	// the map was cleared, the cached leaf was split, or it is not a leaf of this map
	id, leaf, err := lookup(tx, h, it.state.Hash)
	return id, leaf, root.ModCount, err
}

// belongsTo reports whether the parent chain of node n leads to the root of the map
func belongsTo(tx *txn.Txn, h *header, id txn.ObjectID, n *node) (bool, error) {
	for steps := 0; steps <= 32; steps++ {
		if id == h.Root {
			return true, nil
		}
		if n.Parent == 0 {
			return false, nil
		}
		obj, err := tx.Get(n.Parent)
		if errors.Is(err, txn.ErrObjectNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		parent, ok := obj.(*node)
		if !ok || parent.isLeaf() {
			return false, nil
		}
		id, n = n.Parent, parent
	}
	return false, nil
}

// position is the entry an iterator moves to
type position struct {
	leaf     txn.ObjectID
	e        *entry
	modCount uint32
}

// next finds the first entry after the current position without moving the iterator
func (it *Iterator[K, V]) next(tx *txn.Txn) (*position, error) {
	h, err := it.m.header(tx)
	if err != nil {
		return nil, err
	}
	leafID, leaf, modCount, err := it.resolve(tx, h)
	if err != nil {
		return nil, err
	}

	// the resolved leaf holds the hash of the position, later leaves only hold greater hashes
	first := uint32(0)
	if it.state.Started {
		first = slotIndex(it.state.Hash, leaf.Depth, h.leafBits())
	}
	for {
		for b := first; b < uint32(len(leaf.leaf.Buckets)); b++ {
			for cur := leaf.leaf.Buckets[b]; cur != 0; {
				e, err := getEntry(tx, cur)
				if err != nil {
					return nil, err
				}
				if !it.state.Started || it.state.after(e) {
					return &position{leaf: leafID, e: e, modCount: modCount}, nil
				}
				cur = e.Next
			}
		}
		if leaf.leaf.Right == 0 {
			return nil, nil
		}
		leafID = leaf.leaf.Right
		if leaf, err = getLeaf(tx, leafID); err != nil {
			return nil, err
		}
		first = 0
	}
}

// HasNext reports whether Next would return an entry
func (it *Iterator[K, V]) HasNext(tx *txn.Txn) (bool, error) {
	pos, err := it.next(tx)
	return pos != nil, err
}

// Next returns the next entry. It fails with ErrNoSuchElement at the end of the map.
func (it *Iterator[K, V]) Next(tx *txn.Txn) (K, V, error) {
	var k K
	var v V
	pos, err := it.next(tx)
	if err != nil {
		return k, v, err
	}
	if pos == nil {
		return k, v, ErrNoSuchElement
	}
	if k, err = it.m.loadKey(tx, pos.e.Key); err != nil {
		return k, v, err
	}
	if v, _, err = it.m.loadValue(tx, pos.e.Value); err != nil {
		return k, v, err
	}
	it.state = IteratorState{
		Map:       it.m.id,
		Leaf:      pos.leaf,
		Hash:      pos.e.Hash,
		Key:       pos.e.Key,
		ModCount:  pos.modCount,
		Started:   true,
		Removable: true,
	}
	it.trusted = true
	return k, v, nil
}

// Remove deletes the entry returned by the last call of Next.
// It fails with ErrIllegalState if Next was not called or the entry was already removed
// by this iterator. An entry removed meanwhile by someone else is ignored.
func (it *Iterator[K, V]) Remove(tx *txn.Txn) error {
	if !it.state.Removable {
		return ErrIllegalState
	}
	h, err := it.m.header(tx)
	if err != nil {
		return err
	}
	leafID, leaf, _, err := it.resolve(tx, h)
	if err != nil {
		return err
	}

	b := slotIndex(it.state.Hash, leaf.Depth, h.leafBits())
	var prev *entry
	for cur := leaf.leaf.Buckets[b]; cur != 0; {
		e, err := getEntry(tx, cur)
		if err != nil {
			return err
		}
		if it.state.after(e) {
			break
		}
		if e.Hash == it.state.Hash && e.Key == it.state.Key {
			if err := unlink(tx, leaf, &match{bucket: b, prev: prev, id: cur, e: e}); err != nil {
				return err
			}
			break
		}
		prev, cur = e, e.Next
	}
	it.state.Leaf = leafID
	it.state.Removable = false
	it.trusted = true
	return nil
}

// KeyIterator iterates over the keys of a map, see Iterator
type KeyIterator[K comparable, V any] struct {
	it *Iterator[K, V]
}

// Keys returns an iterator over the keys of the map
func (m *ScalableHashMap[K, V]) Keys() *KeyIterator[K, V] {
	return &KeyIterator[K, V]{it: m.Iterator()}
}

func (ki *KeyIterator[K, V]) HasNext(tx *txn.Txn) (bool, error) { return ki.it.HasNext(tx) }

func (ki *KeyIterator[K, V]) Next(tx *txn.Txn) (K, error) {
	k, _, err := ki.it.Next(tx)
	return k, err
}

func (ki *KeyIterator[K, V]) Remove(tx *txn.Txn) error { return ki.it.Remove(tx) }

func (ki *KeyIterator[K, V]) State() IteratorState { return ki.it.State() }

// ValueIterator iterates over the values of a map, see Iterator
type ValueIterator[K comparable, V any] struct {
	it *Iterator[K, V]
}

// Values returns an iterator over the values of the map
func (m *ScalableHashMap[K, V]) Values() *ValueIterator[K, V] {
	return &ValueIterator[K, V]{it: m.Iterator()}
}

func (vi *ValueIterator[K, V]) HasNext(tx *txn.Txn) (bool, error) { return vi.it.HasNext(tx) }

func (vi *ValueIterator[K, V]) Next(tx *txn.Txn) (V, error) {
	_, v, err := vi.it.Next(tx)
	return v, err
}

func (vi *ValueIterator[K, V]) Remove(tx *txn.Txn) error { return vi.it.Remove(tx) }

func (vi *ValueIterator[K, V]) State() IteratorState { return vi.it.State() }
