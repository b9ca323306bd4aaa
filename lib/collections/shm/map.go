package shm

import (
	"bytes"
	"sync/atomic"

	"github.com/ValentinKolb/scoll/lib/db/util"
	"github.com/ValentinKolb/scoll/lib/scheduler"
	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/cockroachdb/errors"
	"github.com/dchest/siphash"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("shm")

// ScalableHashMap is a persistent hash map made of many small objects, so that
// transactions touching different keys rarely conflict.
//
// The map is a tree of directories with leaves at the bottom (extendible hashing).
// A leaf holds a fixed number of buckets, every bucket is a chain of entries ordered
// by hash and key identity. A leaf splits into two leaves when it holds more than
// SplitThreshold entries. Clearing and destroying the map detach the tree and remove
// it in the background with a removal task.
//
// A ScalableHashMap is only a handle, all state lives in the store. Every operation
// takes the transaction it runs in.
//
// Thread-safety: A handle is safe for concurrent use with different transactions.
type ScalableHashMap[K comparable, V any] struct {
	id     txn.ObjectID
	sched  scheduler.Scheduler
	opts   options
	hasher func(K) uint32 // nil = siphash of the encoded key
	err    error          // invalid options passed to Open

	hdr atomic.Pointer[header] // the header is immutable, it is cached after the first read
}

// New creates an empty map in tx. sched runs the removal tasks of Clear and Destroy.
func New[K comparable, V any](tx *txn.Txn, sched scheduler.Scheduler, opts ...Option) (*ScalableHashMap[K, V], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	hasher, err := hasherOf[K](&o)
	if err != nil {
		return nil, err
	}

	h := &header{
		LeafCapacity:   uint32(o.leafCapacity),
		SplitThreshold: uint32(o.splitThreshold),
		DirectorySize:  uint32(o.directorySize),
		MinDepth:       o.minDepth(),
		HashKey:        util.GenerateHashKey(),
	}
	root := &node{}
	rootID, err := tx.Create(root)
	if err != nil {
		return nil, err
	}
	if err := initTree(tx, h, rootID, root); err != nil {
		return nil, err
	}
	h.Root = rootID
	id, err := tx.Create(h)
	if err != nil {
		return nil, err
	}

	m := &ScalableHashMap[K, V]{id: id, sched: sched, opts: o, hasher: hasher}
	cached := *h
	m.hdr.Store(&cached)
	log.Debugf("created map %d (leaf capacity %d, directory size %d, min depth %d)", id, h.LeafCapacity, h.DirectorySize, h.MinDepth)
	return m, nil
}

// Open returns a handle for the map id. Only the hasher and codec options are used,
// they must be the same as the ones the map was created with.
// Invalid options are reported by the first operation.
func Open[K comparable, V any](id txn.ObjectID, sched scheduler.Scheduler, opts ...Option) *ScalableHashMap[K, V] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	m := &ScalableHashMap[K, V]{id: id, sched: sched, opts: o}
	if err := o.validateCodecs(); err != nil {
		m.err = err
		return m
	}
	m.hasher, m.err = hasherOf[K](&o)
	return m
}

func hasherOf[K comparable](o *options) (func(K) uint32, error) {
	if o.hasher == nil {
		return nil, nil
	}
	hasher, ok := o.hasher.(func(K) uint32)
	if !ok {
		var zero K
		return nil, errors.Wrapf(ErrIllegalArgument, "hasher of type %T does not match key type %T", o.hasher, zero)
	}
	return hasher, nil
}

// ID returns the id of the map, it can be bound to a name or stored in other objects
func (m *ScalableHashMap[K, V]) ID() txn.ObjectID {
	return m.id
}

func (m *ScalableHashMap[K, V]) header(tx *txn.Txn) (*header, error) {
	if m.err != nil {
		return nil, m.err
	}
	if h := m.hdr.Load(); h != nil {
		return h, nil
	}
	h, err := txn.NewRef[*header](m.id).Get(tx)
	if err != nil {
		return nil, errors.Wrapf(err, "map %d", m.id)
	}
	cached := *h
	m.hdr.Store(&cached)
	return &cached, nil
}

// --------------------------------------------------------------------------
// Hashing and lookup
// --------------------------------------------------------------------------

func (m *ScalableHashMap[K, V]) encodeKey(key K) ([]byte, error) {
	data, err := m.opts.keyCodec.Encode(key)
	if err != nil {
		return nil, errors.Wrapf(ErrIllegalArgument, "key: %v", err)
	}
	return data, nil
}

func (m *ScalableHashMap[K, V]) encodeValue(value V) ([]byte, error) {
	data, err := m.opts.valueCodec.Encode(value)
	if err != nil {
		return nil, errors.Wrapf(ErrIllegalArgument, "value: %v", err)
	}
	return data, nil
}

// hash returns the mixed hash of a key, its high bits select directory slots and buckets
func (m *ScalableHashMap[K, V]) hash(h *header, key K, encoded []byte) uint32 {
	var raw uint32
	if m.hasher != nil {
		raw = m.hasher(key)
	} else {
		raw = util.Fold32(siphash.Hash(h.HashKey[0], h.HashKey[1], encoded))
	}
	return util.Spread32(raw)
}

// slotIndex returns the index selected by the bits [depth, depth+bits) of hash
func slotIndex(hash, depth, bits uint32) uint32 {
	return (hash << depth) >> (32 - bits)
}

// hashBit returns the bit of hash at position depth (counted from the most significant bit)
func hashBit(hash, depth uint32) uint32 {
	return (hash << depth) >> 31
}

func getNode(tx *txn.Txn, id txn.ObjectID) (*node, error) {
	n, err := txn.NewRef[*node](id).Get(tx)
	if err != nil {
		return nil, errors.Wrapf(err, "node %d", id)
	}
	return n, nil
}

func getLeaf(tx *txn.Txn, id txn.ObjectID) (*node, error) {
	n, err := getNode(tx, id)
	if err != nil {
		return nil, err
	}
	if !n.isLeaf() {
		return nil, errors.AssertionFailedf("node %d is not a leaf", id)
	}
	return n, nil
}

func getEntry(tx *txn.Txn, id txn.ObjectID) (*entry, error) {
	e, err := txn.NewRef[*entry](id).Get(tx)
	if err != nil {
		return nil, errors.Wrapf(err, "entry %d", id)
	}
	return e, nil
}

// lookup returns the leaf responsible for hash
func lookup(tx *txn.Txn, h *header, hash uint32) (txn.ObjectID, *node, error) {
	id := h.Root
	for {
		n, err := getNode(tx, id)
		if err != nil {
			return 0, nil, err
		}
		if n.isLeaf() {
			return id, n, nil
		}
		id = n.dir.Children[slotIndex(hash, n.Depth, h.dirBits())]
	}
}

// keyEquals compares the key box id with an encoded key
func keyEquals(tx *txn.Txn, id txn.ObjectID, encoded []byte) (bool, error) {
	box, err := txn.NewRef[*txn.Box](id).Get(tx)
	if err != nil {
		return false, errors.Wrapf(err, "key %d", id)
	}
	return bytes.Equal(box.Data, encoded), nil
}

// match is an entry found in a bucket chain
type match struct {
	bucket uint32
	prev   *entry // nil if the entry is the head of the chain
	id     txn.ObjectID
	e      *entry
}

// findEntry scans the bucket of hash for the entry of the encoded key.
// The scan stops at the first entry with a greater hash. It returns nil if there is no entry.
func findEntry(tx *txn.Txn, h *header, leaf *node, hash uint32, encoded []byte) (*match, error) {
	b := slotIndex(hash, leaf.Depth, h.leafBits())
	var prev *entry
	for cur := leaf.leaf.Buckets[b]; cur != 0; {
		e, err := getEntry(tx, cur)
		if err != nil {
			return nil, err
		}
		if e.Hash > hash {
			break
		}
		if e.Hash == hash {
			eq, err := keyEquals(tx, e.Key, encoded)
			if err != nil {
				return nil, err
			}
			if eq {
				return &match{bucket: b, prev: prev, id: cur, e: e}, nil
			}
		}
		prev, cur = e, e.Next
	}
	return nil, nil
}

// loadValue decodes the value box id. A value box that vanished is reported as absent.
func (m *ScalableHashMap[K, V]) loadValue(tx *txn.Txn, id txn.ObjectID) (V, bool, error) {
	var v V
	box, err := txn.NewRef[*txn.Box](id).Get(tx)
	if errors.Is(err, txn.ErrObjectNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, errors.Wrapf(err, "value %d", id)
	}
	if err := m.opts.valueCodec.Decode(box.Data, &v); err != nil {
		return v, false, errors.Wrapf(err, "value %d", id)
	}
	return v, true, nil
}

func (m *ScalableHashMap[K, V]) loadKey(tx *txn.Txn, id txn.ObjectID) (K, error) {
	var k K
	if err := txn.UnboxValue(tx, m.opts.keyCodec, id, &k); err != nil {
		return k, errors.Wrapf(err, "key %d", id)
	}
	return k, nil
}

// removeIfExists removes the object id, objects that are already gone are ignored
func removeIfExists(tx *txn.Txn, id txn.ObjectID) error {
	if id == 0 {
		return nil
	}
	if err := tx.Remove(id); err != nil && !errors.Is(err, txn.ErrObjectNotFound) {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Map operations
// --------------------------------------------------------------------------

// Get returns the value of key
func (m *ScalableHashMap[K, V]) Get(tx *txn.Txn, key K) (V, bool, error) {
	var zero V
	h, err := m.header(tx)
	if err != nil {
		return zero, false, err
	}
	encoded, err := m.encodeKey(key)
	if err != nil {
		return zero, false, err
	}
	hash := m.hash(h, key, encoded)

	_, leaf, err := lookup(tx, h, hash)
	if err != nil {
		return zero, false, err
	}
	found, err := findEntry(tx, h, leaf, hash, encoded)
	if err != nil || found == nil {
		return zero, false, err
	}
	return m.loadValue(tx, found.e.Value)
}

// ContainsKey reports whether the map holds key
func (m *ScalableHashMap[K, V]) ContainsKey(tx *txn.Txn, key K) (bool, error) {
	_, ok, err := m.Get(tx, key)
	return ok, err
}

// Put sets the value of key. It returns the previous value if the key was present.
// Keys and values that cannot be encoded fail with ErrIllegalArgument.
func (m *ScalableHashMap[K, V]) Put(tx *txn.Txn, key K, value V) (V, bool, error) {
	var zero V
	h, err := m.header(tx)
	if err != nil {
		return zero, false, err
	}
	encodedKey, err := m.encodeKey(key)
	if err != nil {
		return zero, false, err
	}
	encodedValue, err := m.encodeValue(value)
	if err != nil {
		return zero, false, err
	}
	hash := m.hash(h, key, encodedKey)

	leafID, leaf, err := lookup(tx, h, hash)
	if err != nil {
		return zero, false, err
	}
	found, err := findEntry(tx, h, leaf, hash, encodedKey)
	if err != nil {
		return zero, false, err
	}

	if found != nil {
		old, _, err := m.loadValue(tx, found.e.Value)
		if err != nil {
			return zero, false, err
		}
		box, err := txn.NewRef[*txn.Box](found.e.Value).GetForUpdate(tx)
		if err != nil {
			return zero, false, errors.Wrapf(err, "value %d", found.e.Value)
		}
		box.Data = encodedValue
		return old, true, nil
	}

	keyID, err := tx.Create(&txn.Box{Data: encodedKey})
	if err != nil {
		return zero, false, err
	}
	valueID, err := tx.Create(&txn.Box{Data: encodedValue})
	if err != nil {
		return zero, false, err
	}
	e := &entry{Hash: hash, Key: keyID, Value: valueID}
	entryID, err := tx.Create(e)
	if err != nil {
		return zero, false, err
	}
	if err := tx.MarkForUpdate(leaf); err != nil {
		return zero, false, err
	}
	if err := link(tx, h, leaf, entryID, e); err != nil {
		return zero, false, err
	}
	leaf.leaf.Count++

	if leaf.leaf.Count > h.SplitThreshold && leaf.Depth < 32 {
		if err := split(tx, h, leafID, leaf, hash); err != nil {
			return zero, false, err
		}
	}
	return zero, false, nil
}

// link inserts e into its bucket chain in (hash, key id) order. The leaf must be marked for update.
func link(tx *txn.Txn, h *header, leaf *node, id txn.ObjectID, e *entry) error {
	b := slotIndex(e.Hash, leaf.Depth, h.leafBits())
	var prev *entry
	cur := leaf.leaf.Buckets[b]
	for cur != 0 {
		ce, err := getEntry(tx, cur)
		if err != nil {
			return err
		}
		if !ce.before(e.Hash, e.Key) {
			break
		}
		prev, cur = ce, ce.Next
	}
	e.Next = cur
	if prev == nil {
		leaf.leaf.Buckets[b] = id
		return nil
	}
	prev.Next = id
	return tx.MarkForUpdate(prev)
}

// unlink removes a found entry with its key and value box from leaf
func unlink(tx *txn.Txn, leaf *node, found *match) error {
	if err := tx.MarkForUpdate(leaf); err != nil {
		return err
	}
	if found.prev == nil {
		leaf.leaf.Buckets[found.bucket] = found.e.Next
	} else {
		found.prev.Next = found.e.Next
		if err := tx.MarkForUpdate(found.prev); err != nil {
			return err
		}
	}
	if leaf.leaf.Count > 0 {
		leaf.leaf.Count--
	}
	if err := removeIfExists(tx, found.e.Key); err != nil {
		return err
	}
	if err := removeIfExists(tx, found.e.Value); err != nil {
		return err
	}
	return tx.Remove(found.id)
}

// Remove deletes key from the map. It returns the removed value if the key was present.
// Leaves are never merged, an emptied leaf stays in the tree.
func (m *ScalableHashMap[K, V]) Remove(tx *txn.Txn, key K) (V, bool, error) {
	var zero V
	h, err := m.header(tx)
	if err != nil {
		return zero, false, err
	}
	encoded, err := m.encodeKey(key)
	if err != nil {
		return zero, false, err
	}
	hash := m.hash(h, key, encoded)

	_, leaf, err := lookup(tx, h, hash)
	if err != nil {
		return zero, false, err
	}
	found, err := findEntry(tx, h, leaf, hash, encoded)
	if err != nil || found == nil {
		return zero, false, err
	}
	old, _, err := m.loadValue(tx, found.e.Value)
	if err != nil {
		return zero, false, err
	}
	if err := unlink(tx, leaf, found); err != nil {
		return zero, false, err
	}
	return old, true, nil
}

// forEachLeaf calls fn for every leaf in hash order until fn returns false
func (m *ScalableHashMap[K, V]) forEachLeaf(tx *txn.Txn, fn func(id txn.ObjectID, leaf *node) bool) error {
	h, err := m.header(tx)
	if err != nil {
		return err
	}
	id, leaf, err := lookup(tx, h, 0)
	if err != nil {
		return err
	}
	for fn(id, leaf) && leaf.leaf.Right != 0 {
		id = leaf.leaf.Right
		if leaf, err = getLeaf(tx, id); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the number of entries. It reads every leaf of the map and therefore
// conflicts with every concurrent insertion or removal.
func (m *ScalableHashMap[K, V]) Size(tx *txn.Txn) (int, error) {
	size := 0
	err := m.forEachLeaf(tx, func(_ txn.ObjectID, leaf *node) bool {
		size += int(leaf.leaf.Count)
		return true
	})
	return size, err
}

// IsEmpty reports whether the map has no entries. It reads leaves until it finds a non empty one.
func (m *ScalableHashMap[K, V]) IsEmpty(tx *txn.Txn) (bool, error) {
	empty := true
	err := m.forEachLeaf(tx, func(_ txn.ObjectID, leaf *node) bool {
		empty = leaf.leaf.Count == 0
		return empty
	})
	return empty, err
}

// Clear removes all entries. The content of the root is moved into a new node that
// is removed by a background task, so Clear only touches a bounded number of objects.
// Clearing an empty map that was never split beyond its initial structure does nothing.
func (m *ScalableHashMap[K, V]) Clear(tx *txn.Txn) error {
	h, err := m.header(tx)
	if err != nil {
		return err
	}
	root, err := getNode(tx, h.Root)
	if err != nil {
		return err
	}
	if root.isLeaf() && root.leaf.Count == 0 {
		return nil
	}
	if !root.isLeaf() && h.MinDepth > 0 {
		// at most 2^MinDepth leaves are read before the walk stops
		initial := true
		err := m.forEachLeaf(tx, func(_ txn.ObjectID, leaf *node) bool {
			initial = leaf.Depth == h.MinDepth && leaf.leaf.Count == 0
			return initial
		})
		if err != nil {
			return err
		}
		if initial {
			return nil
		}
	}

	detachedID, err := detach(tx, root)
	if err != nil {
		return err
	}
	if err := tx.MarkForUpdate(root); err != nil {
		return err
	}
	root.ModCount++
	if err := initTree(tx, h, h.Root, root); err != nil {
		return err
	}
	log.Debugf("cleared map %d, removing node %d in the background", m.id, detachedID)
	return m.sched.ScheduleTask(tx, newRemovalTask(detachedID))
}

// Destroy removes the map. The tree is removed by a background task, the handle must
// not be used afterwards.
func (m *ScalableHashMap[K, V]) Destroy(tx *txn.Txn) error {
	h, err := m.header(tx)
	if err != nil {
		return err
	}
	root, err := getNode(tx, h.Root)
	if err != nil {
		return err
	}
	if err := tx.Remove(m.id); err != nil {
		return errors.Wrapf(err, "map %d", m.id)
	}
	m.hdr.Store(nil)

	if root.isLeaf() && root.leaf.Count == 0 {
		return tx.Remove(h.Root)
	}
	detachedID, err := detach(tx, root)
	if err != nil {
		return err
	}
	if err := tx.Remove(h.Root); err != nil {
		return err
	}
	log.Debugf("destroyed map %d, removing node %d in the background", m.id, detachedID)
	return m.sched.ScheduleTask(tx, newRemovalTask(detachedID))
}

// detach moves the content of the root into a new node and returns its id
func detach(tx *txn.Txn, root *node) (txn.ObjectID, error) {
	return tx.Create(&node{Depth: root.Depth, leaf: root.leaf, dir: root.dir})
}

// Range calls fn for every entry in iteration order until fn returns false
func (m *ScalableHashMap[K, V]) Range(tx *txn.Txn, fn func(K, V) bool) error {
	it := m.Iterator()
	for {
		k, v, err := it.Next(tx)
		if errors.Is(err, ErrNoSuchElement) {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(k, v) {
			return nil
		}
	}
}
