package shm

import (
	"encoding/binary"

	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/cockroachdb/errors"
)

// Object kinds of the map
const (
	KindHeader      = txn.KindUser
	KindNode        = txn.KindUser + 1
	KindEntry       = txn.KindUser + 2
	KindRemovalTask = txn.KindUser + 3
)

func init() {
	txn.RegisterKind(KindHeader, func() txn.Object { return &header{} })
	txn.RegisterKind(KindNode, func() txn.Object { return &node{} })
	txn.RegisterKind(KindEntry, func() txn.Object { return &entry{} })
	txn.RegisterKind(KindRemovalTask, func() txn.Object { return &removalTask{} })
}

// --------------------------------------------------------------------------
// Header
// --------------------------------------------------------------------------

// header is the object a map is identified by. It never changes after creation.
type header struct {
	Root           txn.ObjectID
	LeafCapacity   uint32
	SplitThreshold uint32
	DirectorySize  uint32
	MinDepth       uint32
	HashKey        [2]uint64
}

func (h *header) Kind() txn.Kind { return KindHeader }

func (h *header) leafBits() uint32 { return log2(h.LeafCapacity) }

func (h *header) dirBits() uint32 { return log2(h.DirectorySize) }

func (h *header) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 8+4*4+16)
	data = binary.BigEndian.AppendUint64(data, uint64(h.Root))
	data = binary.BigEndian.AppendUint32(data, h.LeafCapacity)
	data = binary.BigEndian.AppendUint32(data, h.SplitThreshold)
	data = binary.BigEndian.AppendUint32(data, h.DirectorySize)
	data = binary.BigEndian.AppendUint32(data, h.MinDepth)
	data = binary.BigEndian.AppendUint64(data, h.HashKey[0])
	data = binary.BigEndian.AppendUint64(data, h.HashKey[1])
	return data, nil
}

func (h *header) UnmarshalBinary(data []byte) error {
	d := &decoder{data: data}
	h.Root = txn.ObjectID(d.u64("root"))
	h.LeafCapacity = d.u32("leaf capacity")
	h.SplitThreshold = d.u32("split threshold")
	h.DirectorySize = d.u32("directory size")
	h.MinDepth = d.u32("min depth")
	h.HashKey[0] = d.u64("hash key")
	h.HashKey[1] = d.u64("hash key")
	return d.finish("header")
}

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

const (
	nodeTagLeaf byte = 1
	nodeTagDir  byte = 2
)

// node is either a leaf or a directory, exactly one of leaf and dir is set.
// Depth is the number of leading hash bits shared by all keys below the node.
type node struct {
	Depth    uint32
	Parent   txn.ObjectID // 0 for the root
	ModCount uint32       // only maintained on the root

	leaf *leafData
	dir  *dirData
}

// leafData holds the buckets of a leaf. Every bucket is the head of a chain of entries
// ordered by (hash, key id). Leaves are linked in ascending hash prefix order.
type leafData struct {
	Buckets []txn.ObjectID
	Count   uint32
	Left    txn.ObjectID
	Right   txn.ObjectID
}

// dirData holds the slots of a directory. A child of depth d occupies
// 2^(dirBits-(d-depth)) contiguous slots.
type dirData struct {
	Children []txn.ObjectID
}

func newLeaf(depth uint32, parent txn.ObjectID, capacity uint32) *node {
	return &node{
		Depth:  depth,
		Parent: parent,
		leaf:   &leafData{Buckets: make([]txn.ObjectID, capacity)},
	}
}

func newDir(depth uint32, parent txn.ObjectID, size uint32) *node {
	return &node{
		Depth:  depth,
		Parent: parent,
		dir:    &dirData{Children: make([]txn.ObjectID, size)},
	}
}

func (n *node) Kind() txn.Kind { return KindNode }

func (n *node) isLeaf() bool { return n.leaf != nil }

func (n *node) MarshalBinary() ([]byte, error) {
	var ids []txn.ObjectID
	var tag byte
	switch {
	case n.leaf != nil && n.dir == nil:
		tag, ids = nodeTagLeaf, n.leaf.Buckets
	case n.dir != nil && n.leaf == nil:
		tag, ids = nodeTagDir, n.dir.Children
	default:
		return nil, errors.AssertionFailedf("node must be either a leaf or a directory")
	}

	data := make([]byte, 0, 4+8+4+1+4+8*len(ids)+4+16)
	data = binary.BigEndian.AppendUint32(data, n.Depth)
	data = binary.BigEndian.AppendUint64(data, uint64(n.Parent))
	data = binary.BigEndian.AppendUint32(data, n.ModCount)
	data = append(data, tag)
	data = appendIDs(data, ids)
	if tag == nodeTagLeaf {
		data = binary.BigEndian.AppendUint32(data, n.leaf.Count)
		data = binary.BigEndian.AppendUint64(data, uint64(n.leaf.Left))
		data = binary.BigEndian.AppendUint64(data, uint64(n.leaf.Right))
	}
	return data, nil
}

func (n *node) UnmarshalBinary(data []byte) error {
	d := &decoder{data: data}
	n.Depth = d.u32("depth")
	n.Parent = txn.ObjectID(d.u64("parent"))
	n.ModCount = d.u32("mod count")
	n.leaf, n.dir = nil, nil
	switch tag := d.u8("node tag"); tag {
	case nodeTagLeaf:
		n.leaf = &leafData{Buckets: d.ids("buckets")}
		n.leaf.Count = d.u32("count")
		n.leaf.Left = txn.ObjectID(d.u64("left"))
		n.leaf.Right = txn.ObjectID(d.u64("right"))
	case nodeTagDir:
		n.dir = &dirData{Children: d.ids("children")}
	default:
		if d.err == nil {
			d.err = errors.Newf("unknown node tag %d", tag)
		}
	}
	return d.finish("node")
}

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// entry is one key value pair of the map. Key and Value are boxes, the id of the key
// box is the identity of the entry and orders entries with equal hashes.
type entry struct {
	Hash  uint32
	Key   txn.ObjectID
	Value txn.ObjectID
	Next  txn.ObjectID
}

func (e *entry) Kind() txn.Kind { return KindEntry }

// before reports whether e is ordered before (hash, key)
func (e *entry) before(hash uint32, key txn.ObjectID) bool {
	return e.Hash < hash || (e.Hash == hash && e.Key < key)
}

func (e *entry) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 4+3*8)
	data = binary.BigEndian.AppendUint32(data, e.Hash)
	data = binary.BigEndian.AppendUint64(data, uint64(e.Key))
	data = binary.BigEndian.AppendUint64(data, uint64(e.Value))
	data = binary.BigEndian.AppendUint64(data, uint64(e.Next))
	return data, nil
}

func (e *entry) UnmarshalBinary(data []byte) error {
	d := &decoder{data: data}
	e.Hash = d.u32("hash")
	e.Key = txn.ObjectID(d.u64("key"))
	e.Value = txn.ObjectID(d.u64("value"))
	e.Next = txn.ObjectID(d.u64("next"))
	return d.finish("entry")
}

// --------------------------------------------------------------------------
// Encoding helpers
// --------------------------------------------------------------------------

func appendIDs(dst []byte, ids []txn.ObjectID) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(ids)))
	for _, id := range ids {
		dst = binary.BigEndian.AppendUint64(dst, uint64(id))
	}
	return dst
}

// decoder reads big endian values and remembers the first error
type decoder struct {
	data []byte
	err  error
}

func (d *decoder) take(n int, what string) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.data) < n {
		d.err = errors.Newf("data too short for %s", what)
		return nil
	}
	out := d.data[:n]
	d.data = d.data[n:]
	return out
}

func (d *decoder) u64(what string) uint64 {
	if b := d.take(8, what); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) u32(what string) uint32 {
	if b := d.take(4, what); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u8(what string) byte {
	if b := d.take(1, what); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) ids(what string) []txn.ObjectID {
	n := int(d.u32(what + " count"))
	if d.err == nil && n*8 > len(d.data) {
		d.err = errors.Newf("invalid %s count %d", what, n)
	}
	if d.err != nil {
		return nil
	}
	ids := make([]txn.ObjectID, n)
	for i := range ids {
		ids[i] = txn.ObjectID(d.u64(what))
	}
	return ids
}

// finish returns the first error or an error for trailing bytes
func (d *decoder) finish(what string) error {
	if d.err != nil {
		return errors.Wrapf(d.err, "decode %s", what)
	}
	if len(d.data) != 0 {
		return errors.Newf("decode %s: %d trailing bytes", what, len(d.data))
	}
	return nil
}
