package shm

import (
	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/cockroachdb/errors"
)

// initTree resets root to the structure of a new map: a single leaf, or directories
// with leaves of depth MinDepth if the map was created with a minimum concurrency.
// Fresh leaf and directory data is assigned, the previous content of root is not modified.
func initTree(tx *txn.Txn, h *header, rootID txn.ObjectID, root *node) error {
	root.Depth = 0
	root.Parent = 0
	root.leaf, root.dir = nil, nil
	if h.MinDepth == 0 {
		root.leaf = &leafData{Buckets: make([]txn.ObjectID, h.LeafCapacity)}
		return nil
	}

	var leaves []*node
	var ids []txn.ObjectID
	var fill func(id txn.ObjectID, n *node) error
	fill = func(id txn.ObjectID, n *node) error {
		dirBits := h.dirBits()
		n.dir = &dirData{Children: make([]txn.ObjectID, h.DirectorySize)}

		if remaining := h.MinDepth - n.Depth; remaining <= dirBits {
			span := uint32(1) << (dirBits - remaining)
			for slot := uint32(0); slot < h.DirectorySize; slot += span {
				leaf := newLeaf(h.MinDepth, id, h.LeafCapacity)
				leafID, err := tx.Create(leaf)
				if err != nil {
					return err
				}
				for i := slot; i < slot+span; i++ {
					n.dir.Children[i] = leafID
				}
				leaves = append(leaves, leaf)
				ids = append(ids, leafID)
			}
			return nil
		}

		for slot := range n.dir.Children {
			child := &node{Depth: n.Depth + dirBits, Parent: id}
			childID, err := tx.Create(child)
			if err != nil {
				return err
			}
			n.dir.Children[slot] = childID
			if err := fill(childID, child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := fill(rootID, root); err != nil {
		return err
	}

	// leaves were created in hash prefix order
	for i, leaf := range leaves {
		if i > 0 {
			leaf.leaf.Left = ids[i-1]
		}
		if i < len(leaves)-1 {
			leaf.leaf.Right = ids[i+1]
		}
	}
	return nil
}

// split replaces the leaf oldID by two leaves of depth+1. hash is the hash of any key
// of the leaf. The entries keep their order, every bucket chain of the old leaf is
// divided at one point between two buckets of a new leaf.
//
// If the leaf is the root, has the minimum depth, or its parent cannot address one more
// bit, the leaf object turns into a directory of the two new leaves. Otherwise the parent
// points the slots of the old leaf to the new leaves and the old leaf is removed.
func split(tx *txn.Txn, h *header, oldID txn.ObjectID, old *node, hash uint32) error {
	depth := old.Depth
	dirBits := h.dirBits()
	leafBits := h.leafBits()

	var parent *node
	convert := oldID == h.Root || old.Parent == 0 || depth == h.MinDepth
	if !convert {
		var err error
		if parent, err = getNode(tx, old.Parent); err != nil {
			return err
		}
		if parent.isLeaf() {
			return errors.AssertionFailedf("parent %d of leaf %d is a leaf", old.Parent, oldID)
		}
		convert = depth-parent.Depth >= dirBits
	}

	left := newLeaf(depth+1, 0, h.LeafCapacity)
	right := newLeaf(depth+1, 0, h.LeafCapacity)
	leftID, err := tx.Create(left)
	if err != nil {
		return err
	}
	rightID, err := tx.Create(right)
	if err != nil {
		return err
	}

	// redistribute the entries in order, appending to the tails of the new chains
	leftTails := make([]*entry, h.LeafCapacity)
	rightTails := make([]*entry, h.LeafCapacity)
	for _, head := range old.leaf.Buckets {
		for cur := head; cur != 0; {
			e, err := getEntry(tx, cur)
			if err != nil {
				return err
			}
			next := e.Next

			target, tails := left, leftTails
			if hashBit(e.Hash, depth) == 1 {
				target, tails = right, rightTails
			}
			b := slotIndex(e.Hash, depth+1, leafBits)
			if tail := tails[b]; tail == nil {
				target.leaf.Buckets[b] = cur
			} else if err := setNext(tx, tail, cur); err != nil {
				return err
			}
			tails[b] = e
			target.leaf.Count++
			cur = next
		}
	}
	for _, tails := range [][]*entry{leftTails, rightTails} {
		for _, tail := range tails {
			if tail == nil {
				continue
			}
			if err := setNext(tx, tail, 0); err != nil {
				return err
			}
		}
	}

	// replace the old leaf in the leaf list
	left.leaf.Left, left.leaf.Right = old.leaf.Left, rightID
	right.leaf.Left, right.leaf.Right = leftID, old.leaf.Right
	if old.leaf.Left != 0 {
		n, err := getLeaf(tx, old.leaf.Left)
		if err != nil {
			return err
		}
		n.leaf.Right = leftID
		if err := tx.MarkForUpdate(n); err != nil {
			return err
		}
	}
	if old.leaf.Right != 0 {
		n, err := getLeaf(tx, old.leaf.Right)
		if err != nil {
			return err
		}
		n.leaf.Left = rightID
		if err := tx.MarkForUpdate(n); err != nil {
			return err
		}
	}

	if convert {
		left.Parent, right.Parent = oldID, oldID
		old.leaf = nil
		old.dir = &dirData{Children: make([]txn.ObjectID, h.DirectorySize)}
		half := h.DirectorySize / 2
		for i := range old.dir.Children {
			if uint32(i) < half {
				old.dir.Children[i] = leftID
			} else {
				old.dir.Children[i] = rightID
			}
		}
		log.Debugf("leaf %d at depth %d turned into a directory", oldID, depth)
		return tx.MarkForUpdate(old)
	}

	left.Parent, right.Parent = old.Parent, old.Parent
	span := uint32(1) << (dirBits - (depth - parent.Depth))
	start := slotIndex(hash, parent.Depth, dirBits) &^ (span - 1)
	for i := start; i < start+span; i++ {
		if i < start+span/2 {
			parent.dir.Children[i] = leftID
		} else {
			parent.dir.Children[i] = rightID
		}
	}
	if err := tx.MarkForUpdate(parent); err != nil {
		return err
	}
	return tx.Remove(oldID)
}

// setNext changes the successor of e, e is only written if the successor changed
func setNext(tx *txn.Txn, e *entry, next txn.ObjectID) error {
	if e.Next == next {
		return nil
	}
	e.Next = next
	return tx.MarkForUpdate(e)
}
