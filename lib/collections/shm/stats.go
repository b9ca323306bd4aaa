package shm

import (
	"github.com/ValentinKolb/scoll/lib/db/util"
	"github.com/ValentinKolb/scoll/lib/txn"
)

// Stats describes the shape of a map
type Stats struct {
	Entries     int                    `json:"entries"`
	Leaves      int                    `json:"leaves"`
	Directories int                    `json:"directories"`
	MaxDepth    uint32                 `json:"max_depth"`  // largest leaf depth in hash bits
	MaxHeight   int                    `json:"max_height"` // most directories on a path from the root
	LeafFill    util.DistributionStats `json:"leaf_fill"`  // entries per leaf
}

// Stats walks the whole tree of the map. Like Size, it reads every node.
func (m *ScalableHashMap[K, V]) Stats(tx *txn.Txn) (Stats, error) {
	var s Stats
	h, err := m.header(tx)
	if err != nil {
		return s, err
	}

	var fill []float64
	var walk func(id txn.ObjectID, height int) error
	walk = func(id txn.ObjectID, height int) error {
		n, err := getNode(tx, id)
		if err != nil {
			return err
		}
		if n.isLeaf() {
			s.Leaves++
			s.Entries += int(n.leaf.Count)
			s.MaxDepth = max(s.MaxDepth, n.Depth)
			s.MaxHeight = max(s.MaxHeight, height)
			fill = append(fill, float64(n.leaf.Count))
			return nil
		}
		s.Directories++
		for i, child := range n.dir.Children {
			if i > 0 && n.dir.Children[i-1] == child {
				continue
			}
			if err := walk(child, height+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(h.Root, 0); err != nil {
		return s, err
	}
	s.LeafFill = util.NewDistributionStats(fill)
	return s, nil
}
