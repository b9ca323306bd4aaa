package shm

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/db/engines/maple"
	"github.com/ValentinKolb/scoll/lib/scheduler"
	"github.com/ValentinKolb/scoll/lib/store/lstore"
	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) (*txn.Manager, *scheduler.TaskScheduler) {
	t.Helper()
	s := lstore.NewLocalStore(func() db.ObjectDB {
		return maple.NewMapleDB(&maple.DBOptions{NumShards: 4})
	})
	mgr := txn.NewManager(s, nil)
	sched := scheduler.NewTaskScheduler(mgr, &scheduler.Options{
		Workers:        2,
		ContinuePolicy: scheduler.UnitBudget(1),
		RetryDelay:     5 * time.Millisecond,
	})
	sched.Start()
	t.Cleanup(func() { _ = sched.Close() })
	return mgr, sched
}

// smallOptions makes maps split after a few insertions
func smallOptions(extra ...Option) []Option {
	return append([]Option{WithLeafCapacity(4), WithSplitThreshold(3), WithDirectorySize(4)}, extra...)
}

func run(t *testing.T, mgr *txn.Manager, fn func(tx *txn.Txn) error) {
	t.Helper()
	require.NoError(t, mgr.Transact(context.Background(), fn))
}

func newTestMap[K comparable, V any](t *testing.T, mgr *txn.Manager, sched scheduler.Scheduler, opts ...Option) *ScalableHashMap[K, V] {
	t.Helper()
	var m *ScalableHashMap[K, V]
	run(t, mgr, func(tx *txn.Txn) error {
		var err error
		m, err = New[K, V](tx, sched, opts...)
		return err
	})
	return m
}

func waitIdle(t *testing.T, sched *scheduler.TaskScheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sched.WaitIdle(ctx))
}

// checkTree verifies the structure of m and returns the number of entries:
// directory slots, bucket placement, chain order, entry counts, and the leaf list.
func checkTree[K comparable, V any](t *testing.T, tx *txn.Txn, m *ScalableHashMap[K, V]) int {
	t.Helper()
	h, err := m.header(tx)
	require.NoError(t, err)

	var leaves []txn.ObjectID
	entries := 0
	var walk func(id txn.ObjectID, n *node)
	walk = func(id txn.ObjectID, n *node) {
		if n.isLeaf() {
			leaves = append(leaves, id)
			require.LessOrEqual(t, n.Depth, uint32(32))
			count := 0
			for b, head := range n.leaf.Buckets {
				var prev *entry
				for cur := head; cur != 0; {
					e, err := getEntry(tx, cur)
					require.NoError(t, err)
					require.Equal(t, uint32(b), slotIndex(e.Hash, n.Depth, h.leafBits()), "entry %d is in the wrong bucket", cur)
					leafID, _, err := lookup(tx, h, e.Hash)
					require.NoError(t, err)
					require.Equal(t, id, leafID, "entry %d is not reachable by its hash", cur)
					if prev != nil {
						require.True(t, prev.before(e.Hash, e.Key), "chain of bucket %d in leaf %d is not ordered", b, id)
					}
					prev, cur = e, e.Next
					count++
				}
			}
			require.Equal(t, int(n.leaf.Count), count, "count of leaf %d", id)
			entries += count
			return
		}

		dirBits := h.dirBits()
		children := n.dir.Children
		for i := 0; i < len(children); {
			child, err := getNode(tx, children[i])
			require.NoError(t, err)
			require.Equal(t, id, child.Parent)
			require.Greater(t, child.Depth, n.Depth)
			require.LessOrEqual(t, child.Depth-n.Depth, dirBits)
			span := 1 << (dirBits - (child.Depth - n.Depth))
			require.Zero(t, i%span, "child %d is not aligned", children[i])
			for j := i; j < i+span; j++ {
				require.Equal(t, children[i], children[j], "slots of child %d are not contiguous", children[i])
			}
			walk(children[i], child)
			i += span
		}
	}
	root, err := getNode(tx, h.Root)
	require.NoError(t, err)
	require.Zero(t, root.Depth)
	walk(h.Root, root)

	var listed []txn.ObjectID
	prev := txn.ObjectID(0)
	require.NoError(t, m.forEachLeaf(tx, func(id txn.ObjectID, leaf *node) bool {
		require.Equal(t, prev, leaf.leaf.Left, "left link of leaf %d", id)
		listed = append(listed, id)
		prev = id
		return true
	}))
	require.Equal(t, leaves, listed, "leaf list does not follow the tree")
	return entries
}

// collectObjects returns the ids of all nodes, entries and boxes of m
func collectObjects[K comparable, V any](t *testing.T, tx *txn.Txn, m *ScalableHashMap[K, V], withRoot bool) []txn.ObjectID {
	t.Helper()
	h, err := m.header(tx)
	require.NoError(t, err)

	var ids []txn.ObjectID
	seen := map[txn.ObjectID]bool{}
	var walk func(id txn.ObjectID)
	walk = func(id txn.ObjectID) {
		if seen[id] {
			return
		}
		seen[id] = true
		if id != h.Root || withRoot {
			ids = append(ids, id)
		}
		n, err := getNode(tx, id)
		require.NoError(t, err)
		if !n.isLeaf() {
			for _, child := range n.dir.Children {
				walk(child)
			}
			return
		}
		for _, head := range n.leaf.Buckets {
			for cur := head; cur != 0; {
				e, err := getEntry(tx, cur)
				require.NoError(t, err)
				ids = append(ids, cur, e.Key, e.Value)
				cur = e.Next
			}
		}
	}
	walk(h.Root)
	return ids
}

func requireRemoved(t *testing.T, mgr *txn.Manager, ids []txn.ObjectID) {
	t.Helper()
	run(t, mgr, func(tx *txn.Txn) error {
		for _, id := range ids {
			_, err := tx.Get(id)
			require.ErrorIs(t, err, txn.ErrObjectNotFound, "object %d", id)
		}
		return nil
	})
}

// captureScheduler keeps scheduled tasks in memory so tests can step them by hand
type captureScheduler struct {
	tasks []scheduler.Task
}

func (c *captureScheduler) ScheduleTask(tx *txn.Txn, task scheduler.Task) error {
	c.tasks = append(c.tasks, task)
	return nil
}

func (c *captureScheduler) ScheduleDelayedTask(tx *txn.Txn, task scheduler.Task, _ time.Duration) error {
	return c.ScheduleTask(tx, task)
}
