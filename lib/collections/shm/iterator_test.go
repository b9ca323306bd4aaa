package shm

import (
	"context"
	"testing"

	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// step runs one Next of it in its own transaction. It returns false at the end of the map.
func step(t *testing.T, mgr *txn.Manager, it *Iterator[int, int]) (int, bool) {
	t.Helper()
	var k int
	var end bool
	require.NoError(t, mgr.Transact(context.Background(), func(tx *txn.Txn) error {
		var err error
		k, _, err = it.Next(tx)
		if errors.Is(err, ErrNoSuchElement) {
			end = true
			return nil
		}
		return err
	}))
	return k, !end
}

func fill(t *testing.T, mgr *txn.Manager, m *ScalableHashMap[int, int], from, to int) {
	t.Helper()
	run(t, mgr, func(tx *txn.Txn) error {
		for i := from; i < to; i++ {
			if _, _, err := m.Put(tx, i, i); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestIteratorCompleteness(t *testing.T) {
	mgr, sched := newTestEnv(t)
	m := newTestMap[int, int](t, mgr, sched, WithLeafCapacity(8), WithSplitThreshold(6), WithDirectorySize(4))
	const n = 300
	fill(t, mgr, m, 0, n)

	run(t, mgr, func(tx *txn.Txn) error {
		seen := make(map[int]bool, n)
		var last IteratorState
		it := m.Iterator()
		for {
			has, err := it.HasNext(tx)
			require.NoError(t, err)
			if !has {
				break
			}
			k, v, err := it.Next(tx)
			require.NoError(t, err)
			require.Equal(t, k, v)
			require.False(t, seen[k], "key %d returned twice", k)
			seen[k] = true

			state := it.State()
			if last.Started {
				require.True(t, state.Hash > last.Hash || (state.Hash == last.Hash && state.Key > last.Key),
					"entries are not returned in hash order")
			}
			last = state
		}
		require.Len(t, seen, n)

		_, _, err := it.Next(tx)
		require.ErrorIs(t, err, ErrNoSuchElement)
		return nil
	})
}

func TestIteratorSurvivesSplits(t *testing.T) {
	mgr, sched := newTestEnv(t)
	m := newTestMap[int, int](t, mgr, sched, smallOptions()...)
	fill(t, mgr, m, 0, 50)

	it := m.Iterator()
	seen := map[int]bool{}
	next := 1000
	for steps := 0; ; steps++ {
		k, ok := step(t, mgr, it)
		if !ok {
			break
		}
		require.False(t, seen[k], "key %d returned twice", k)
		seen[k] = true

		// leaves split under the iterator
		if steps < 30 {
			fill(t, mgr, m, next, next+5)
			next += 5
		}
	}
	for i := 0; i < 50; i++ {
		require.True(t, seen[i], "key %d was present during the whole iteration", i)
	}
}

func TestIteratorAfterClear(t *testing.T) {
	mgr, sched := newTestEnv(t)
	m := newTestMap[int, int](t, mgr, sched, smallOptions()...)
	fill(t, mgr, m, 0, 20)

	it := m.Iterator()
	_, ok := step(t, mgr, it)
	require.True(t, ok)

	run(t, mgr, func(tx *txn.Txn) error { return m.Clear(tx) })
	_, ok = step(t, mgr, it)
	require.False(t, ok)
	waitIdle(t, sched)
}

func TestIteratorRemove(t *testing.T) {
	mgr, sched := newTestEnv(t)
	m := newTestMap[int, int](t, mgr, sched, smallOptions()...)
	fill(t, mgr, m, 0, 30)

	run(t, mgr, func(tx *txn.Txn) error {
		it := m.Iterator()
		require.ErrorIs(t, it.Remove(tx), ErrIllegalState)

		removed := 0
		for {
			k, _, err := it.Next(tx)
			if errors.Is(err, ErrNoSuchElement) {
				break
			}
			require.NoError(t, err)
			if k%2 == 0 {
				require.NoError(t, it.Remove(tx))
				require.ErrorIs(t, it.Remove(tx), ErrIllegalState)
				removed++
			}
		}
		require.Equal(t, 15, removed)
		return nil
	})

	run(t, mgr, func(tx *txn.Txn) error {
		require.Equal(t, 15, checkTree(t, tx, m))
		for i := 0; i < 30; i++ {
			has, err := m.ContainsKey(tx, i)
			require.NoError(t, err)
			require.Equal(t, i%2 == 1, has, "key %d", i)
		}
		return nil
	})
}

func TestIteratorRemoveAcrossTransactions(t *testing.T) {
	mgr, sched := newTestEnv(t)
	m := newTestMap[int, int](t, mgr, sched, smallOptions()...)
	fill(t, mgr, m, 0, 25)

	it := m.Iterator()
	for {
		if _, ok := step(t, mgr, it); !ok {
			break
		}
		run(t, mgr, func(tx *txn.Txn) error { return it.Remove(tx) })
	}
	run(t, mgr, func(tx *txn.Txn) error {
		empty, err := m.IsEmpty(tx)
		require.True(t, empty)
		return err
	})
}

func TestResumeIterator(t *testing.T) {
	mgr, sched := newTestEnv(t)
	m := newTestMap[int, int](t, mgr, sched, smallOptions()...)
	fill(t, mgr, m, 0, 40)

	seen := map[int]bool{}
	var cursor []byte
	for {
		var state IteratorState
		if cursor != nil {
			require.NoError(t, state.UnmarshalBinary(cursor))
		}
		it, err := ResumeIterator(Open[int, int](m.ID(), sched), state)
		require.NoError(t, err)
		k, ok := step(t, mgr, it)
		if !ok {
			break
		}
		require.False(t, seen[k])
		seen[k] = true

		cursor, err = it.State().MarshalBinary()
		require.NoError(t, err)
	}
	require.Len(t, seen, 40)

	var state IteratorState
	require.ErrorIs(t, state.UnmarshalBinary([]byte{9}), ErrIllegalArgument)
	require.ErrorIs(t, state.UnmarshalBinary(cursor[:len(cursor)-1]), ErrIllegalArgument)
}

func TestResumeIteratorOfOtherMap(t *testing.T) {
	mgr, sched := newTestEnv(t)
	a := newTestMap[int, int](t, mgr, sched, smallOptions()...)
	b := newTestMap[int, int](t, mgr, sched, smallOptions()...)
	fill(t, mgr, a, 0, 5)
	fill(t, mgr, b, 100, 105)

	itA := a.Iterator()
	_, ok := step(t, mgr, itA)
	require.True(t, ok)
	stateA := itA.State()
	require.Equal(t, a.ID(), stateA.Map)

	_, err := ResumeIterator(b, stateA)
	require.ErrorIs(t, err, ErrIllegalArgument)

	// an unstarted state starts at the beginning of any map
	it, err := ResumeIterator(b, IteratorState{})
	require.NoError(t, err)
	k, ok := step(t, mgr, it)
	require.True(t, ok)
	require.GreaterOrEqual(t, k, 100)

	itB := b.Iterator()
	first, ok := step(t, mgr, itB)
	require.True(t, ok)
	stateB := itB.State()

	tests := map[string]txn.ObjectID{
		"leaf of other map": stateA.Leaf,
		"key box":           stateB.Key,
		"missing object":    stateB.Key + 1<<40,
	}
	for name, leaf := range tests {
		t.Run(name, func(t *testing.T) {
			forged := stateB
			forged.Leaf = leaf
			it, err := ResumeIterator(b, forged)
			require.NoError(t, err)

			seen := map[int]bool{first: true}
			for {
				k, ok := step(t, mgr, it)
				if !ok {
					break
				}
				require.True(t, k >= 100 && k < 105, "key %d is not in the map", k)
				require.False(t, seen[k])
				seen[k] = true
			}
			require.Len(t, seen, 5)
		})
	}
}

func TestKeyAndValueIterators(t *testing.T) {
	mgr, sched := newTestEnv(t)
	m := newTestMap[int, int](t, mgr, sched, smallOptions()...)
	run(t, mgr, func(tx *txn.Txn) error {
		for i := 0; i < 10; i++ {
			if _, _, err := m.Put(tx, i, 100+i); err != nil {
				return err
			}
		}
		return nil
	})

	run(t, mgr, func(tx *txn.Txn) error {
		keys, values := m.Keys(), m.Values()
		sumKeys, sumValues := 0, 0
		for {
			has, err := keys.HasNext(tx)
			require.NoError(t, err)
			if !has {
				break
			}
			k, err := keys.Next(tx)
			require.NoError(t, err)
			v, err := values.Next(tx)
			require.NoError(t, err)
			require.Equal(t, 100+k, v, "both iterators walk the same order")
			sumKeys += k
			sumValues += v
		}
		require.Equal(t, 45, sumKeys)
		require.Equal(t, 1045, sumValues)
		require.Equal(t, keys.State(), values.State())
		return nil
	})
}
