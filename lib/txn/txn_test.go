package txn

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/ValentinKolb/scoll/lib/codec"
	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/db/engines/maple"
	"github.com/ValentinKolb/scoll/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

const kindCounter = KindUser + 184

type counter struct {
	Value uint64
}

func (c *counter) Kind() Kind { return kindCounter }

func (c *counter) MarshalBinary() ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, c.Value), nil
}

func (c *counter) UnmarshalBinary(data []byte) error {
	if len(data) != 8 {
		return errors.Newf("invalid counter length %d", len(data))
	}
	c.Value = binary.BigEndian.Uint64(data)
	return nil
}

func init() {
	RegisterKind(kindCounter, func() Object { return &counter{} })
}

func newTestManager(t *testing.T, opts *Options) *Manager {
	t.Helper()
	s := lstore.NewLocalStore(func() db.ObjectDB {
		return maple.NewMapleDB(&maple.DBOptions{NumShards: 2, TombstoneRetention: 4})
	})
	return NewManager(s, opts)
}

func createCounter(t *testing.T, mgr *Manager, name string, value uint64) ObjectID {
	t.Helper()
	var id ObjectID
	require.NoError(t, mgr.Transact(context.Background(), func(tx *Txn) error {
		var err error
		id, err = tx.Create(&counter{Value: value})
		if err != nil {
			return err
		}
		return tx.SetBinding(name, id)
	}))
	return id
}

func TestCreateGetRemove(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()
	id := createCounter(t, mgr, "c", 7)

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		bound, err := tx.Binding("c")
		require.NoError(t, err)
		require.Equal(t, id, bound)

		c, err := NewRef[*counter](id).Get(tx)
		require.NoError(t, err)
		require.Equal(t, uint64(7), c.Value)

		again, err := tx.Get(id)
		require.NoError(t, err)
		require.Same(t, c, again.(*counter), "identity map must return the same instance")
		return nil
	}))

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		if err := tx.Remove(id); err != nil {
			return err
		}
		return tx.RemoveBinding("c")
	}))

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		_, err := tx.Get(id)
		require.ErrorIs(t, err, ErrObjectNotFound)
		_, err = tx.Binding("c")
		require.ErrorIs(t, err, ErrNameNotBound)
		return nil
	}))
}

func TestMarkForUpdate(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()
	id := createCounter(t, mgr, "c", 1)

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		c, err := NewRef[*counter](id).Get(tx)
		if err != nil {
			return err
		}
		c.Value = 2
		return tx.MarkForUpdate(c)
	}))

	// changes without marking are not written
	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		c, err := NewRef[*counter](id).Get(tx)
		if err != nil {
			return err
		}
		require.Equal(t, uint64(2), c.Value)
		c.Value = 100
		return nil
	}))

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		c, err := NewRef[*counter](id).Get(tx)
		require.NoError(t, err)
		require.Equal(t, uint64(2), c.Value)

		require.Error(t, tx.MarkForUpdate(&counter{}), "foreign objects cannot be marked")
		return nil
	}))
}

func TestSnapshotConflict(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()
	id := createCounter(t, mgr, "c", 1)

	old, err := mgr.Begin()
	require.NoError(t, err)

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		c, err := NewRef[*counter](id).GetForUpdate(tx)
		if err != nil {
			return err
		}
		c.Value++
		return nil
	}))

	_, err = old.Get(id)
	require.ErrorIs(t, err, ErrConflict, "objects newer than the snapshot must conflict")
}

func TestCommitConflict(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()
	id := createCounter(t, mgr, "c", 1)

	a, err := mgr.Begin()
	require.NoError(t, err)
	b, err := mgr.Begin()
	require.NoError(t, err)

	for _, tx := range []*Txn{a, b} {
		c, err := NewRef[*counter](id).GetForUpdate(tx)
		require.NoError(t, err)
		c.Value++
	}

	require.NoError(t, mgr.Commit(a))
	require.ErrorIs(t, mgr.Commit(b), ErrConflict)
	require.ErrorIs(t, mgr.Commit(b), ErrTxnDone)

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		c, err := NewRef[*counter](id).Get(tx)
		require.NoError(t, err)
		require.Equal(t, uint64(2), c.Value)
		return nil
	}))
}

func TestTombstoneRules(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()
	id := createCounter(t, mgr, "c", 1)

	before, err := mgr.Begin()
	require.NoError(t, err)

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		return tx.Remove(id)
	}))

	// tombstone newer than the snapshot
	_, err = before.Get(id)
	require.ErrorIs(t, err, ErrConflict)

	// tombstone older than the snapshot
	after, err := mgr.Begin()
	require.NoError(t, err)
	_, err = after.Get(id)
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMissingObjectAfterCollection(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()
	id := createCounter(t, mgr, "c", 1)

	old, err := mgr.Begin()
	require.NoError(t, err)

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error { return tx.Remove(id) }))

	// push the write index past the retention so the tombstone gets collected
	for i := 0; i < 16; i++ {
		createCounter(t, mgr, "filler", uint64(i))
	}
	require.Eventually(t, func() bool {
		_, found, err := mgr.Store().Read(uint64(id))
		return err == nil && !found
	}, 5*time.Second, 10*time.Millisecond)

	_, err = old.Get(id)
	require.ErrorIs(t, err, ErrConflict, "a missing object is ambiguous for snapshots older than the collected index")

	fresh, err := mgr.Begin()
	require.NoError(t, err)
	_, err = fresh.Get(id)
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestBindings(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()
	a := createCounter(t, mgr, "b", 1)
	createCounter(t, mgr, "d", 2)

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		require.NoError(t, tx.SetBinding("a", a))
		require.NoError(t, tx.SetBinding("c", a))
		require.NoError(t, tx.RemoveBinding("d"))
		require.ErrorIs(t, tx.RemoveBinding("zzz"), ErrNameNotBound)

		var names []string
		cursor := ""
		for {
			next, ok, err := tx.NextBoundName(cursor)
			require.NoError(t, err)
			if !ok {
				break
			}
			names = append(names, next)
			cursor = next
		}
		require.Equal(t, []string{"a", "b", "c"}, names)
		return nil
	}))

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		next, ok, err := tx.NextBoundName("b")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "c", next)

		_, err = tx.Binding("d")
		require.ErrorIs(t, err, ErrNameNotBound)
		return nil
	}))
}

func TestBindingConflict(t *testing.T) {
	mgr := newTestManager(t, nil)

	a, err := mgr.Begin()
	require.NoError(t, err)
	b, err := mgr.Begin()
	require.NoError(t, err)

	// both see the name unbound and bind it
	for _, tx := range []*Txn{a, b} {
		_, err := tx.Binding("root")
		require.ErrorIs(t, err, ErrNameNotBound)
		id, err := tx.Create(&counter{})
		require.NoError(t, err)
		require.NoError(t, tx.SetBinding("root", id))
	}

	require.NoError(t, mgr.Commit(a))
	require.ErrorIs(t, mgr.Commit(b), ErrConflict)
}

func TestOnCommitHooks(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()

	var calls []int
	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		tx.OnCommit(func() { calls = append(calls, 1) })
		tx.OnCommit(func() { calls = append(calls, 2) })
		_, err := tx.Create(&counter{})
		return err
	}))
	require.Equal(t, []int{1, 2}, calls)

	boom := errors.New("boom")
	err := mgr.Transact(ctx, func(tx *Txn) error {
		tx.OnCommit(func() { calls = append(calls, 3) })
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{1, 2}, calls, "hooks of aborted transactions must not run")
}

func TestBoxes(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()
	c := codec.Default()

	type pair struct {
		Name string
		Ref  Ref[*counter]
	}

	var boxID ObjectID
	target := createCounter(t, mgr, "target", 5)
	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		var err error
		boxID, err = BoxValue(tx, c, pair{Name: "x", Ref: NewRef[*counter](target)})
		return err
	}))

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		var p pair
		require.NoError(t, UnboxValue(tx, c, boxID, &p))
		require.Equal(t, "x", p.Name)
		require.Equal(t, target, p.Ref.ID)

		require.NoError(t, UpdateBox(tx, c, boxID, pair{Name: "y"}))
		return tx.Remove(boxID)
	}))

	// removing the box keeps the referenced object
	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		_, err := tx.Get(boxID)
		require.ErrorIs(t, err, ErrObjectNotFound)
		v, err := NewRef[*counter](target).Get(tx)
		require.NoError(t, err)
		require.Equal(t, uint64(5), v.Value)
		return nil
	}))

	err := mgr.Transact(ctx, func(tx *Txn) error {
		_, err := BoxValue(tx, c, make(chan int))
		return err
	})
	require.ErrorIs(t, err, codec.ErrUnsupportedValue)
}

func TestDoneTransaction(t *testing.T) {
	mgr := newTestManager(t, nil)

	var leaked *Txn
	require.NoError(t, mgr.Transact(context.Background(), func(tx *Txn) error {
		leaked = tx
		return nil
	}))

	_, err := leaked.Get(1)
	require.ErrorIs(t, err, ErrTxnDone)
	_, err = leaked.Create(&counter{})
	require.ErrorIs(t, err, ErrTxnDone)
}

func TestUnknownKind(t *testing.T) {
	mgr := newTestManager(t, nil)

	_, err := mgr.Store().Commit(db.Batch{Writes: []db.Write{{ID: 1 << 40, Data: []byte{255, 1}}}})
	require.NoError(t, err)

	tx, err := mgr.Begin()
	require.NoError(t, err)
	_, err = tx.Get(1 << 40)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestBlindBindingWrite(t *testing.T) {
	mgr := newTestManager(t, nil)
	tx, err := mgr.Begin()
	require.NoError(t, err)

	id, err := tx.Create(&counter{})
	require.NoError(t, err)
	require.NoError(t, tx.SetBinding("x", id))

	// a concurrent writer binds the same name
	_, err = mgr.Store().Commit(db.Batch{Bindings: []db.BindingWrite{{Name: "x", ID: 99}}})
	require.NoError(t, err)

	bound, err := tx.Binding("x")
	require.NoError(t, err)
	require.Equal(t, id, bound, "own writes are visible")

	// the binding was never read from the store, so there is nothing to validate
	require.NoError(t, mgr.Commit(tx))

	raw, found, err := mgr.Store().Binding("x")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(id), raw)
}
