package txn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConcurrentIncrements(t *testing.T) {
	mgr := newTestManager(t, &Options{MaxRetries: 1000, RetryBackoff: 50 * time.Microsecond})
	ctx := context.Background()
	id := createCounter(t, mgr, "c", 0)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := mgr.Transact(ctx, func(tx *Txn) error {
					c, err := NewRef[*counter](id).GetForUpdate(tx)
					if err != nil {
						return err
					}
					c.Value++
					return nil
				})
				if err != nil {
					t.Errorf("increment failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
		c, err := NewRef[*counter](id).Get(tx)
		require.NoError(t, err)
		require.Equal(t, uint64(workers*perWorker), c.Value)
		return nil
	}))

	stats := mgr.Stats()
	require.Equal(t, int64(workers*perWorker+2), stats.Commits, "read-only transactions count as commits")
	require.Zero(t, stats.Aborts)
}

func TestGiveUpAfterMaxRetries(t *testing.T) {
	mgr := newTestManager(t, &Options{MaxRetries: 3, RetryBackoff: time.Microsecond})

	attempts := 0
	err := mgr.Transact(context.Background(), func(tx *Txn) error {
		attempts++
		return ErrConflict
	})
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, 4, attempts)

	stats := mgr.Stats()
	require.Equal(t, int64(4), stats.Conflicts)
	require.Equal(t, int64(1), stats.Aborts)
}

func TestContextCancel(t *testing.T) {
	mgr := newTestManager(t, &Options{MaxRetries: 1000, RetryBackoff: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := mgr.Transact(ctx, func(tx *Txn) error {
		return ErrConflict
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestIDBlocks(t *testing.T) {
	mgr := newTestManager(t, &Options{IDBlockSize: 4})
	ctx := context.Background()

	var ids []ObjectID
	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.Transact(ctx, func(tx *Txn) error {
			for j := 0; j < 3; j++ {
				id, err := tx.Create(&counter{})
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return nil
		}))
	}

	for i := 1; i < len(ids); i++ {
		require.Greater(t, ids[i], ids[i-1], "ids must increase")
	}

	// a second manager on the same backend never reuses ids
	other := NewManager(mgr.Store(), &Options{IDBlockSize: 4})
	require.NoError(t, other.Transact(ctx, func(tx *Txn) error {
		id, err := tx.Create(&counter{})
		require.NoError(t, err)
		require.Greater(t, id, ids[len(ids)-1])
		return nil
	}))
}
