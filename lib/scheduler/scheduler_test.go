package scheduler

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/db/engines/maple"
	"github.com/ValentinKolb/scoll/lib/store/lstore"
	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

const (
	kindProgress  = txn.KindUser + 200
	kindCountdown = txn.KindUser + 201
)

// progress counts the units done by countdown tasks
type progress struct {
	Units uint64
}

func (p *progress) Kind() txn.Kind { return kindProgress }

func (p *progress) MarshalBinary() ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, p.Units), nil
}

func (p *progress) UnmarshalBinary(data []byte) error {
	if len(data) != 8 {
		return errors.Newf("invalid progress length %d", len(data))
	}
	p.Units = binary.BigEndian.Uint64(data)
	return nil
}

var failSteps atomic.Int32

// countdown adds one unit to Target per unit of work until Remaining is 0
type countdown struct {
	Target    txn.ObjectID
	Remaining uint64
}

func (c *countdown) Kind() txn.Kind { return kindCountdown }

func (c *countdown) MarshalBinary() ([]byte, error) {
	b := binary.BigEndian.AppendUint64(nil, uint64(c.Target))
	return binary.BigEndian.AppendUint64(b, c.Remaining), nil
}

func (c *countdown) UnmarshalBinary(data []byte) error {
	if len(data) != 16 {
		return errors.Newf("invalid countdown length %d", len(data))
	}
	c.Target = txn.ObjectID(binary.BigEndian.Uint64(data))
	c.Remaining = binary.BigEndian.Uint64(data[8:])
	return nil
}

func (c *countdown) Step(tx *txn.Txn, shouldContinue func() bool) (bool, error) {
	if failSteps.Load() > 0 {
		failSteps.Add(-1)
		return false, errors.New("injected failure")
	}
	p, err := txn.NewRef[*progress](c.Target).GetForUpdate(tx)
	if err != nil {
		return false, err
	}
	for c.Remaining > 0 {
		p.Units++
		c.Remaining--
		if !shouldContinue() {
			break
		}
	}
	return c.Remaining == 0, nil
}

func init() {
	txn.RegisterKind(kindProgress, func() txn.Object { return &progress{} })
	txn.RegisterKind(kindCountdown, func() txn.Object { return &countdown{} })
}

func newTestManager() *txn.Manager {
	s := lstore.NewLocalStore(func() db.ObjectDB {
		return maple.NewMapleDB(&maple.DBOptions{NumShards: 2})
	})
	return txn.NewManager(s, nil)
}

func testOptions() *Options {
	return &Options{Workers: 2, ContinuePolicy: UnitBudget(1), RetryDelay: 5 * time.Millisecond}
}

// scheduleCountdown creates a progress object and a countdown task for it
func scheduleCountdown(t *testing.T, mgr *txn.Manager, s Scheduler, units uint64, delay time.Duration) txn.ObjectID {
	t.Helper()
	var target txn.ObjectID
	require.NoError(t, mgr.Transact(context.Background(), func(tx *txn.Txn) error {
		var err error
		target, err = tx.Create(&progress{})
		if err != nil {
			return err
		}
		return s.ScheduleDelayedTask(tx, &countdown{Target: target, Remaining: units}, delay)
	}))
	return target
}

func readUnits(t *testing.T, mgr *txn.Manager, target txn.ObjectID) uint64 {
	t.Helper()
	var units uint64
	require.NoError(t, mgr.Transact(context.Background(), func(tx *txn.Txn) error {
		p, err := txn.NewRef[*progress](target).Get(tx)
		if err != nil {
			return err
		}
		units = p.Units
		return nil
	}))
	return units
}

func countTaskBindings(t *testing.T, mgr *txn.Manager) int {
	t.Helper()
	n := 0
	require.NoError(t, mgr.Transact(context.Background(), func(tx *txn.Txn) error {
		n = 0
		cursor := TaskBindingPrefix
		for {
			name, ok, err := tx.NextBoundName(cursor)
			if err != nil {
				return err
			}
			if _, isTask := parseTaskBindingName(name); !ok || !isTask {
				return nil
			}
			n++
			cursor = name
		}
	}))
	return n
}

func waitIdle(t *testing.T, s *TaskScheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))
}

func TestTaskRunsInBoundedSteps(t *testing.T) {
	mgr := newTestManager()
	s := NewTaskScheduler(mgr, testOptions())
	s.Start()
	defer s.Close()

	targets := make([]txn.ObjectID, 5)
	for i := range targets {
		targets[i] = scheduleCountdown(t, mgr, s, 20, 0)
	}
	waitIdle(t, s)

	for _, target := range targets {
		require.Equal(t, uint64(20), readUnits(t, mgr, target))
	}
	require.Zero(t, countTaskBindings(t, mgr), "finished tasks must be unbound")
}

func TestAbortedScheduleDoesNotRun(t *testing.T) {
	mgr := newTestManager()
	s := NewTaskScheduler(mgr, testOptions())
	s.Start()
	defer s.Close()

	boom := errors.New("boom")
	err := mgr.Transact(context.Background(), func(tx *txn.Txn) error {
		if err := s.ScheduleTask(tx, &countdown{Remaining: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, s.Pending())
	require.Zero(t, countTaskBindings(t, mgr))
}

func TestDelayedTask(t *testing.T) {
	mgr := newTestManager()
	s := NewTaskScheduler(mgr, testOptions())
	s.Start()
	defer s.Close()

	start := time.Now()
	target := scheduleCountdown(t, mgr, s, 3, 50*time.Millisecond)
	require.Zero(t, readUnits(t, mgr, target))
	require.Equal(t, 1, s.Pending())

	waitIdle(t, s)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, uint64(3), readUnits(t, mgr, target))
}

func TestFailedStepIsRetried(t *testing.T) {
	mgr := newTestManager()
	s := NewTaskScheduler(mgr, testOptions())

	failSteps.Store(3)
	defer failSteps.Store(0)

	target := scheduleCountdown(t, mgr, s, 4, 0)
	s.Start()
	defer s.Close()

	waitIdle(t, s)
	require.Equal(t, uint64(4), readUnits(t, mgr, target))
	require.Zero(t, failSteps.Load())
}

func TestRecover(t *testing.T) {
	mgr := newTestManager()

	// scheduled but never started
	first := NewTaskScheduler(mgr, testOptions())
	targetA := scheduleCountdown(t, mgr, first, 5, 0)
	targetB := scheduleCountdown(t, mgr, first, 7, time.Hour)
	require.NoError(t, first.Close())
	require.Equal(t, 2, countTaskBindings(t, mgr))

	second := NewTaskScheduler(mgr, testOptions())
	n, err := second.Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = second.Recover(context.Background())
	require.NoError(t, err)
	require.Zero(t, n, "queued tasks are not queued twice")

	second.Start()
	defer second.Close()
	waitIdle(t, second)

	require.Equal(t, uint64(5), readUnits(t, mgr, targetA))
	require.Equal(t, uint64(7), readUnits(t, mgr, targetB), "recovered tasks run without their delay")
	require.Zero(t, countTaskBindings(t, mgr))
}

func TestBudgets(t *testing.T) {
	units := UnitBudget(3)()
	calls := 1
	for units() {
		calls++
	}
	require.Equal(t, 3, calls)

	timed := TimeBudget(10 * time.Millisecond)()
	require.True(t, timed())
	time.Sleep(15 * time.Millisecond)
	require.False(t, timed())
}

func TestTaskBindingNames(t *testing.T) {
	require.Less(t, taskBindingName(9), taskBindingName(10))
	id, ok := parseTaskBindingName(taskBindingName(12345))
	require.True(t, ok)
	require.Equal(t, txn.ObjectID(12345), id)

	_, ok = parseTaskBindingName("scoll.map.x")
	require.False(t, ok)
}
