package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/scoll/lib/db/util"
	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("scheduler")

var (
	scheduledTotal = metrics.GetOrCreateCounter(`scoll_tasks_scheduled_total`)
	stepsTotal     = metrics.GetOrCreateCounter(`scoll_tasks_steps_total`)
	completedTotal = metrics.GetOrCreateCounter(`scoll_tasks_completed_total`)
	failuresTotal  = metrics.GetOrCreateCounter(`scoll_tasks_failures_total`)
)

// TaskBindingPrefix is the prefix of the bindings that keep scheduled tasks reachable
const TaskBindingPrefix = "scoll.task."

const (
	defaultWorkers    = 2
	defaultTaskBudget = 5 * time.Millisecond
	defaultRetryDelay = 100 * time.Millisecond
)

// taskBindingName returns the binding of a task. Ids are zero padded so that the
// bindings are ordered by id.
func taskBindingName(id txn.ObjectID) string {
	return fmt.Sprintf("%s%020d", TaskBindingPrefix, uint64(id))
}

func parseTaskBindingName(name string) (txn.ObjectID, bool) {
	if !strings.HasPrefix(name, TaskBindingPrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(name, TaskBindingPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return txn.ObjectID(id), true
}

// Options configures a TaskScheduler
type Options struct {
	Workers        int            // Number of goroutines running steps (0 = use default: 2)
	TaskBudget     time.Duration  // Time budget of one step (0 = use default: 5ms)
	ContinuePolicy ContinuePolicy // Overrides TaskBudget if set
	RetryDelay     time.Duration  // Delay before a failed step is retried (0 = use default: 100ms)
}

// DefaultOptions returns the default scheduler options
func DefaultOptions() *Options {
	return &Options{
		Workers:    defaultWorkers,
		TaskBudget: defaultTaskBudget,
		RetryDelay: defaultRetryDelay,
	}
}

// TaskScheduler runs persisted tasks with a pool of workers.
//
// Every step of a task runs in its own transaction. A task that is not done is queued
// again, so long running tasks share the workers with new ones. Tasks stay bound under
// TaskBindingPrefix until they are done and are picked up again by Recover after a restart.
//
// Thread-safety: All methods are thread-safe.
type TaskScheduler struct {
	mgr  *txn.Manager
	opts Options

	ready *util.LockFreeMPSC[txn.ObjectID]

	delayMu sync.Mutex
	delayed *util.MapHeap[txn.ObjectID] // priority = due time in unix nanoseconds
	wake    chan struct{}

	known *xsync.MapOf[txn.ObjectID, struct{}] // queued or running tasks

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	wg      sync.WaitGroup
}

// NewTaskScheduler creates a scheduler that runs tasks with mgr and the specified options (optional).
// Workers start with Start.
func NewTaskScheduler(mgr *txn.Manager, opts *Options) *TaskScheduler {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.TaskBudget <= 0 {
		o.TaskBudget = defaultTaskBudget
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.ContinuePolicy == nil {
		o.ContinuePolicy = TimeBudget(o.TaskBudget)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TaskScheduler{
		mgr:     mgr,
		opts:    o,
		ready:   util.NewLockFreeMPSC[txn.ObjectID](),
		delayed: util.NewMapHeap[txn.ObjectID](),
		wake:    make(chan struct{}, 1),
		known:   xsync.NewMapOf[txn.ObjectID, struct{}](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// --------------------------------------------------------------------------
// Scheduling
// --------------------------------------------------------------------------

func (s *TaskScheduler) ScheduleTask(tx *txn.Txn, task Task) error {
	return s.ScheduleDelayedTask(tx, task, 0)
}

func (s *TaskScheduler) ScheduleDelayedTask(tx *txn.Txn, task Task, delay time.Duration) error {
	id, err := tx.Create(task)
	if err != nil {
		return errors.Wrap(err, "store task")
	}
	if err := tx.SetBinding(taskBindingName(id), id); err != nil {
		return err
	}
	tx.OnCommit(func() {
		scheduledTotal.Inc()
		s.enqueue(id, delay)
	})
	return nil
}

// enqueue queues a task that is not known yet
func (s *TaskScheduler) enqueue(id txn.ObjectID, delay time.Duration) {
	if _, loaded := s.known.LoadOrStore(id, struct{}{}); loaded {
		return
	}
	s.requeue(id, delay)
}

// requeue queues a known task again
func (s *TaskScheduler) requeue(id txn.ObjectID, delay time.Duration) {
	if delay <= 0 {
		if !s.ready.Push(id) {
			s.known.Delete(id)
		}
		return
	}
	s.delayMu.Lock()
	s.delayed.Set(id, uint64(time.Now().Add(delay).UnixNano()))
	s.delayMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Recover queues all tasks that are stored in the backend, e.g. after a restart.
// Tasks that are already queued are skipped. It returns the number of queued tasks.
func (s *TaskScheduler) Recover(ctx context.Context) (int, error) {
	var ids []txn.ObjectID
	err := s.mgr.Transact(ctx, func(tx *txn.Txn) error {
		ids = ids[:0]
		cursor := TaskBindingPrefix
		for {
			name, ok, err := tx.NextBoundName(cursor)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			id, isTask := parseTaskBindingName(name)
			if !isTask {
				return nil
			}
			ids = append(ids, id)
			cursor = name
		}
	})
	if err != nil {
		return 0, errors.Wrap(err, "recover tasks")
	}

	queued := 0
	for _, id := range ids {
		if _, loaded := s.known.Load(id); !loaded {
			queued++
		}
		s.enqueue(id, 0)
	}
	if queued > 0 {
		log.Infof("recovered %d tasks", queued)
	}
	return queued, nil
}

// --------------------------------------------------------------------------
// Workers
// --------------------------------------------------------------------------

// Start starts the workers and the timer of the delayed tasks.
// Calling Start more than once has no effect.
func (s *TaskScheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.timerLoop()
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	log.Infof("scheduler started with %d workers", s.opts.Workers)
}

func (s *TaskScheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case id, ok := <-s.ready.Recv():
			if !ok {
				return
			}
			s.runStep(id)
		}
	}
}

// runStep runs one step of the task id and queues the task again if it is not done
func (s *TaskScheduler) runStep(id txn.ObjectID) {
	var done bool
	err := s.mgr.Transact(s.ctx, func(tx *txn.Txn) error {
		done = false
		obj, err := tx.GetForUpdate(id)
		if errors.Is(err, txn.ErrObjectNotFound) {
			// finished by another scheduler of the same store
			done = true
			return nil
		}
		if err != nil {
			return err
		}
		task, ok := obj.(Task)
		if !ok {
			return errors.AssertionFailedf("object %d of type %T is not a task", id, obj)
		}

		done, err = task.Step(tx, s.opts.ContinuePolicy())
		if err != nil || !done {
			return err
		}

		if err := tx.Remove(id); err != nil {
			return err
		}
		if err := tx.RemoveBinding(taskBindingName(id)); err != nil && !errors.Is(err, txn.ErrNameNotBound) {
			return err
		}
		return nil
	})

	if err != nil {
		if s.ctx.Err() != nil {
			s.known.Delete(id)
			return
		}
		failuresTotal.Inc()
		log.Warningf("step of task %d failed, retrying in %s: %v", id, s.opts.RetryDelay, err)
		s.requeue(id, s.opts.RetryDelay)
		return
	}

	stepsTotal.Inc()
	if done {
		completedTotal.Inc()
		s.known.Delete(id)
		return
	}
	s.requeue(id, 0)
}

// timerLoop moves delayed tasks to the ready queue once they are due
func (s *TaskScheduler) timerLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		now := time.Now()
		wait := time.Hour

		s.delayMu.Lock()
		for _, id := range s.delayed.PopDue(uint64(now.UnixNano())) {
			if !s.ready.Push(id) {
				s.known.Delete(id)
			}
		}
		if next, ok := s.delayed.Peek(); ok {
			wait = time.Duration(int64(next.Priority) - now.UnixNano())
		}
		s.delayMu.Unlock()

		timer.Reset(wait)
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// Pending returns the number of queued, delayed or running tasks
func (s *TaskScheduler) Pending() int {
	return s.known.Size()
}

// WaitIdle blocks until no task is queued, delayed or running, or ctx is done
func (s *TaskScheduler) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for s.known.Size() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops the workers. Tasks that are not done stay stored and can be recovered.
func (s *TaskScheduler) Close() error {
	s.cancel()
	s.ready.Close()
	s.wg.Wait()
	return nil
}
