// Package scheduler runs persisted background tasks in bounded steps.
//
// A Task is a txn.Object with a Step method. Tasks are scheduled inside a transaction
// and start running once that transaction committed. Every step runs in its own
// transaction and receives a shouldContinue function (see ContinuePolicy) that tells
// it when to stop, so a single task never holds a worker or a large write set for long.
//
// The TaskScheduler keeps ready tasks in a lock-free MPSC queue (util.LockFreeMPSC) and
// delayed tasks in a keyed min-heap (util.MapHeap) ordered by due time. Tasks are bound
// under TaskBindingPrefix until they are done, Recover queues them again after a restart.
//
// Usage:
//
//	sched := scheduler.NewTaskScheduler(mgr, nil)
//	if _, err := sched.Recover(ctx); err != nil { ... }
//	sched.Start()
//	defer sched.Close()
//
//	err := mgr.Transact(ctx, func(tx *txn.Txn) error {
//	    return sched.ScheduleTask(tx, myTask)
//	})
package scheduler
