package scheduler

import (
	"time"

	"github.com/ValentinKolb/scoll/lib/txn"
)

// Task is a persisted unit of background work that runs in bounded steps.
type Task interface {
	txn.Object

	// Step performs some work inside tx. It must do at least one unit of work and
	// should stop as soon as shouldContinue returns false. The task object itself is
	// written back after every step, so all progress must be kept in its fields.
	// Step returns done=true once no work is left.
	Step(tx *txn.Txn, shouldContinue func() bool) (done bool, err error)
}

// Scheduler accepts tasks inside a transaction. A task starts running only after the
// scheduling transaction committed.
type Scheduler interface {
	// ScheduleTask stores task and runs it as soon as possible
	ScheduleTask(tx *txn.Txn, task Task) error
	// ScheduleDelayedTask stores task and runs it after delay
	ScheduleDelayedTask(tx *txn.Txn, task Task, delay time.Duration) error
}

// ContinuePolicy creates the shouldContinue function for one step.
// It is called when a step starts.
type ContinuePolicy func() func() bool

// TimeBudget returns a ContinuePolicy that allows a step to run for budget
func TimeBudget(budget time.Duration) ContinuePolicy {
	return func() func() bool {
		deadline := time.Now().Add(budget)
		return func() bool {
			return time.Now().Before(deadline)
		}
	}
}

// UnitBudget returns a ContinuePolicy that allows a step to do n units of work
func UnitBudget(n int) ContinuePolicy {
	return func() func() bool {
		left := n
		return func() bool {
			left--
			return left > 0
		}
	}
}
