package txn

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/scoll/lib/store"
	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("txn")

var (
	commitsTotal   = vmetrics.GetOrCreateCounter(`scoll_txn_commits_total`)
	conflictsTotal = vmetrics.GetOrCreateCounter(`scoll_txn_conflicts_total`)
	abortsTotal    = vmetrics.GetOrCreateCounter(`scoll_txn_aborts_total`)
)

const (
	defaultMaxRetries   = 64
	defaultRetryBackoff = time.Millisecond
	defaultIDBlockSize  = 256
)

// Options configures a Manager
type Options struct {
	MaxRetries   int           // Retries of a conflicting transaction (0 = use default: 64)
	RetryBackoff time.Duration // The n-th retry waits n*RetryBackoff (0 = use default: 1ms)
	IDBlockSize  uint64        // Number of object ids reserved per backend allocation (0 = use default: 256)
}

// DefaultOptions returns the default manager options
func DefaultOptions() *Options {
	return &Options{
		MaxRetries:   defaultMaxRetries,
		RetryBackoff: defaultRetryBackoff,
		IDBlockSize:  defaultIDBlockSize,
	}
}

// Stats is a summary of the transactions run by a manager
type Stats struct {
	Commits   int64
	Conflicts int64
	Aborts    int64

	CommitMean time.Duration // mean commit latency (backend round trip)
	CommitP99  time.Duration // 99th percentile commit latency
}

// Manager runs transactions against a backend.
//
// Thread-safety: A Manager is safe for concurrent use. Each transaction is used by one goroutine.
type Manager struct {
	store store.IStore
	opts  Options

	idMu   sync.Mutex
	nextID uint64 // next id of the reserved block
	lastID uint64 // last id of the reserved block

	commits     gometrics.Counter
	conflicts   gometrics.Counter
	aborts      gometrics.Counter
	commitTimer gometrics.Timer
}

// NewManager creates a transaction manager for the backend s with the specified options (optional)
func NewManager(s store.IStore, opts *Options) *Manager {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.IDBlockSize == 0 {
		o.IDBlockSize = defaultIDBlockSize
	}
	return &Manager{
		store:       s,
		opts:        o,
		commits:     gometrics.NewCounter(),
		conflicts:   gometrics.NewCounter(),
		aborts:      gometrics.NewCounter(),
		commitTimer: gometrics.NewTimer(),
	}
}

// Store returns the backend of the manager
func (m *Manager) Store() store.IStore {
	return m.store
}

// Begin starts a transaction on the current snapshot of the backend.
// Most callers should use Transact, which commits and retries.
func (m *Manager) Begin() (*Txn, error) {
	writeIdx, _, err := m.store.Horizon()
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	return newTxn(m, writeIdx), nil
}

// Commit commits a transaction started with Begin and runs its OnCommit hooks.
func (m *Manager) Commit(tx *Txn) error {
	start := time.Now()
	err := tx.commit()
	m.commitTimer.UpdateSince(start)
	if err != nil {
		return err
	}
	m.commits.Inc(1)
	commitsTotal.Inc()
	tx.runHooks()
	return nil
}

// Transact runs fn in a transaction and commits it.
//
// If fn or the commit fail with ErrConflict, the transaction is retried on a new snapshot
// up to MaxRetries times with a linear backoff. Any other error of fn aborts the
// transaction and is returned unchanged. fn must not keep objects of one attempt for the
// next one.
func (m *Manager) Transact(ctx context.Context, fn func(tx *Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			m.abort()
			return err
		}

		tx, err := m.Begin()
		if err != nil {
			m.abort()
			return err
		}

		err = fn(tx)
		if err == nil {
			err = m.Commit(tx)
		}
		tx.done = true
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrConflict) {
			m.abort()
			return err
		}

		m.conflicts.Inc(1)
		conflictsTotal.Inc()
		if attempt >= m.opts.MaxRetries {
			m.abort()
			return errors.Wrapf(err, "giving up after %d attempts", attempt+1)
		}
		log.Debugf("transaction %s conflicted (attempt %d): %v", tx.ID(), attempt+1, err)

		backoff := time.Duration(attempt+1) * m.opts.RetryBackoff
		select {
		case <-ctx.Done():
			m.abort()
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (m *Manager) abort() {
	m.aborts.Inc(1)
	abortsTotal.Inc()
}

// allocateID returns a new object id, reserving ids from the backend in blocks
func (m *Manager) allocateID() (ObjectID, error) {
	m.idMu.Lock()
	defer m.idMu.Unlock()

	if m.nextID == 0 || m.nextID > m.lastID {
		first, err := m.store.AllocateIDs(m.opts.IDBlockSize)
		if err != nil {
			return 0, errors.Wrap(err, "allocate object ids")
		}
		m.nextID = first
		m.lastID = first + m.opts.IDBlockSize - 1
	}
	id := m.nextID
	m.nextID++
	return ObjectID(id), nil
}

// Stats returns a summary of the transactions run by this manager
func (m *Manager) Stats() Stats {
	snap := m.commitTimer.Snapshot()
	return Stats{
		Commits:    m.commits.Count(),
		Conflicts:  m.conflicts.Count(),
		Aborts:     m.aborts.Count(),
		CommitMean: time.Duration(snap.Mean()),
		CommitP99:  time.Duration(snap.Percentile(0.99)),
	}
}
