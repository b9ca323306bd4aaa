package lstore

import (
	"sync"

	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/store"
)

type storeImpl struct {
	db db.ObjectDB

	mu    sync.Mutex // orders commits and allocations
	index uint64     // last assigned write index
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// Commits are ordered by a mutex that assigns the write index.
func NewLocalStore(factory store.DBFactory) store.IStore {
	return &storeImpl{
		db: factory(),
	}
}

// nextIndex returns the index the next write will use. It is only consumed by a successful write.
//
// Thread-safety: the caller must hold s.mu.
func (s *storeImpl) nextIndex() uint64 {
	if dbIdx := s.db.WriteIdx(); dbIdx > s.index {
		s.index = dbIdx
	}
	return s.index + 1
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Read(id uint64) (db.Record, bool, error) {
	if !s.db.SupportsFeature(db.FeatureRead) {
		return db.Record{}, false, store.NewError(store.RetCUnsupportedOperation, "Read operation is not supported")
	}
	rec, ok := s.db.Read(id)
	return rec, ok, nil
}

func (s *storeImpl) Commit(batch db.Batch) (uint64, error) {
	if !s.db.SupportsFeature(db.FeatureApply) {
		return 0, store.NewError(store.RetCUnsupportedOperation, "Apply operation is not supported")
	}
	if (len(batch.Bindings) > 0 || len(batch.BindingReads) > 0) && !s.db.SupportsFeature(db.FeatureBindings) {
		return 0, store.NewError(store.RetCUnsupportedOperation, "Bindings are not supported")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.nextIndex()
	if conflict := s.db.Apply(batch, idx); conflict != nil {
		return 0, store.NewError(store.RetCConflict, conflict.String())
	}
	s.index = idx
	return idx, nil
}

func (s *storeImpl) AllocateIDs(count uint64) (uint64, error) {
	if !s.db.SupportsFeature(db.FeatureAllocate) {
		return 0, store.NewError(store.RetCUnsupportedOperation, "AllocateIDs operation is not supported")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.nextIndex()
	first := s.db.AllocateIDs(count, idx)
	s.index = idx
	return first, nil
}

func (s *storeImpl) Binding(name string) (uint64, bool, error) {
	if !s.db.SupportsFeature(db.FeatureBindings) {
		return 0, false, store.NewError(store.RetCUnsupportedOperation, "Binding operation is not supported")
	}
	id, ok := s.db.Binding(name)
	return id, ok, nil
}

func (s *storeImpl) NextBinding(name string) (string, bool, error) {
	if !s.db.SupportsFeature(db.FeatureBindings) {
		return "", false, store.NewError(store.RetCUnsupportedOperation, "NextBinding operation is not supported")
	}
	next, ok := s.db.NextBinding(name)
	return next, ok, nil
}

func (s *storeImpl) Horizon() (uint64, uint64, error) {
	return s.db.WriteIdx(), s.db.CollectedIdx(), nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}
