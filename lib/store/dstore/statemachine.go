package dstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/store"
	"github.com/ValentinKolb/scoll/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// ObjectStateMachine is a state machine implementation for Dragonboat RAFT.
// The raft index of every entry is used as the write index of the object table.
type ObjectStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.ObjectDB
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory
func CreateStateMachineFactory(dbFactory store.DBFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &ObjectStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  dbFactory(),
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding ObjectDB method.
func (fsm *ObjectStateMachine) Lookup(itf interface{}) (interface{}, error) {

	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTRead:
		if !fsm.database.SupportsFeature(db.FeatureRead) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Read operation is not supported")
		}
		rec, found := fsm.database.Read(q.ID)
		return internal.ReadResult{Record: rec, Found: found}, nil
	case internal.QueryTBinding:
		if !fsm.database.SupportsFeature(db.FeatureBindings) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Binding operation is not supported")
		}
		id, found := fsm.database.Binding(q.Name)
		return internal.BindingResult{ID: id, Name: q.Name, Found: found}, nil
	case internal.QueryTNextBinding:
		if !fsm.database.SupportsFeature(db.FeatureBindings) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "NextBinding operation is not supported")
		}
		next, found := fsm.database.NextBinding(q.Name)
		return internal.BindingResult{Name: next, Found: found}, nil
	case internal.QueryTHorizon:
		return internal.HorizonResult{
			WriteIdx:     fsm.database.WriteIdx(),
			CollectedIdx: fsm.database.CollectedIdx(),
		}, nil
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

func indexResult(v uint64) sm.Result {
	return sm.Result{
		Value: uint64(store.RetCSuccess),
		Data:  binary.BigEndian.AppendUint64(nil, v),
	}
}

// Update applies commit and allocation commands to the ObjectDB instance.
// Every entry gets its own result, a conflicting commit does not affect the other entries of the batch.
func (fsm *ObjectStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()
	conflicts := 0

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}

		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}

		feat, err := cmd.Type.ToDBFeature()
		if err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCInvalidOperation),
				Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
			}
			continue
		}
		if !fsm.database.SupportsFeature(feat) {
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCUnsupportedOperation),
				Data:  []byte(fmt.Sprintf("%s operation is not supported", cmd.Type)),
			}
			continue
		}

		switch cmd.Type {
		case internal.CommandTCommit:
			if conflict := fsm.database.Apply(cmd.Batch, e.Index); conflict != nil {
				conflicts++
				// the index is still consumed, the write index must follow the raft log
				fsm.database.SetWriteIdx(e.Index)
				entries[idx].Result = sm.Result{
					Value: uint64(store.RetCConflict),
					Data:  []byte(conflict.String()),
				}
				continue
			}
			entries[idx].Result = indexResult(e.Index)
		case internal.CommandTAllocate:
			entries[idx].Result = indexResult(fsm.database.AllocateIDs(cmd.Count, e.Index))
		default:
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCInvalidOperation),
				Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
			}
		}
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries (%d conflicts), took %.2fms",
			len(entries), conflicts, float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used. The object table takes a consistent cut itself when saving.
func (fsm *ObjectStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a db snapshot to the writer
func (fsm *ObjectStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the used ObjectDB implementation does not support Save() operations")
	}
	return fsm.database.Save(writer)
}

// RecoverFromSnapshot restores the object table from a snapshot.
func (fsm *ObjectStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used ObjectDB implementation does not support Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *ObjectStateMachine) Close() error {
	return fsm.database.Close()
}
