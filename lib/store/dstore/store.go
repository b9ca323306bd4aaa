package dstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/store"
	"github.com/ValentinKolb/scoll/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the distributed store.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore creates a new distributed store instance which orders all commits
// through the raft log of the given shard.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      cs,
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and sends it via SyncPropose.
// On success it returns the result data of the state machine (8 bytes, big endian).
func (s *storeImpl) write(cmd internal.Command) (uint64, error) {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)

		res, err := s.nh.SyncPropose(ctx, s.cs, cmd.Serialize())
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return 0, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return 0, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		if len(res.Data) != 8 {
			return 0, store.NewError(store.RetCInternalError, fmt.Sprintf("unexpected result length %d", len(res.Data)))
		}
		return binary.BigEndian.Uint64(res.Data), nil
	}
	return 0, store.NewError(store.RetCInternalError, "timeout")
}

// read is a generic helper function queries the statemachine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// Is the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

/*
	Object and binding reads use StaleRead on the local replica. A transaction takes its
	snapshot with Horizon (a linearizable SyncRead on the same replica), and the replica's
	applied index only grows, so every record with a version <= snapshot is already present
	locally. Newer records are detected by the version checks of the transaction.
*/

func (s *storeImpl) Read(id uint64) (db.Record, bool, error) {
	res, err := read[internal.ReadResult](s, internal.Query{Type: internal.QueryTRead, ID: id}, true)
	if err != nil {
		return db.Record{}, false, err
	}
	return res.Record, res.Found, nil
}

func (s *storeImpl) Commit(batch db.Batch) (uint64, error) {
	return s.write(internal.Command{
		Type:  internal.CommandTCommit,
		Batch: batch,
	})
}

func (s *storeImpl) AllocateIDs(count uint64) (uint64, error) {
	return s.write(internal.Command{
		Type:  internal.CommandTAllocate,
		Count: count,
	})
}

func (s *storeImpl) Binding(name string) (uint64, bool, error) {
	res, err := read[internal.BindingResult](s, internal.Query{Type: internal.QueryTBinding, Name: name}, true)
	if err != nil {
		return 0, false, err
	}
	return res.ID, res.Found, nil
}

func (s *storeImpl) NextBinding(name string) (string, bool, error) {
	res, err := read[internal.BindingResult](s, internal.Query{Type: internal.QueryTNextBinding, Name: name}, true)
	if err != nil {
		return "", false, err
	}
	return res.Name, res.Found, nil
}

func (s *storeImpl) Horizon() (uint64, uint64, error) {
	res, err := read[internal.HorizonResult](s, internal.Query{Type: internal.QueryTHorizon}, false)
	if err != nil {
		return 0, 0, err
	}
	return res.WriteIdx, res.CollectedIdx, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}
