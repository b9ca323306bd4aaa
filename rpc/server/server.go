package server

import (
	"context"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/scoll/lib/db"
	"github.com/ValentinKolb/scoll/lib/db/engines/maple"
	"github.com/ValentinKolb/scoll/lib/scheduler"
	"github.com/ValentinKolb/scoll/lib/store"
	"github.com/ValentinKolb/scoll/lib/store/dstore"
	"github.com/ValentinKolb/scoll/lib/store/lstore"
	"github.com/ValentinKolb/scoll/lib/txn"
	"github.com/ValentinKolb/scoll/rpc/common"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("rpc")

const (
	readyPollInterval = 500 * time.Millisecond
	shutdownTimeout   = 5 * time.Second
)

// Server is a scoll node. It runs the object store backend, the transaction manager,
// the background task scheduler and the HTTP map API.
type Server struct {
	config common.ServerConfig

	nodeHost *dragonboat.NodeHost // nil for the local backend
	store    store.IStore
	mgr      *txn.Manager
	sched    *scheduler.TaskScheduler
	http     *http.Server
}

// NewServer creates a new server. Nothing is started before Serve is called.
//
// Usage:
//
//	s := server.NewServer(*config)
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewServer(config common.ServerConfig) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}
	return &Server{config: config}
}

// init creates the backend, the transaction manager and the scheduler
func (s *Server) init() error {
	if err := common.InitLoggers(s.config.LogLevel, s.config.LogFile); err != nil {
		return err
	}
	log.Infof("Created scoll server")
	log.Infof(s.config.String())

	// Function to create a new database instance
	dbFactory := func() db.ObjectDB { return maple.NewMapleDB(nil) }
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	switch s.config.Backend {
	case common.BackendLocal:
		s.store = lstore.NewLocalStore(dbFactory)
		log.Infof("created local store for shard %d", s.config.ShardID)

	case common.BackendRaft:
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return errors.Wrap(err, "failed to create node host")
		}
		s.nodeHost = nodeHost

		err = nodeHost.StartConcurrentReplica(
			s.config.ClusterMembers,
			false,
			dstore.CreateStateMachineFactory(dbFactory),
			s.config.ToDragonboatConfig(),
		)
		if err != nil {
			nodeHost.Close()
			return errors.Wrapf(err, "failed to start shard %d", s.config.ShardID)
		}
		s.store = dstore.NewDistributedStore(nodeHost, s.config.ShardID, timeout)
		log.Infof("started replica %d of shard %d", s.config.ReplicaID, s.config.ShardID)

	default:
		return errors.Newf("invalid backend: %s", s.config.Backend)
	}

	s.mgr = txn.NewManager(s.store, nil)
	s.sched = scheduler.NewTaskScheduler(s.mgr, &scheduler.Options{
		Workers:    s.config.SchedulerWorkers,
		TaskBudget: s.config.TaskBudget,
	})
	return nil
}

// waitReady blocks until the backend answers requests (the raft shard has a leader)
func (s *Server) waitReady(ctx context.Context) error {
	for {
		_, _, err := s.store.Horizon()
		if err == nil {
			return nil
		}
		log.Infof("backend not ready: %v", err)
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "backend not ready")
		case <-time.After(readyPollInterval):
		}
	}
}

// start initializes the node, recovers pending background tasks and starts the scheduler
func (s *Server) start(ctx context.Context) error {
	if err := s.init(); err != nil {
		return err
	}
	if err := s.waitReady(ctx); err != nil {
		return err
	}

	n, err := s.sched.Recover(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to recover tasks")
	}
	if n > 0 {
		log.Infof("recovered %d background tasks", n)
	}
	s.sched.Start()

	s.http = &http.Server{
		Addr:    s.config.Endpoint,
		Handler: NewHandler(s.mgr, s.sched, s.config.LogLevel == "debug"),
	}
	log.Infof("scoll setup completed successfully")
	return nil
}

// Serve starts the node and serves the HTTP API until Shutdown is called
func (s *Server) Serve() error {
	if err := s.start(context.Background()); err != nil {
		return multierror.Append(err, s.close()).ErrorOrNil()
	}

	log.Infof("Starting HTTP server on %s", s.config.Endpoint)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server, the scheduler and the backend
func (s *Server) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "http server"))
		}
	}
	if err := s.close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *Server) close() error {
	var result *multierror.Error
	if s.sched != nil {
		if err := s.sched.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "scheduler"))
		}
	}
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	return result.ErrorOrNil()
}
