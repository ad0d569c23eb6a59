// Package executor wires every other package into the single explicit
// system-context object bootstrap constructs once: global process state is
// threaded explicitly instead of living in ambient singletons. Executor is
// the concrete implementation of pkg/rpc.WorkerExecutorServer, wired in a
// conventional order: storage first, then the services built on it, then
// the network-facing layers last.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/golem-io/worker-executor/pkg/component"
	"github.com/golem-io/worker-executor/pkg/config"
	"github.com/golem-io/worker-executor/pkg/enumeration"
	"github.com/golem-io/worker-executor/pkg/events"
	"github.com/golem-io/worker-executor/pkg/golemerror"
	"github.com/golem-io/worker-executor/pkg/host"
	"github.com/golem-io/worker-executor/pkg/log"
	"github.com/golem-io/worker-executor/pkg/metrics"
	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/promise"
	"github.com/golem-io/worker-executor/pkg/registry"
	"github.com/golem-io/worker-executor/pkg/rpc"
	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
	"github.com/golem-io/worker-executor/pkg/worker"
)

// Executor is the system context: every durable-execution component for
// one worker-executor node, wired together once at bootstrap and threaded
// explicitly to every RPC handler rather than reached via a package-level
// singleton.
type Executor struct {
	cfg    config.Config
	logger zerolog.Logger

	store      *storage.BoltStore
	oplogs     *oplog.Factory
	components *component.Service
	files      *component.FileLoader
	runtime    *host.Runtime
	promises   *promise.Service
	timers     *promise.TimerWheel
	broker     *events.Broker
	metadata   *enumeration.Store
	scanner    *enumeration.Scanner
	registry   *registry.Registry
	shard      *registry.ShardClient
	fabric     *rpc.Fabric
	collector  *metrics.Collector

	closeOnce sync.Once
}

// New constructs an Executor bound to cfg's durable state directory,
// opening (but not yet serving) every subsystem. Close releases the
// storage handle and background loops.
func New(ctx context.Context, cfg config.Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage at %s: %w", cfg.DataDir, err)
	}

	oplogs := oplog.NewFactory(store, store, store, oplog.DefaultOptions())
	components := component.NewService(store, store)
	files := component.NewFileLoader(filepath.Join(cfg.DataDir, "files"), components)
	rt, err := host.NewRuntime(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing wasm runtime: %w", err)
	}
	promises := promise.NewService(store, oplogs)

	broker := events.NewBroker()
	broker.Start()

	metadataStore := enumeration.NewStore(store)
	reg := registry.NewRegistry(cfg.RegistryCapacity)

	e := &Executor{
		cfg:        cfg,
		logger:     log.WithComponent("executor"),
		store:      store,
		oplogs:     oplogs,
		components: components,
		files:      files,
		runtime:    rt,
		promises:   promises,
		broker:     broker,
		metadata:   metadataStore,
		registry:   reg,
	}
	e.scanner = enumeration.NewScanner(metadataStore, resolverFunc(e.resolveStatus))
	e.timers = promise.NewTimerWheel(store, time.Second, e.fireScheduledEvent)

	if cfg.ShardManagerAddr != "" {
		shard, err := registry.NewShardClient(cfg.NodeName, cfg.ShardManagerAddr)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connecting to shard manager: %w", err)
		}
		e.shard = shard
	}
	e.fabric = rpc.NewFabric(reg, e.shard, nil, e.createOrRecover)
	e.collector = metrics.NewCollector(reg)

	return e, nil
}

// Start brings up every background loop (shard registration/heartbeat,
// the promise timer wheel, the metrics collector). The gRPC listener itself
// is pkg/api's Server, started by cmd/golem-worker-executor.
func (e *Executor) Start(ctx context.Context) error {
	if err := e.timers.Start(ctx); err != nil {
		return fmt.Errorf("starting timer wheel: %w", err)
	}
	e.collector.Start()
	if e.shard != nil {
		if err := e.shard.Register(ctx, e.cfg.ShardCapacity); err != nil {
			return fmt.Errorf("registering with shard manager: %w", err)
		}
		if err := e.shard.RefreshAssignments(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("initial shard assignment fetch failed; retrying on heartbeat loop")
		} else {
			e.registry.SetShardsAssigned(e.shard.OwnedCount())
		}
		go e.shard.StartHeartbeatLoop(ctx, e.cfg.HeartbeatPeriod)
	}
	return nil
}

// Close releases every resource Start/New opened. Safe to call more than
// once; only the first call does the work.
func (e *Executor) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		if e.shard != nil {
			if derr := e.shard.RequestDrain(ctx, e.shard.OwnedShards()); derr != nil {
				e.logger.Warn().Err(derr).Msg("requesting shard drain on shutdown")
			}
		}
		e.registry.Drain(ctx, func(types.WorkerId) bool { return false })
		e.collector.Stop()
		e.timers.Stop()
		e.broker.Stop()
		if e.shard != nil {
			_ = e.shard.Close()
		}
		if cerr := e.runtime.Close(ctx); cerr != nil {
			e.logger.Warn().Err(cerr).Msg("closing wasm runtime")
		}
		err = e.store.Close()
	})
	return err
}

// resolverFunc adapts a plain function to enumeration.Resolver.
type resolverFunc func(ctx context.Context, owned types.OwnedWorkerId) (types.WorkerStatus, error)

func (f resolverFunc) Resolve(ctx context.Context, owned types.OwnedWorkerId) (types.WorkerStatus, error) {
	return f(ctx, owned)
}

// resolveStatus recomputes a worker's authoritative status from its
// resident Engine when present, satisfying enumeration's precise=true path
// (status is "always reconcilable from the oplog tail"). A non-resident
// worker's cached status is already the last value written through by
// putMetadata, which is as precise as it gets without paying to recover the
// worker just to answer a status query.
func (e *Executor) resolveStatus(ctx context.Context, owned types.OwnedWorkerId) (types.WorkerStatus, error) {
	eng, ok := e.registry.Get(owned.WorkerId)
	if !ok {
		m, err := e.getCachedMetadata(ctx, owned)
		if err != nil {
			return "", err
		}
		return m.Status, nil
	}
	return executionStatusToWorkerStatus(eng.Status()), nil
}

func executionStatusToWorkerStatus(s worker.ExecutionStatus) types.WorkerStatus {
	switch s {
	case worker.StatusRunning:
		return types.WorkerStatusRunning
	case worker.StatusIdle:
		return types.WorkerStatusIdle
	case worker.StatusSuspended:
		return types.WorkerStatusSuspended
	case worker.StatusInterrupting, worker.StatusInterrupted:
		return types.WorkerStatusInterrupted
	case worker.StatusFailed:
		return types.WorkerStatusFailed
	default:
		return types.WorkerStatusRetrying
	}
}

func (e *Executor) getCachedMetadata(ctx context.Context, owned types.OwnedWorkerId) (types.WorkerMetadata, error) {
	all, err := e.metadata.All(ctx)
	if err != nil {
		return types.WorkerMetadata{}, err
	}
	for _, m := range all {
		if m.OwnedWorkerId == owned {
			return m, nil
		}
	}
	return types.WorkerMetadata{}, &golemerror.OplogError{WorkerID: owned.WorkerId.String(), Reason: "worker metadata not found"}
}

func (e *Executor) putMetadata(ctx context.Context, eng registry.Engine) {
	m := eng.Metadata()
	m.Status = executionStatusToWorkerStatus(eng.Status())
	if err := e.metadata.Put(ctx, m); err != nil {
		e.logger.Warn().Err(err).Str("worker_id", eng.WorkerID().String()).Msg("caching worker metadata")
	}
}

// createOrRecover is the rpc.EngineFactory Fabric calls whenever a worker
// it needs is not currently resident: it looks up the worker's cached
// metadata (written by CreateWorker) to learn its pinned component
// version, builds a fresh Engine, and drives it through Recover before
// handing it back for Fabric/Registry to cache.
func (e *Executor) createOrRecover(ctx context.Context, owned types.OwnedWorkerId) (registry.Engine, error) {
	m, err := e.getCachedMetadata(ctx, owned)
	if err != nil {
		return nil, err
	}
	eng, err := worker.NewEngine(ctx, owned, e.engineDeps())
	if err != nil {
		return nil, err
	}
	if err := eng.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recovering worker %s (version %d): %w", owned.WorkerId, m.ComponentVersion, err)
	}
	e.putMetadata(ctx, eng)
	return eng, nil
}

func (e *Executor) engineDeps() worker.Deps {
	return worker.Deps{
		Oplogs:     e.oplogs,
		Components: e.components,
		Files:      e.files,
		Runtime:    e.runtime,
		Promises:   e.promises,
		Events:     e.broker,
	}
}

// fireScheduledEvent is the TimerWheel's Fire callback: it completes the
// promise a sleep or delayed invocation was waiting on. Like every other
// Fire implementation, it cannot return an error to its caller; failures
// are logged instead.
func (e *Executor) fireScheduledEvent(ctx context.Context, id string, payload json.RawMessage) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		e.logger.Warn().Str("timer_id", id).Msg("malformed scheduled event id")
		return
	}
	var idx types.OplogIndex
	if _, err := fmt.Sscanf(parts[1], "%d", &idx); err != nil {
		e.logger.Warn().Err(err).Str("timer_id", id).Msg("malformed scheduled event index")
		return
	}
	workerID, err := parseWorkerID(parts[0])
	if err != nil {
		e.logger.Warn().Err(err).Str("timer_id", id).Msg("malformed scheduled event worker id")
		return
	}
	if _, err := e.promises.Complete(ctx, promise.ID{WorkerID: workerID, OplogIndex: idx}, payload); err != nil {
		e.logger.Warn().Err(err).Str("timer_id", id).Msg("completing scheduled promise")
	}
}

func parseWorkerID(s string) (types.WorkerId, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return types.WorkerId{}, fmt.Errorf("malformed worker id %q", s)
	}
	id, err := parseComponentID(parts[0])
	if err != nil {
		return types.WorkerId{}, err
	}
	return types.WorkerId{ComponentId: id, WorkerName: parts[1]}, nil
}

func parseComponentID(s string) (types.ComponentId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return types.ComponentId{}, fmt.Errorf("malformed component id %q: %w", s, err)
	}
	return types.ComponentId{UUID: u}, nil
}
