package rpc

import (
	"context"
	"fmt"

	"github.com/golem-io/worker-executor/pkg/log"
	"github.com/golem-io/worker-executor/pkg/metrics"
	"github.com/golem-io/worker-executor/pkg/registry"
	"github.com/golem-io/worker-executor/pkg/types"
)

// EngineFactory creates (or recovers) the Engine for a worker not currently
// resident in Fabric's registry. pkg/executor supplies this, closing over
// component resolution, the oplog factory, and the host runtime.
type EngineFactory func(ctx context.Context, owned types.OwnedWorkerId) (registry.Engine, error)

// Fabric is the durable RPC fabric: the single place every worker-to-worker
// call passes through, whether the target is resident on this node or owned
// by another shard. Self-invocation and invocation cycles are handled by
// routing every call through the target worker's own FIFO queue
// (worker.Engine.Invoke) rather than a direct call-stack push, so a worker
// that (transitively) invokes itself just enqueues another entry on its own
// queue instead of deadlocking or recursing.
type Fabric struct {
	registry *registry.Registry
	shard    *registry.ShardClient
	proxy    *Proxy
	create   EngineFactory
}

func NewFabric(reg *registry.Registry, shard *registry.ShardClient, proxy *Proxy, create EngineFactory) *Fabric {
	return &Fabric{registry: reg, shard: shard, proxy: proxy, create: create}
}

// resolveLocal returns the resident (or freshly created) Engine for owned
// if this node owns its shard; ok=false means the caller must proxy the
// call to whichever node does (shard safety).
func (f *Fabric) resolveLocal(ctx context.Context, owned types.OwnedWorkerId) (registry.Engine, bool, error) {
	if f.shard != nil && !f.shard.Owns(owned.WorkerId) {
		return nil, false, nil
	}
	eng, err := f.registry.GetOrCreate(ctx, owned.WorkerId, func() (registry.Engine, error) {
		return f.create(ctx, owned)
	})
	if err != nil {
		return nil, true, err
	}
	return eng, true, nil
}

// InvokeAndAwait runs fn against target and blocks for its result, routing
// to the local registry or the owning node's Proxy as needed if the
// target worker's shard is owned locally, it executes directly; otherwise
// it is forwarded to the owning node over the same RPC surface.
func (f *Fabric) InvokeAndAwait(ctx context.Context, owned types.OwnedWorkerId, fn string, args []uint64, idempotencyKey string) ([]uint64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.InvocationDuration, owned.WorkerId.ComponentId.String())
	metrics.InvocationsTotal.WithLabelValues(owned.WorkerId.ComponentId.String()).Inc()

	eng, owns, err := f.resolveLocal(ctx, owned)
	if err != nil {
		return nil, err
	}
	if owns {
		return eng.Invoke(ctx, fn, args, idempotencyKey)
	}
	if f.proxy == nil {
		return nil, fmt.Errorf("worker %s not owned locally and no proxy configured", owned.WorkerId)
	}
	resp, err := f.proxy.InvokeAndAwait(ctx, owned, fn, args, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if resp.Failure != nil {
		return nil, fmt.Errorf("remote invocation failed: %s", resp.Failure.Message)
	}
	if resp.Redirect != nil {
		return nil, fmt.Errorf("remote node redirected to shard %d; stale routing table", resp.Redirect.ShardNumber)
	}
	return resp.Success.Results, nil
}

// Invoke is the fire-and-forget variant. For a locally owned target it
// hands the call to a background goroutine and returns at once, before the
// call is enqueued or recorded in any oplog; a failure is only logged. A
// remote target's call is forwarded through the Proxy's Invoke RPC.
func (f *Fabric) Invoke(ctx context.Context, owned types.OwnedWorkerId, fn string, args []uint64, idempotencyKey string) error {
	eng, owns, err := f.resolveLocal(ctx, owned)
	if err != nil {
		return err
	}
	if owns {
		go func() {
			if _, err := eng.Invoke(context.Background(), fn, args, idempotencyKey); err != nil {
				fabricLogger := log.WithComponent("fabric")
				fabricLogger.Warn().Err(err).Str("worker_id", owned.WorkerId.String()).Msg("fire-and-forget invocation failed")
			}
		}()
		return nil
	}
	if f.proxy == nil {
		return fmt.Errorf("worker %s not owned locally and no proxy configured", owned.WorkerId)
	}
	return f.proxy.Invoke(ctx, owned, fn, args, idempotencyKey)
}

// Owns reports whether id's shard is owned by this node, independent of
// residency (a shard can be owned with the worker not yet loaded).
func (f *Fabric) Owns(id types.WorkerId) bool {
	if f.shard == nil {
		return true // single-node deployment: everything is local
	}
	return f.shard.Owns(id)
}
