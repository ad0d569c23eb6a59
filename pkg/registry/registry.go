// Package registry implements the active-worker registry and shard
// ownership enforcement: a bounded in-memory cache of live worker.Engine
// instances with LRU eviction and pinning, plus the client side of the
// external shard-manager interface every RPC entrypoint consults before
// touching a worker (the executor never mutates a worker whose shard it
// does not currently own). The LRU is hand-rolled on container/list + map;
// nothing here is hot enough to justify a dedicated cache dependency.
package registry

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/golem-io/worker-executor/pkg/log"
	"github.com/golem-io/worker-executor/pkg/metrics"
	"github.com/golem-io/worker-executor/pkg/types"
	"github.com/golem-io/worker-executor/pkg/worker"
)

// Engine is the subset of *worker.Engine the registry depends on, kept as
// an interface so unit tests can register fakes without standing up a real
// wazero runtime.
type Engine interface {
	WorkerID() types.WorkerId
	Status() worker.ExecutionStatus
	Metadata() types.WorkerMetadata
	Invoke(ctx context.Context, functionName string, args []uint64, idempotencyKey string) ([]uint64, error)
	Interrupt(ctx context.Context, kind worker.InterruptKind) error
	Suspend(ctx context.Context, reason string) error
	Stop(ctx context.Context) error
}

type entry struct {
	engine     Engine
	generation uint64
	pinCount   int
	elem       *list.Element // position in the LRU list
}

// Registry is the bounded in-memory map from WorkerId to a live Engine.
// A pinned worker (Pin/Unpin) is skipped by eviction until unpinned. No code
// in this module pins a worker automatically: an open external resource (a
// streaming HTTP body, an open BeginRemoteWrite bracket, an in-flight RPC)
// does not by itself keep a worker from being evicted.
type Registry struct {
	mu       sync.Mutex
	capacity int
	entries  map[types.WorkerId]*entry
	lru      *list.List // front = most recently used

	nextGeneration uint64
	shardsAssigned int
}

// NewRegistry constructs a Registry bounded to capacity resident workers.
// capacity <= 0 means unbounded (eviction never runs).
func NewRegistry(capacity int) *Registry {
	return &Registry{
		capacity: capacity,
		entries:  make(map[types.WorkerId]*entry),
		lru:      list.New(),
	}
}

// Get returns the resident Engine for id, bumping its LRU position.
func (r *Registry) Get(id types.WorkerId) (Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	r.lru.MoveToFront(e.elem)
	return e.engine, true
}

// GetOrCreate returns the resident Engine for id, or calls create to
// instantiate and register one if id is not currently resident. create is
// invoked outside of the registry lock to avoid serializing every
// worker's (potentially slow) recovery behind a single mutex.
func (r *Registry) GetOrCreate(ctx context.Context, id types.WorkerId, create func() (Engine, error)) (Engine, error) {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		r.lru.MoveToFront(e.elem)
		r.mu.Unlock()
		return e.engine, nil
	}
	r.mu.Unlock()

	eng, err := create()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[id]; ok {
		// Lost a race against a concurrent GetOrCreate for the same id;
		// keep the winner, discard the new instance.
		r.lru.MoveToFront(existing.elem)
		go func() { _ = eng.Stop(context.Background()) }()
		return existing.engine, nil
	}
	r.insertLocked(id, eng)
	return eng, nil
}

func (r *Registry) insertLocked(id types.WorkerId, eng Engine) {
	r.nextGeneration++
	e := &entry{engine: eng, generation: r.nextGeneration}
	e.elem = r.lru.PushFront(id)
	r.entries[id] = e
	metrics.ActiveWorkersTotal.Set(float64(len(r.entries)))
	r.evictLocked()
}

// Pin increments id's pin count, excluding it from LRU eviction until a
// matching Unpin. Pinning an id not currently resident is a no-op.
func (r *Registry) Pin(id types.WorkerId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.pinCount++
	}
}

// Unpin decrements id's pin count.
func (r *Registry) Unpin(id types.WorkerId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok && e.pinCount > 0 {
		e.pinCount--
	}
}

// evictLocked evicts the least-recently-used unpinned entry once the
// registry is over capacity. Called with r.mu held.
func (r *Registry) evictLocked() {
	if r.capacity <= 0 {
		return
	}
	for len(r.entries) > r.capacity {
		evicted := r.evictOneLocked()
		if !evicted {
			return // every resident entry is pinned; cannot shrink further
		}
	}
}

func (r *Registry) evictOneLocked() bool {
	for el := r.lru.Back(); el != nil; el = el.Prev() {
		id := el.Value.(types.WorkerId)
		e := r.entries[id]
		if e.pinCount > 0 {
			continue
		}
		r.removeLocked(id)
		metrics.RegistryEvictionsTotal.Inc()
		go func() { _ = e.engine.Suspend(context.Background(), "lru_eviction") }()
		return true
	}
	return false
}

func (r *Registry) removeLocked(id types.WorkerId) {
	e, ok := r.entries[id]
	if !ok {
		return
	}
	r.lru.Remove(e.elem)
	delete(r.entries, id)
	metrics.ActiveWorkersTotal.Set(float64(len(r.entries)))
}

// Remove drops id from the registry without suspending its engine (the
// caller is expected to have already torn it down, e.g. after Delete).
func (r *Registry) Remove(id types.WorkerId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

// Len returns the number of currently resident workers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// WeakHandle is a generation-checked index into the registry, not a
// pointer, so pending TimerWheel/promise callbacks can hold one across a
// worker's eviction without keeping the Engine alive ("able to drop the
// worker even while scheduler timers that reference it are pending — they
// observe the missing worker as a no-op").
type WeakHandle struct {
	registry   *Registry
	id         types.WorkerId
	generation uint64
}

// Weak returns a WeakHandle for id's current resident generation, or
// ok=false if id is not currently resident.
func (r *Registry) Weak(id types.WorkerId) (WeakHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return WeakHandle{}, false
	}
	return WeakHandle{registry: r, id: id, generation: e.generation}, true
}

// Resolve returns the live Engine behind h, or ok=false if the worker has
// since been evicted/replaced (a new resident for the same id gets a new
// generation, so a stale handle never resolves to the wrong instance).
func (h WeakHandle) Resolve() (Engine, bool) {
	if h.registry == nil {
		return nil, false
	}
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	e, ok := h.registry.entries[h.id]
	if !ok || e.generation != h.generation {
		return nil, false
	}
	return e.engine, true
}

// Drain evicts every resident worker for which owns reports false (its
// shard is no longer owned by this node), suspending
// each at exported-invocation granularity (Open Question, resolved in the
// decision log: an in-flight top-level exported call is allowed to finish
// before the worker is suspended and evicted, rather than cutting off mid
// host-call — draining mid-call would require replaying a partially-open
// atomic/remote-write bracket on the new shard owner).
func (r *Registry) Drain(ctx context.Context, owns func(types.WorkerId) bool) int {
	r.mu.Lock()
	var toDrain []types.WorkerId
	for id := range r.entries {
		if !owns(id) {
			toDrain = append(toDrain, id)
		}
	}
	r.mu.Unlock()

	logger := log.WithComponent("registry")
	for _, id := range toDrain {
		r.mu.Lock()
		e, ok := r.entries[id]
		r.mu.Unlock()
		if !ok {
			continue
		}
		// Engine.process() already serializes invocations through its own
		// FIFO queue, so Suspend here blocks until the current top-level
		// invocation (and every host call nested inside it) has finished.
		if err := e.engine.Suspend(ctx, "shard_drain"); err != nil {
			logger.Warn().Err(err).Str("worker_id", id.String()).Msg("error suspending worker during shard drain")
		}
		r.mu.Lock()
		r.removeLocked(id)
		r.mu.Unlock()
	}
	if len(toDrain) > 0 {
		metrics.ShardDrainsTotal.Inc()
	}
	return len(toDrain)
}

// ErrNotResident describes a lookup that expected a resident worker and
// found none. No code in this module returns it; the Interrupt handler
// treats a non-resident worker as a no-op.
var ErrNotResident = fmt.Errorf("worker not resident in registry")

// ActiveCount implements metrics.WorkerLister.
func (r *Registry) ActiveCount() int {
	return r.Len()
}

// CountByStatus implements metrics.WorkerLister, tallying resident workers
// by their current ExecutionStatus.
func (r *Registry) CountByStatus() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int, len(r.entries))
	for _, e := range r.entries {
		counts[e.engine.Status().String()]++
	}
	return counts
}

// ShardsAssigned implements metrics.WorkerLister. A registry with no
// ShardClient (single-node deployment) reports 0; pkg/executor sets the
// real count through SetShardsAssigned when a shard manager is configured.
func (r *Registry) ShardsAssigned() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shardsAssigned
}

// SetShardsAssigned records the current owned-shard count for metrics
// reporting (pkg/executor calls this after each ShardClient.RefreshAssignments).
func (r *Registry) SetShardsAssigned(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shardsAssigned = n
}
