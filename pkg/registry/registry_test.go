package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/types"
	"github.com/golem-io/worker-executor/pkg/worker"
)

type fakeEngine struct {
	id        types.WorkerId
	suspended bool
	stopped   bool
}

func (f *fakeEngine) WorkerID() types.WorkerId           { return f.id }
func (f *fakeEngine) Status() worker.ExecutionStatus     { return worker.StatusIdle }
func (f *fakeEngine) Metadata() types.WorkerMetadata {
	return types.WorkerMetadata{OwnedWorkerId: types.OwnedWorkerId{WorkerId: f.id}}
}
func (f *fakeEngine) Invoke(ctx context.Context, functionName string, args []uint64, idempotencyKey string) ([]uint64, error) {
	return nil, nil
}
func (f *fakeEngine) Interrupt(ctx context.Context, kind worker.InterruptKind) error {
	return nil
}
func (f *fakeEngine) Suspend(ctx context.Context, r string) error {
	f.suspended = true
	return nil
}
func (f *fakeEngine) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}

func newTestWorkerID(name string) types.WorkerId {
	return types.WorkerId{ComponentId: types.NewComponentId(), WorkerName: name}
}

func TestGetOrCreateReturnsSameInstanceOnRepeat(t *testing.T) {
	r := NewRegistry(0)
	id := newTestWorkerID("w1")
	calls := 0
	create := func() (Engine, error) {
		calls++
		return &fakeEngine{id: id}, nil
	}

	e1, err := r.GetOrCreate(context.Background(), id, create)
	require.NoError(t, err)
	e2, err := r.GetOrCreate(context.Background(), id, create)
	require.NoError(t, err)

	require.Same(t, e1, e2)
	require.Equal(t, 1, calls)
}

func TestEvictionSkipsPinnedEntries(t *testing.T) {
	r := NewRegistry(1)
	pinned := newTestWorkerID("pinned")
	other := newTestWorkerID("other")

	pe := &fakeEngine{id: pinned}
	_, err := r.GetOrCreate(context.Background(), pinned, func() (Engine, error) { return pe, nil })
	require.NoError(t, err)
	r.Pin(pinned)

	oe := &fakeEngine{id: other}
	_, err = r.GetOrCreate(context.Background(), other, func() (Engine, error) { return oe, nil })
	require.NoError(t, err)

	// Capacity 1 with the pinned entry already resident: eviction skips the
	// pinned worker and evicts the unpinned one instead.
	_, ok := r.Get(pinned)
	require.True(t, ok)
}

func TestWeakHandleInvalidAfterEviction(t *testing.T) {
	r := NewRegistry(0)
	id := newTestWorkerID("w")
	e := &fakeEngine{id: id}
	_, err := r.GetOrCreate(context.Background(), id, func() (Engine, error) { return e, nil })
	require.NoError(t, err)

	weak, ok := r.Weak(id)
	require.True(t, ok)
	_, ok = weak.Resolve()
	require.True(t, ok)

	r.Remove(id)
	_, ok = weak.Resolve()
	require.False(t, ok, "a dropped worker's weak handle must resolve as a no-op, not the evicted instance")
}

func TestDrainEvictsNonOwnedShards(t *testing.T) {
	r := NewRegistry(0)
	keep := newTestWorkerID("keep")
	drop := newTestWorkerID("drop")

	keepEngine := &fakeEngine{id: keep}
	dropEngine := &fakeEngine{id: drop}
	_, err := r.GetOrCreate(context.Background(), keep, func() (Engine, error) { return keepEngine, nil })
	require.NoError(t, err)
	_, err = r.GetOrCreate(context.Background(), drop, func() (Engine, error) { return dropEngine, nil })
	require.NoError(t, err)

	n := r.Drain(context.Background(), func(id types.WorkerId) bool { return id == keep })
	require.Equal(t, 1, n)
	require.True(t, dropEngine.suspended)

	_, ok := r.Get(keep)
	require.True(t, ok)
	_, ok = r.Get(drop)
	require.False(t, ok)
}
