package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/component"
	"github.com/golem-io/worker-executor/pkg/events"
	"github.com/golem-io/worker-executor/pkg/host"
	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

// addModule is a hand-assembled minimal WASM binary (no compiler
// available in this environment) equivalent to:
//
//	(module
//	  (func $add (param i32 i32) (result i32)
//	    local.get 0
//	    local.get 1
//	    i32.add)
//	  (export "add" (func $add)))
var addModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f, // type section: (i32,i32)->i32
	0x03, 0x02, 0x01, 0x00, // function section: fn 0 uses type 0
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00, // export section: "add" -> func 0
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b, // code section
}

type testRig struct {
	store    *storage.MemoryStore
	runtime  *host.Runtime
	comps    *component.Service
	files    *component.FileLoader
	broker   *events.Broker
	ownedID  types.OwnedWorkerId
}

func newTestRig(t *testing.T) (*testRig, context.Context) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	runtime, err := host.NewRuntime(ctx)
	require.NoError(t, err)
	comps := component.NewService(store, store)
	files := component.NewFileLoader(t.TempDir(), comps)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	componentID := types.NewComponentId()
	require.NoError(t, store.PutComponent(ctx, componentID.String(), 1, addModule))
	require.NoError(t, comps.PutManifest(ctx, componentID, 1, component.Manifest{
		Exports: []component.FunctionSignature{{Name: "add", Params: []string{"i32", "i32"}, Results: []string{"i32"}}},
	}))

	owned := types.OwnedWorkerId{
		AccountId: types.AccountId{Value: "acct-1"},
		WorkerId:  types.WorkerId{ComponentId: componentID, WorkerName: "w1"},
	}
	return &testRig{store: store, runtime: runtime, comps: comps, files: files, broker: broker, ownedID: owned}, ctx
}

func (r *testRig) deps() Deps {
	return Deps{
		Oplogs:     oplog.NewFactory(r.store, r.store, r.store, oplog.DefaultOptions()),
		Components: r.comps,
		Files:      r.files,
		Runtime:    r.runtime,
		Events:     r.broker,
	}
}

func TestCreateRecoverInvokeRoundTrip(t *testing.T) {
	rig, ctx := newTestRig(t)

	engine, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, engine.Create(ctx, 1, nil, nil, types.DefaultRetryPolicy()))
	require.NoError(t, engine.Recover(ctx))
	t.Cleanup(func() { _ = engine.Stop(ctx) })
	require.Equal(t, StatusIdle, engine.Status())

	results, err := engine.Invoke(ctx, "add", []uint64{2, 3}, "")
	require.NoError(t, err)
	require.Equal(t, []uint64{5}, results)
	require.Equal(t, StatusIdle, engine.Status())
}

func TestRecoverReplaysPastInvocationAgainstFreshInstance(t *testing.T) {
	rig, ctx := newTestRig(t)

	first, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, first.Create(ctx, 1, nil, nil, types.DefaultRetryPolicy()))
	require.NoError(t, first.Recover(ctx))

	results, err := first.Invoke(ctx, "add", []uint64{10, 20}, "")
	require.NoError(t, err)
	require.Equal(t, []uint64{30}, results)

	require.NoError(t, first.Suspend(ctx, "test teardown"))

	// A fresh Engine over the same oplog must replay the recorded
	// invocation against a brand-new instance before accepting new work.
	second, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, second.Recover(ctx))
	t.Cleanup(func() { _ = second.Stop(ctx) })
	require.Equal(t, StatusIdle, second.Status())

	results, err = second.Invoke(ctx, "add", []uint64{1, 1}, "")
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, results)
}

func TestInterruptStopsQueuedWork(t *testing.T) {
	rig, ctx := newTestRig(t)

	engine, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, engine.Create(ctx, 1, nil, nil, types.DefaultRetryPolicy()))
	require.NoError(t, engine.Recover(ctx))
	t.Cleanup(func() { _ = engine.Stop(ctx) })

	require.NoError(t, engine.Interrupt(ctx, InterruptKindInterrupt))

	_, err = engine.Invoke(ctx, "add", []uint64{1, 2}, "")
	require.Error(t, err)
}
