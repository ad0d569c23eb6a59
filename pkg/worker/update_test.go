package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/component"
	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/types"
)

// counterModule is a hand-assembled WASM binary holding one mutable i32
// global, equivalent to:
//
//	(module
//	  (global $n (mut i32) (i32.const 0))
//	  (func $bump (result i32)
//	    global.get $n  i32.const 1  i32.add  global.set $n  global.get $n)
//	  (func $save (result i32) global.get $n)
//	  (func $load (param i32) local.get 0 global.set $n)
//	  (export "bump" (func $bump))
//	  (export "golem:api/save-snapshot" (func $save))
//	  (export "golem:api/load-snapshot" (func $load)))
var counterModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x09, 0x02, // type section: 2 types
	0x60, 0x00, 0x01, 0x7f, // () -> i32
	0x60, 0x01, 0x7f, 0x00, // (i32) -> ()
	0x03, 0x04, 0x03, 0x00, 0x00, 0x01, // function section: bump, save use type 0; load uses type 1
	0x06, 0x06, 0x01, 0x7f, 0x01, 0x41, 0x00, 0x0b, // global section: one mut i32 = 0
	0x07, 0x3c, 0x03, // export section: 3 exports
	0x04, 'b', 'u', 'm', 'p', 0x00, 0x00,
	0x17, 'g', 'o', 'l', 'e', 'm', ':', 'a', 'p', 'i', '/', 's', 'a', 'v', 'e', '-', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', 0x00, 0x01,
	0x17, 'g', 'o', 'l', 'e', 'm', ':', 'a', 'p', 'i', '/', 'l', 'o', 'a', 'd', '-', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', 0x00, 0x02,
	0x0a, 0x19, 0x03, // code section: 3 bodies
	0x0b, 0x00, 0x23, 0x00, 0x41, 0x01, 0x6a, 0x24, 0x00, 0x23, 0x00, 0x0b, // bump
	0x04, 0x00, 0x23, 0x00, 0x0b, // save-snapshot
	0x06, 0x00, 0x20, 0x00, 0x24, 0x00, 0x0b, // load-snapshot
}

func newCounterRig(t *testing.T, versions ...uint64) (*testRig, context.Context) {
	t.Helper()
	rig, ctx := newTestRig(t)
	componentID := rig.ownedID.WorkerId.ComponentId
	for _, v := range versions {
		require.NoError(t, rig.store.PutComponent(ctx, componentID.String(), v, counterModule))
		require.NoError(t, rig.comps.PutManifest(ctx, componentID, types.ComponentVersion(v), component.Manifest{
			Exports: []component.FunctionSignature{{Name: "bump", Results: []string{"i32"}}},
		}))
	}
	return rig, ctx
}

func TestSnapshotUpdateCarriesStateToNewVersion(t *testing.T) {
	rig, ctx := newCounterRig(t, 1, 2)

	engine, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, engine.Create(ctx, 1, nil, nil, types.DefaultRetryPolicy()))
	require.NoError(t, engine.Recover(ctx))
	t.Cleanup(func() { _ = engine.Stop(ctx) })

	results, err := engine.Invoke(ctx, "bump", nil, "")
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, results)
	results, err = engine.Invoke(ctx, "bump", nil, "")
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, results)

	require.NoError(t, engine.Update(ctx, 2, UpdateSnapshot))
	require.Equal(t, types.ComponentVersion(2), engine.Metadata().ComponentVersion)

	// The counter survives the version swap through the snapshot exchange.
	results, err = engine.Invoke(ctx, "bump", nil, "")
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, results)

	// Scan back for the SuccessfulUpdate carrying the stored snapshot.
	entries, err := engine.ol.Read(ctx, 1, 0)
	require.NoError(t, err)
	var update *oplog.Entry
	for i := range entries {
		if entries[i].Kind == oplog.KindSuccessfulUpdate {
			update = &entries[i]
		}
	}
	require.NotNil(t, update)
	require.Equal(t, types.ComponentVersion(2), update.SuccessfulUpdate.TargetVersion)
	require.NotEmpty(t, update.SuccessfulUpdate.Snapshot)
}

func TestRecoveryAfterSnapshotUpdateResumesFromSnapshot(t *testing.T) {
	rig, ctx := newCounterRig(t, 1, 2)

	first, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, first.Create(ctx, 1, nil, nil, types.DefaultRetryPolicy()))
	require.NoError(t, first.Recover(ctx))

	for i := 0; i < 2; i++ {
		_, err = first.Invoke(ctx, "bump", nil, "")
		require.NoError(t, err)
	}
	require.NoError(t, first.Update(ctx, 2, UpdateSnapshot))

	// One more recorded invocation after the update.
	results, err := first.Invoke(ctx, "bump", nil, "")
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, results)
	require.NoError(t, first.Suspend(ctx, "test teardown"))

	// A fresh Engine must re-seed the snapshot (counter = 2), replay only
	// the post-update invocation (counter = 3), and then serve live.
	second, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, second.Recover(ctx))
	t.Cleanup(func() { _ = second.Stop(ctx) })
	require.Equal(t, types.ComponentVersion(2), second.Metadata().ComponentVersion)

	results, err = second.Invoke(ctx, "bump", nil, "")
	require.NoError(t, err)
	require.Equal(t, []uint64{4}, results)
}

func TestAutomaticUpdateReplaysHistoryOntoNewVersion(t *testing.T) {
	rig, ctx := newCounterRig(t, 1, 2)

	engine, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, engine.Create(ctx, 1, nil, nil, types.DefaultRetryPolicy()))
	require.NoError(t, engine.Recover(ctx))
	t.Cleanup(func() { _ = engine.Stop(ctx) })

	for i := 0; i < 2; i++ {
		_, err = engine.Invoke(ctx, "bump", nil, "")
		require.NoError(t, err)
	}

	require.NoError(t, engine.Update(ctx, 2, UpdateAutomatic))
	require.Equal(t, types.ComponentVersion(2), engine.Metadata().ComponentVersion)

	// The replayed history rebuilt the counter on the new instance.
	results, err := engine.Invoke(ctx, "bump", nil, "")
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, results)
}

func TestFailedUpdateLeavesVersionPointerUntouched(t *testing.T) {
	rig, ctx := newCounterRig(t, 1) // version 3 is never published

	engine, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, engine.Create(ctx, 1, nil, nil, types.DefaultRetryPolicy()))
	require.NoError(t, engine.Recover(ctx))
	t.Cleanup(func() { _ = engine.Stop(ctx) })

	_, err = engine.Invoke(ctx, "bump", nil, "")
	require.NoError(t, err)

	require.Error(t, engine.Update(ctx, 3, UpdateAutomatic))
	require.Equal(t, types.ComponentVersion(1), engine.Metadata().ComponentVersion)

	entries, err := engine.ol.Read(ctx, 1, 0)
	require.NoError(t, err)
	var failed bool
	for _, entry := range entries {
		if entry.Kind == oplog.KindFailedUpdate {
			require.Equal(t, types.ComponentVersion(3), entry.FailedUpdate.TargetVersion)
			failed = true
		}
	}
	require.True(t, failed)

	// The old instance keeps serving.
	results, err := engine.Invoke(ctx, "bump", nil, "")
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, results)
}

func TestUpdateRejectsNonNewerVersion(t *testing.T) {
	rig, ctx := newCounterRig(t, 1)

	engine, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, engine.Create(ctx, 1, nil, nil, types.DefaultRetryPolicy()))
	require.NoError(t, engine.Recover(ctx))
	t.Cleanup(func() { _ = engine.Stop(ctx) })

	require.Error(t, engine.Update(ctx, 1, UpdateSnapshot))
}

func TestPluginActivationSurvivesRecovery(t *testing.T) {
	rig, ctx := newCounterRig(t, 1)

	first, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, first.Create(ctx, 1, nil, nil, types.DefaultRetryPolicy()))
	require.NoError(t, first.Recover(ctx))

	require.NoError(t, first.ActivatePlugin(ctx, "tracing"))
	require.NoError(t, first.ActivatePlugin(ctx, "metrics"))
	require.NoError(t, first.DeactivatePlugin(ctx, "metrics"))
	require.Equal(t, []string{"tracing"}, first.Metadata().ActivePlugins)
	require.NoError(t, first.Suspend(ctx, "test teardown"))

	second, err := NewEngine(ctx, rig.ownedID, rig.deps())
	require.NoError(t, err)
	require.NoError(t, second.Recover(ctx))
	t.Cleanup(func() { _ = second.Stop(ctx) })
	require.Equal(t, []string{"tracing"}, second.Metadata().ActivePlugins)
}
