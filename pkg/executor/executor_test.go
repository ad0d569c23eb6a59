package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/component"
	"github.com/golem-io/worker-executor/pkg/config"
	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/promise"
	"github.com/golem-io/worker-executor/pkg/rpc"
	"github.com/golem-io/worker-executor/pkg/types"
)

// addModule is a hand-assembled minimal WASM binary exporting
// add(i32, i32) -> i32.
var addModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func newTestExecutor(t *testing.T, dataDir string) (*Executor, context.Context) {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.MetricsAddr = ""
	exec, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close(context.Background()) })
	return exec, ctx
}

func seedComponent(t *testing.T, ctx context.Context, exec *Executor) types.OwnedWorkerId {
	t.Helper()
	componentID := types.NewComponentId()
	require.NoError(t, exec.store.PutComponent(ctx, componentID.String(), 1, addModule))
	require.NoError(t, exec.components.PutManifest(ctx, componentID, 1, component.Manifest{
		Exports: []component.FunctionSignature{{Name: "add", Params: []string{"i32", "i32"}, Results: []string{"i32"}}},
	}))
	return types.OwnedWorkerId{
		AccountId: types.AccountId{Value: "acct-1"},
		WorkerId:  types.WorkerId{ComponentId: componentID, WorkerName: "w1"},
	}
}

func createWorker(t *testing.T, ctx context.Context, exec *Executor, owned types.OwnedWorkerId) {
	t.Helper()
	resp, err := exec.CreateWorker(ctx, &rpc.CreateWorkerRequest{OwnedWorkerId: owned, ComponentVersion: 1})
	require.NoError(t, err)
	require.Nil(t, resp.Failure)
	require.Nil(t, resp.Redirect)
	require.Equal(t, owned.WorkerId, resp.Success.WorkerId)
}

func TestCreateInvokeMetadataRoundTrip(t *testing.T) {
	exec, ctx := newTestExecutor(t, t.TempDir())
	owned := seedComponent(t, ctx, exec)
	createWorker(t, ctx, exec, owned)

	inv, err := exec.InvokeAndAwait(ctx, &rpc.InvokeAndAwaitRequest{
		OwnedWorkerId: owned, FunctionName: "add", Args: []uint64{2, 3},
	})
	require.NoError(t, err)
	require.Nil(t, inv.Failure)
	require.Equal(t, []uint64{5}, inv.Success.Results)

	meta, err := exec.GetMetadata(ctx, &rpc.GetMetadataRequest{OwnedWorkerId: owned})
	require.NoError(t, err)
	require.Nil(t, meta.Failure)
	require.Equal(t, types.ComponentVersion(1), meta.Success.Metadata.ComponentVersion)
	require.Equal(t, types.WorkerStatusIdle, meta.Success.Metadata.Status)

	olResp, err := exec.GetOplog(ctx, &rpc.GetOplogRequest{OwnedWorkerId: owned, From: 1})
	require.NoError(t, err)
	require.Nil(t, olResp.Failure)
	var entries []oplog.Entry
	require.NoError(t, json.Unmarshal(olResp.Success.Entries, &entries))
	require.Equal(t, oplog.KindCreate, entries[0].Kind)
	var kinds []oplog.EntryKind
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, oplog.KindExportedFunctionInvoked)
	require.Contains(t, kinds, oplog.KindExportedFunctionComplete)

	list, err := exec.GetWorkersMetadata(ctx, &rpc.ListWorkersRequest{})
	require.NoError(t, err)
	require.Nil(t, list.Failure)
	require.Len(t, list.Success.Workers, 1)
}

func TestInvocationSurvivesExecutorRestart(t *testing.T) {
	dataDir := t.TempDir()

	first, ctx := newTestExecutor(t, dataDir)
	owned := seedComponent(t, ctx, first)
	createWorker(t, ctx, first, owned)

	inv, err := first.InvokeAndAwait(ctx, &rpc.InvokeAndAwaitRequest{
		OwnedWorkerId: owned, FunctionName: "add", Args: []uint64{10, 20},
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{30}, inv.Success.Results)
	require.NoError(t, first.Close(ctx))

	// A fresh process over the same data dir recovers the worker by
	// replaying its oplog before serving the new invocation.
	second, ctx := newTestExecutor(t, dataDir)
	inv, err = second.InvokeAndAwait(ctx, &rpc.InvokeAndAwaitRequest{
		OwnedWorkerId: owned, FunctionName: "add", Args: []uint64{4, 4},
	})
	require.NoError(t, err)
	require.Nil(t, inv.Failure)
	require.Equal(t, []uint64{8}, inv.Success.Results)
}

func TestCompletePromiseIsIdempotent(t *testing.T) {
	exec, ctx := newTestExecutor(t, t.TempDir())
	owned := seedComponent(t, ctx, exec)

	id := promise.ID{WorkerID: owned.WorkerId, OplogIndex: 7}
	require.NoError(t, exec.promises.Create(ctx, id))

	payload := json.RawMessage(`{"ok":7}`)
	resp, err := exec.CompletePromise(ctx, &rpc.CompletePromiseRequest{
		WorkerId: owned.WorkerId, OplogIndex: 7, Payload: payload,
	})
	require.NoError(t, err)
	require.Nil(t, resp.Failure)
	require.False(t, resp.Success.AlreadyCompleted)

	resp, err = exec.CompletePromise(ctx, &rpc.CompletePromiseRequest{
		WorkerId: owned.WorkerId, OplogIndex: 7, Payload: payload,
	})
	require.NoError(t, err)
	require.Nil(t, resp.Failure)
	require.True(t, resp.Success.AlreadyCompleted)
}

func TestDeleteRemovesWorker(t *testing.T) {
	exec, ctx := newTestExecutor(t, t.TempDir())
	owned := seedComponent(t, ctx, exec)
	createWorker(t, ctx, exec, owned)

	del, err := exec.Delete(ctx, &rpc.DeleteRequest{OwnedWorkerId: owned})
	require.NoError(t, err)
	require.Nil(t, del.Failure)

	meta, err := exec.GetMetadata(ctx, &rpc.GetMetadataRequest{OwnedWorkerId: owned})
	require.NoError(t, err)
	require.NotNil(t, meta.Failure)
}

type fakeLogStream struct {
	ctx context.Context
	ch  chan *rpc.LogEvent
}

func (s *fakeLogStream) Send(event *rpc.LogEvent) error {
	s.ch <- event
	return nil
}

func (s *fakeLogStream) Context() context.Context { return s.ctx }

func TestConnectStreamsWorkerEvents(t *testing.T) {
	exec, ctx := newTestExecutor(t, t.TempDir())
	owned := seedComponent(t, ctx, exec)
	createWorker(t, ctx, exec, owned)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream := &fakeLogStream{ctx: streamCtx, ch: make(chan *rpc.LogEvent, 16)}
	done := make(chan error, 1)
	go func() {
		done <- exec.Connect(&rpc.ConnectRequest{OwnedWorkerId: owned}, stream)
	}()

	// Give the subscriber a moment to register before producing events.
	time.Sleep(50 * time.Millisecond)
	_, err := exec.InvokeAndAwait(ctx, &rpc.InvokeAndAwaitRequest{
		OwnedWorkerId: owned, FunctionName: "add", Args: []uint64{1, 2},
	})
	require.NoError(t, err)

	select {
	case event := <-stream.ch:
		require.NotEmpty(t, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no event streamed")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after hangup")
	}
}
