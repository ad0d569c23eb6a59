package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

func newTestOplog(t *testing.T) oplog.Oplog {
	t.Helper()
	store := storage.NewMemoryStore()
	factory := oplog.NewFactory(store, store, store, oplog.DefaultOptions())
	ol, err := factory.Open(context.Background(), "w1")
	require.NoError(t, err)
	return ol
}

func testWorkerID() types.WorkerId {
	return types.WorkerId{ComponentId: types.NewComponentId(), WorkerName: "w1"}
}

func TestDispatchLiveRecordsAndReturnsCallResult(t *testing.T) {
	ctx := context.Background()
	ol := newTestOplog(t)
	h := New(testWorkerID(), ol, 0)

	calls := 0
	v, err := h.Dispatch(ctx, "test:fn", oplog.ReadRemote, StrValue("req"), func(ctx context.Context) (Value, error) {
		calls++
		return U64Value(42), nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(42), *v.Uint)
	require.Equal(t, 1, calls)

	entries, err := ol.Read(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, oplog.KindImportedFunctionInvoked, entries[0].Kind)
	require.Equal(t, "test:fn", entries[0].ImportedFunctionInvoked.FullName)

	// Both halves of the call are recorded, not just the response.
	req, err := Decode(entries[0].ImportedFunctionInvoked.RequestPayload)
	require.NoError(t, err)
	require.Equal(t, "req", *req.Str)
}

func TestDispatchReplayServesRecordedResponseWithoutCallingLive(t *testing.T) {
	ctx := context.Background()
	ol := newTestOplog(t)
	workerID := testWorkerID()

	writer := New(workerID, ol, 0)
	_, err := writer.Dispatch(ctx, "test:fn", oplog.ReadRemote, StrValue("req"), func(ctx context.Context) (Value, error) {
		return U64Value(99), nil
	})
	require.NoError(t, err)

	reader := New(workerID, ol, 1)
	require.Equal(t, Replay, reader.Mode())

	calls := 0
	v, err := reader.Dispatch(ctx, "test:fn", oplog.ReadRemote, StrValue("req"), func(ctx context.Context) (Value, error) {
		calls++
		return U64Value(0), nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(99), *v.Uint)
	require.Equal(t, 0, calls, "replay must not invoke the live call")
	require.Equal(t, Live, reader.Mode())
}

func TestDispatchReplayTrapsOnFunctionNameMismatch(t *testing.T) {
	ctx := context.Background()
	ol := newTestOplog(t)
	workerID := testWorkerID()

	writer := New(workerID, ol, 0)
	_, err := writer.Dispatch(ctx, "test:fn", oplog.ReadRemote, StrValue("req"), func(ctx context.Context) (Value, error) {
		return U64Value(1), nil
	})
	require.NoError(t, err)

	reader := New(workerID, ol, 1)
	_, err = reader.Dispatch(ctx, "test:other-fn", oplog.ReadRemote, StrValue("req"), func(ctx context.Context) (Value, error) {
		return U64Value(0), nil
	})
	require.Error(t, err)
}

func TestPersistNothingCallsLiveButRecordsNothing(t *testing.T) {
	ctx := context.Background()
	ol := newTestOplog(t)
	h := New(testWorkerID(), ol, 1)

	err := h.WithPersistenceOverride(func() error {
		_, dispatchErr := h.Dispatch(ctx, "test:fn", oplog.ReadRemote, StrValue("req"), func(ctx context.Context) (Value, error) {
			return U64Value(5), nil
		})
		return dispatchErr
	})
	require.NoError(t, err)

	entries, err := ol.Read(ctx, 1, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBeginRemoteWriteForbiddenDuringPersistNothing(t *testing.T) {
	ctx := context.Background()
	ol := newTestOplog(t)
	h := New(testWorkerID(), ol, 1)

	err := h.WithPersistenceOverride(func() error {
		_, err := h.BeginRemoteWrite(ctx, "key")
		return err
	})
	require.Error(t, err)
}

func TestCreateAndDropResourceRoundTrip(t *testing.T) {
	ctx := context.Background()
	ol := newTestOplog(t)
	h := New(testWorkerID(), ol, 1)

	id, err := h.CreateResource(ctx, "connection", `{"host":"x"}`)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	name, params, ok := h.Describe(id)
	require.True(t, ok)
	require.Equal(t, "connection", name)
	require.Equal(t, `{"host":"x"}`, params)

	require.NoError(t, h.DropResource(ctx, id))
	_, _, ok = h.Describe(id)
	require.False(t, ok)
}

func TestRemoteWriteBracketsReplayWithoutAppending(t *testing.T) {
	ctx := context.Background()
	ol := newTestOplog(t)
	workerID := testWorkerID()

	writer := New(workerID, ol, 0)
	begin, err := writer.BeginRemoteWrite(ctx, "POST http://example/put")
	require.NoError(t, err)
	_, err = writer.Dispatch(ctx, "test:fn", oplog.WriteRemote, StrValue("req"), func(ctx context.Context) (Value, error) {
		return U64Value(1), nil
	})
	require.NoError(t, err)
	require.NoError(t, writer.EndRemoteWrite(ctx, begin))

	recorded, err := ol.Length(ctx)
	require.NoError(t, err)

	// Replaying the same guest sequence must consume the recorded bracket
	// entries rather than appending fresh ones.
	reader := New(workerID, ol, recorded)
	replayBegin, err := reader.BeginRemoteWrite(ctx, "POST http://example/put")
	require.NoError(t, err)
	require.Equal(t, begin, replayBegin)
	_, err = reader.Dispatch(ctx, "test:fn", oplog.WriteRemote, StrValue("req"), func(ctx context.Context) (Value, error) {
		t.Fatal("replay must not run the live call")
		return Value{}, nil
	})
	require.NoError(t, err)
	require.NoError(t, reader.EndRemoteWrite(ctx, replayBegin))
	require.Equal(t, Live, reader.Mode())

	after, err := ol.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, recorded, after)
}
