package oplog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

func newTestOplog(t *testing.T) (Oplog, *Factory) {
	t.Helper()
	store := storage.NewMemoryStore()
	opts := Options{HotChunkSize: 4, CompressionLevel: 1}
	f := NewFactory(store, store, store, opts)
	o, err := f.Open(context.Background(), "w1")
	require.NoError(t, err)
	return o, f
}

func TestAppendAssignsContiguousIndices(t *testing.T) {
	o, _ := newTestOplog(t)
	ctx := context.Background()

	indices, err := o.Append(ctx, []Entry{
		{Kind: KindCreate, Create: &CreatePayload{ComponentVersion: 1}},
		{Kind: KindExportedFunctionInvoked, ExportedFunctionInvoked: &ExportedFunctionInvokedPayload{FunctionName: "increment"}},
	}, Immediate)
	require.NoError(t, err)
	require.Equal(t, []types.OplogIndex{1, 2}, indices)

	idx, err := o.CurrentIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, types.OplogIndex(3), idx)
}

func TestReadRoundTripsImportedFunctionInvoked(t *testing.T) {
	o, _ := newTestOplog(t)
	ctx := context.Background()

	_, err := o.Append(ctx, []Entry{
		{Kind: KindImportedFunctionInvoked, ImportedFunctionInvoked: &ImportedFunctionInvokedPayload{
			FullName:        "golem:api/host.get-random",
			RequestPayload:  []byte(`{}`),
			ResponsePayload: []byte(`42`),
			FunctionType:    ReadLocal,
		}},
	}, Immediate)
	require.NoError(t, err)

	entries, err := o.Read(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "golem:api/host.get-random", entries[0].ImportedFunctionInvoked.FullName)
	require.Equal(t, `42`, string(entries[0].ImportedFunctionInvoked.ResponsePayload))
}

func TestCompactionMovesEntriesToColdStorageTransparently(t *testing.T) {
	o, _ := newTestOplog(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := o.Append(ctx, []Entry{
			{Kind: KindLog, Log: &LogPayload{Level: "info", Message: "tick"}},
		}, Immediate)
		require.NoError(t, err)
	}

	entries, err := o.Read(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i, e := range entries {
		require.Equal(t, types.OplogIndex(i+1), e.Index)
	}
}

func TestJumpRangeIsSkippedOnRead(t *testing.T) {
	o, _ := newTestOplog(t)
	ctx := context.Background()

	_, err := o.Append(ctx, []Entry{
		{Kind: KindBeginAtomicRegion},
		{Kind: KindLog, Log: &LogPayload{Message: "inside region"}},
		{Kind: KindLog, Log: &LogPayload{Message: "also inside"}},
	}, Immediate)
	require.NoError(t, err)

	// Simulate a crash recovery: synthesize the Jump a fresh Open() would
	// have produced for the unmatched BeginAtomicRegion.
	_, err = o.Append(ctx, []Entry{
		{Kind: KindJump, Jump: &JumpPayload{Start: 1, End: 4}},
	}, Immediate)
	require.NoError(t, err)

	_, err = o.Append(ctx, []Entry{
		{Kind: KindLog, Log: &LogPayload{Message: "after recovery"}},
	}, Immediate)
	require.NoError(t, err)

	entries, err := o.Read(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "after recovery", entries[0].Log.Message)
}

func TestHealDanglingBracketsSynthesizesJumpOnReopen(t *testing.T) {
	store := storage.NewMemoryStore()
	opts := Options{HotChunkSize: 1024, CompressionLevel: 1}
	f := NewFactory(store, store, store, opts)
	ctx := context.Background()

	o, err := f.Open(ctx, "w2")
	require.NoError(t, err)
	_, err = o.Append(ctx, []Entry{
		{Kind: KindBeginRemoteWrite, BeginRemoteWrite: &BeginRemoteWritePayload{Key: "req-1"}},
		{Kind: KindLog, Log: &LogPayload{Message: "chunk-1"}},
	}, Immediate)
	require.NoError(t, err)
	// Crash: no EndRemoteWrite was ever appended.

	reopened, err := f.Open(ctx, "w2")
	require.NoError(t, err)

	entries, err := reopened.Read(ctx, 1, 0)
	require.NoError(t, err)
	require.Empty(t, entries, "dangling remote-write bracket must be covered by a synthesized Jump")
}

func TestPersistNothingAppendsNoEntry(t *testing.T) {
	o, _ := newTestOplog(t)
	ctx := context.Background()

	indices, err := o.Append(ctx, []Entry{
		{Kind: KindLog, Log: &LogPayload{Message: "scratch"}},
	}, PersistNothing)
	require.NoError(t, err)
	require.Nil(t, indices)

	idx, err := o.CurrentIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, types.OplogIndex(1), idx)
}

func TestRevertHidesEntriesAfterTarget(t *testing.T) {
	o, _ := newTestOplog(t)
	ctx := context.Background()

	_, err := o.Append(ctx, []Entry{
		{Kind: KindCreate, Create: &CreatePayload{ComponentVersion: 1}},
		{Kind: KindExportedFunctionInvoked, ExportedFunctionInvoked: &ExportedFunctionInvokedPayload{FunctionName: "step"}},
		{Kind: KindError, Error: &ErrorPayload{TrapType: "unreachable"}},
	}, Immediate)
	require.NoError(t, err)

	require.NoError(t, o.Revert(ctx, 1))

	entries, err := o.Read(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, KindCreate, entries[0].Kind)

	// New appends after the revert are visible again.
	_, err = o.Append(ctx, []Entry{
		{Kind: KindExportedFunctionInvoked, ExportedFunctionInvoked: &ExportedFunctionInvokedPayload{FunctionName: "step"}},
	}, Immediate)
	require.NoError(t, err)
	entries, err = o.Read(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRevertRejectsOutOfRangeTarget(t *testing.T) {
	o, _ := newTestOplog(t)
	ctx := context.Background()

	_, err := o.Append(ctx, []Entry{
		{Kind: KindCreate, Create: &CreatePayload{ComponentVersion: 1}},
	}, Immediate)
	require.NoError(t, err)

	require.Error(t, o.Revert(ctx, 0))
	require.Error(t, o.Revert(ctx, 1)) // nothing after the target to hide
}
