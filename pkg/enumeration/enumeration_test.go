package enumeration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

func meta(name string, status types.WorkerStatus) types.WorkerMetadata {
	return types.WorkerMetadata{
		OwnedWorkerId: types.OwnedWorkerId{
			AccountId: types.AccountId{Value: "acct"},
			WorkerId:  types.WorkerId{ComponentId: types.NewComponentId(), WorkerName: name},
		},
		Status: status,
	}
}

func TestListFiltersByStatus(t *testing.T) {
	store := NewStore(storage.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, meta("a", types.WorkerStatusRunning)))
	require.NoError(t, store.Put(ctx, meta("b", types.WorkerStatusIdle)))

	scanner := NewScanner(store, nil)
	running := types.WorkerStatusRunning
	page, err := scanner.List(ctx, "", Filter{Predicate: &Predicate{Status: &running}}, 10, false)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "a", page.Items[0].OwnedWorkerId.WorkerId.WorkerName)
}

func TestListPaginatesWithCursor(t *testing.T) {
	store := NewStore(storage.NewMemoryStore())
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(ctx, meta(name, types.WorkerStatusRunning)))
	}

	scanner := NewScanner(store, nil)
	page1, err := scanner.List(ctx, "", Filter{}, 2, false)
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	require.NotEmpty(t, page1.NextCursor)

	page2, err := scanner.List(ctx, page1.NextCursor, Filter{}, 2, false)
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	require.Empty(t, page2.NextCursor)
}

type fakeResolver struct{ status types.WorkerStatus }

func (f fakeResolver) Resolve(ctx context.Context, owned types.OwnedWorkerId) (types.WorkerStatus, error) {
	return f.status, nil
}

func TestPreciseModeOverridesCachedStatus(t *testing.T) {
	store := NewStore(storage.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, meta("a", types.WorkerStatusRunning)))

	scanner := NewScanner(store, fakeResolver{status: types.WorkerStatusFailed})
	page, err := scanner.List(ctx, "", Filter{}, 10, true)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, types.WorkerStatusFailed, page.Items[0].Status)
}
