package component

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

func TestResolveCachesAfterFirstLoad(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	id := types.NewComponentId()

	require.NoError(t, store.PutComponent(ctx, id.String(), 1, []byte("wasm-bytes")))
	svc := NewService(store, store)
	require.NoError(t, svc.PutManifest(ctx, id, 1, Manifest{
		Exports: []FunctionSignature{{Name: "increment", Results: []string{"u64"}}},
	}))

	c1, err := svc.Resolve(ctx, id, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("wasm-bytes"), c1.WasmBytes)
	require.Len(t, c1.Exports, 1)

	c2, err := svc.Resolve(ctx, id, 1)
	require.NoError(t, err)
	require.Same(t, c1, c2, "resolved components should be served from cache")
}

func TestFileLoaderStagesAndHashes(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	id := types.NewComponentId()

	require.NoError(t, store.PutFile(ctx, id.String(), 1, "config.json", []byte(`{"k":1}`)))
	svc := NewService(store, store)
	require.NoError(t, svc.PutManifest(ctx, id, 1, Manifest{
		InitialFiles: []types.InitialFile{{Path: "config.json", ReadOnly: true}},
	}))

	loader := NewFileLoader(t.TempDir(), svc)
	workerID := types.WorkerId{ComponentId: id, WorkerName: "w1"}
	hash, err := loader.Stage(ctx, workerID, id, 1)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	data, err := os.ReadFile(filepath.Join(loader.WorkerRoot(workerID), "config.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"k":1}`, string(data))
}
