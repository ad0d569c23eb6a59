package host

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/types"
)

type fakePromiseBackend struct {
	created  []types.OplogIndex
	payloads map[types.OplogIndex]json.RawMessage
}

func (b *fakePromiseBackend) Create(ctx context.Context, idx types.OplogIndex) error {
	b.created = append(b.created, idx)
	return nil
}

func (b *fakePromiseBackend) Await(ctx context.Context, idx types.OplogIndex) (json.RawMessage, error) {
	return b.payloads[idx], nil
}

func TestPromiseCreateAwaitReplaysWithoutBackend(t *testing.T) {
	ctx := context.Background()
	ol := newTestOplog(t)
	workerID := testWorkerID()

	backend := &fakePromiseBackend{payloads: map[types.OplogIndex]json.RawMessage{}}
	writer := New(workerID, ol, 0)
	writer.SetPromiseBackend(backend)

	idx, err := writer.CreatePromise(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.OplogIndex{idx}, backend.created)

	backend.payloads[idx] = json.RawMessage(`{"ok":7}`)
	payload, err := writer.AwaitPromise(ctx, idx)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":7}`, string(payload))

	recorded, err := ol.Length(ctx)
	require.NoError(t, err)

	// Replay never reaches a backend: identity and payload both come from
	// the recorded entries.
	reader := New(workerID, ol, recorded)
	replayIdx, err := reader.CreatePromise(ctx)
	require.NoError(t, err)
	require.Equal(t, idx, replayIdx)

	replayPayload, err := reader.AwaitPromise(ctx, replayIdx)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":7}`, string(replayPayload))
	require.Equal(t, Live, reader.Mode())
	require.Len(t, backend.created, 1)
}
