package promise

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/golem-io/worker-executor/pkg/oplog"
	"github.com/golem-io/worker-executor/pkg/storage"
	"github.com/golem-io/worker-executor/pkg/types"
)

func newTestService() (*Service, *oplog.Factory) {
	store := storage.NewMemoryStore()
	oplogs := oplog.NewFactory(store, store, store, oplog.DefaultOptions())
	return NewService(store, oplogs), oplogs
}

func testID() ID {
	return ID{
		WorkerID: types.WorkerId{
			ComponentId: types.NewComponentId(),
			WorkerName:  "w1",
		},
		OplogIndex: 3,
	}
}

func TestCompleteWakesAwaiter(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()
	id := testID()

	require.NoError(t, s.Create(ctx, id))

	done := make(chan json.RawMessage, 1)
	go func() {
		payload, err := s.Await(ctx, id)
		require.NoError(t, err)
		done <- payload
	}()

	time.Sleep(20 * time.Millisecond) // let Await register its waiter
	already, err := s.Complete(ctx, id, []byte(`{"ok":7}`))
	require.NoError(t, err)
	require.False(t, already)

	select {
	case payload := <-done:
		require.JSONEq(t, `{"ok":7}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("Await never observed completion")
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()
	id := testID()
	require.NoError(t, s.Create(ctx, id))

	already, err := s.Complete(ctx, id, []byte(`1`))
	require.NoError(t, err)
	require.False(t, already)

	already, err = s.Complete(ctx, id, []byte(`2`))
	require.NoError(t, err)
	require.True(t, already)

	payload, err := s.Await(ctx, id)
	require.NoError(t, err)
	require.Equal(t, `1`, string(payload))
}

func TestTimerWheelFiresOverdueEntryOnStart(t *testing.T) {
	kv := storage.NewMemoryStore()
	ctx := context.Background()

	fired := make(chan string, 1)
	w := NewTimerWheel(kv, 10*time.Millisecond, func(ctx context.Context, id string, payload json.RawMessage) {
		fired <- id
	})
	require.NoError(t, w.Schedule(ctx, "sleep-1", time.Now().Add(-time.Second), []byte(`null`)))
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	select {
	case id := <-fired:
		require.Equal(t, "sleep-1", id)
	case <-time.After(time.Second):
		t.Fatal("overdue timer never fired")
	}
}

func TestTimerWheelFiresFutureEntryOnTick(t *testing.T) {
	kv := storage.NewMemoryStore()
	ctx := context.Background()

	fired := make(chan string, 1)
	w := NewTimerWheel(kv, 10*time.Millisecond, func(ctx context.Context, id string, payload json.RawMessage) {
		fired <- id
	})
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	require.NoError(t, w.Schedule(ctx, "sleep-2", time.Now().Add(30*time.Millisecond), []byte(`null`)))

	select {
	case id := <-fired:
		require.Equal(t, "sleep-2", id)
	case <-time.After(time.Second):
		t.Fatal("future timer never fired on tick")
	}
}

func TestCompleteRecordsEntryOnCreatorsOplog(t *testing.T) {
	s, oplogs := newTestService()
	ctx := context.Background()
	id := testID()
	require.NoError(t, s.Create(ctx, id))

	_, err := s.Complete(ctx, id, []byte(`{"ok":7}`))
	require.NoError(t, err)

	ol, err := oplogs.Open(ctx, id.WorkerID.String())
	require.NoError(t, err)
	entries, err := ol.Read(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, oplog.KindPromiseCompleted, entries[0].Kind)
	require.Equal(t, id.OplogIndex, entries[0].PromiseCompleted.PromiseIndex)
	require.JSONEq(t, `{"ok":7}`, string(entries[0].PromiseCompleted.Payload))
}
