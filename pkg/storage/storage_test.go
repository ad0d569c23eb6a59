package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexedStoreAppendIsContiguous(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 3; i++ {
		idx, err := s.Append(ctx, "oplog", "worker-1", []byte("entry"))
		require.NoError(t, err)
		require.EqualValues(t, i+1, idx)
	}

	length, err := s.Length(ctx, "oplog", "worker-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, length)
}

func TestIndexedStoreWorkersAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Append(ctx, "oplog", "a", []byte("1"))
	require.NoError(t, err)
	idx, err := s.Append(ctx, "oplog", "b", []byte("1"))
	require.NoError(t, err)
	require.EqualValues(t, 1, idx, "worker b's index sequence starts fresh")
}

func TestIndexedStoreClosest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		_, _ = s.Append(ctx, "oplog", "w", []byte("x"))
	}
	entry, ok, err := s.Closest(ctx, "oplog", "w", 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 3, entry.Index)

	_, ok, err = s.Closest(ctx, "oplog", "w", 100)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIndexedStoreDropPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		_, _ = s.Append(ctx, "oplog", "w", []byte("x"))
	}
	require.NoError(t, s.DropPrefix(ctx, "oplog", "w", 3))

	first, ok, err := s.First(ctx, "oplog", "w")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 3, first.Index)
}

func TestKVStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "timers", "k1", []byte("v1")))

	v, ok, err := s.Get(ctx, "timers", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete(ctx, "timers", "k1"))
	_, ok, err = s.Get(ctx, "timers", "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBlobStoreContentAddressed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	hash1, err := s.PutBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	hash2, err := s.PutBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, hash1, hash2, "identical content hashes to the same key")

	data, err := s.GetBlob(ctx, hash1)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestComponentObjectStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PutComponent(ctx, "comp-1", 1, []byte("wasm-bytes")))

	data, err := s.GetComponent(ctx, "comp-1", 1)
	require.NoError(t, err)
	require.Equal(t, []byte("wasm-bytes"), data)

	_, err = s.GetComponent(ctx, "comp-1", 2)
	require.Error(t, err, "a different version is not found")
}

func TestIndexedStoreAppendBatchIsAtomicAndContiguous(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.Append(ctx, "ns", "w1", []byte("a"))
	require.NoError(t, err)
	require.Equal(t, int64(1), first)

	indices, err := s.AppendBatch(ctx, "ns", "w1", [][]byte{[]byte("b"), []byte("c"), []byte("d")})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 4}, indices)

	entries, err := s.Read(ctx, "ns", "w1", 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, "d", string(entries[3].Value))
}
