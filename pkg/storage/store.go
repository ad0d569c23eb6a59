// Package storage defines the four storage contracts the rest of the
// worker-executor is built on: per-worker indexed logs (the oplog's hot
// tail), flat key/value storage (promise timers, component manifests),
// content-addressed blobs (oplog cold chunks), and the component object
// store, which keeps component bytes and files in its own buckets/maps.
package storage

import "context"

// IndexedStore is a per-namespace, per-worker sorted int64-keyed append
// log. It is the storage primitive the oplog's hot tail is built on.
type IndexedStore interface {
	// Append writes value at the next index for (namespace, worker) and
	// returns the index it was written at. Indices are contiguous,
	// starting at 1, per (namespace, worker).
	Append(ctx context.Context, namespace, worker string, value []byte) (int64, error)

	// AppendBatch writes every value in one transaction at consecutive
	// indices and returns them. Either all values become visible or none
	// do.
	AppendBatch(ctx context.Context, namespace, worker string, values [][]byte) ([]int64, error)

	// Read returns up to count entries starting at (and including) from,
	// in ascending index order.
	Read(ctx context.Context, namespace, worker string, from int64, count int) ([]IndexedEntry, error)

	// First returns the lowest-indexed entry still present, or ok=false
	// if the namespace/worker has no entries (e.g. fully dropped).
	First(ctx context.Context, namespace, worker string) (entry IndexedEntry, ok bool, err error)

	// Last returns the highest-indexed entry.
	Last(ctx context.Context, namespace, worker string) (entry IndexedEntry, ok bool, err error)

	// Closest returns the entry at the smallest index >= key, or
	// ok=false if none exists.
	Closest(ctx context.Context, namespace, worker string, key int64) (entry IndexedEntry, ok bool, err error)

	// Length returns the number of entries currently stored.
	Length(ctx context.Context, namespace, worker string) (int64, error)

	// DropPrefix deletes every entry with index < upTo.
	DropPrefix(ctx context.Context, namespace, worker string, upTo int64) error

	// Scan iterates entries across all workers in a namespace whose worker
	// key contains pattern as a substring (an empty pattern matches every
	// worker), resuming from cursor, up to limit entries.
	// Returns the next cursor (empty when exhausted).
	Scan(ctx context.Context, namespace, pattern, cursor string, limit int) ([]IndexedEntry, string, error)
}

// IndexedEntry is one (index, value) pair read back from an IndexedStore.
type IndexedEntry struct {
	Worker string
	Index  int64
	Value  []byte
}

// KVStore is flat namespaced key/value storage.
type KVStore interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Delete(ctx context.Context, namespace, key string) error
	List(ctx context.Context, namespace string) (map[string][]byte, error)
}

// BlobStore is content-addressed (sha256) blob storage. Method names are
// *Blob-suffixed so a single backing type (BoltStore) can implement both
// this and KVStore without a Put/Get method-name collision.
type BlobStore interface {
	PutBlob(ctx context.Context, data []byte) (hash string, err error)
	GetBlob(ctx context.Context, hash string) ([]byte, error)
	HasBlob(ctx context.Context, hash string) (bool, error)
	DeleteBlob(ctx context.Context, hash string) error
}

// ComponentObjectStore keys component WASM bytes by (componentID, version).
type ComponentObjectStore interface {
	PutComponent(ctx context.Context, componentID string, version uint64, wasmBytes []byte) error
	GetComponent(ctx context.Context, componentID string, version uint64) ([]byte, error)
	PutFile(ctx context.Context, componentID string, version uint64, path string, data []byte) error
	GetFile(ctx context.Context, componentID string, version uint64, path string) ([]byte, error)
}
