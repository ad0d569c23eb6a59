// Package oplog is the durability substrate every other worker-executor
// component is built on: a per-worker, strictly-ordered, append-only log
// whose entries fully determine a worker's observable history.
//
//	hot tail (IndexedStore, namespace "OpLog")
//	  \_ compaction once > HotChunkSize entries
//	cold chunks (BlobStore, zstd-compressed, manifest in KVStore)
//
// Reads span both tiers transparently and skip any range covered by a Jump
// entry, so replay (pkg/worker) and oplog inspection RPCs (pkg/rpc) never
// need to know which tier an index physically lives in.
package oplog
