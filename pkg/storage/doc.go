/*
Package storage provides the four persistence contracts everything else in
the worker-executor builds on: IndexedStore (the oplog's hot tail),
KVStore (promise timers, component manifests), BlobStore (content-addressed
oplog cold chunks), and ComponentObjectStore (component bytes and files).

BoltStore implements all four on a single BoltDB file, one bucket per
namespace/entity-type. MemoryStore implements the same four contracts
in-memory for unit tests across the rest of the codebase.
*/
package storage
